package input

import "time"

const (
	trackingID    = 100
	swipePressure = 50

	interKeyDelay   = time.Second
	interStepDelay  = 500 * time.Millisecond
)

// SendText types each key code in order, committing and pausing between keys
// so slow targets observe distinct keystrokes.
func SendText(w Writer, keyCodes []int32) error {
	for _, code := range keyCodes {
		if err := w.Key(code); err != nil {
			return err
		}
		if err := w.Syn(); err != nil {
			return err
		}
		time.Sleep(interKeyDelay)
	}
	return nil
}

// SendTouch presses at (x, y), holds for duration seconds and releases.
func SendTouch(w Writer, x, y, duration int32) error {
	if err := w.Tracking(trackingID); err != nil {
		return err
	}
	if err := w.PositionMT(x, y); err != nil {
		return err
	}
	if err := w.Button(1); err != nil {
		return err
	}
	if err := w.PositionAbs(x, y); err != nil {
		return err
	}
	if err := w.Syn(); err != nil {
		return err
	}

	if duration > 0 {
		time.Sleep(time.Duration(duration) * time.Second)
	}

	if err := w.Tracking(-1); err != nil {
		return err
	}
	if err := w.Button(0); err != nil {
		return err
	}
	return w.Syn()
}

func sendSwipeHeader(w Writer, major, pressure int32) error {
	if err := w.Major(major); err != nil {
		return err
	}
	return w.Pressure(pressure)
}

func sendSwipeFooter(w Writer) error {
	if err := w.Major(0); err != nil {
		return err
	}
	if err := w.Pressure(0); err != nil {
		return err
	}
	if err := w.Tracking(-1); err != nil {
		return err
	}
	if err := w.Button(0); err != nil {
		return err
	}
	return w.Syn()
}

// SendSwipe drags a contact from (x, y) to (x2, y2) in velocity steps. The
// contact size grows by one on every step, the way a real finger smears.
func SendSwipe(w Writer, x, y, x2, y2, velocity int32) error {
	stepX := (x2 - x) / velocity
	stepY := (y2 - y) / velocity

	major := int32(2)
	if err := sendSwipeHeader(w, major, swipePressure); err != nil {
		return err
	}
	if err := w.PositionMT(x, y); err != nil {
		return err
	}
	if err := w.Tracking(trackingID); err != nil {
		return err
	}
	if err := w.Button(1); err != nil {
		return err
	}
	if err := w.Syn(); err != nil {
		return err
	}

	for i := int32(0); i < velocity; i++ {
		if err := w.Major(major); err != nil {
			return err
		}
		major++
		if err := w.Pressure(swipePressure); err != nil {
			return err
		}
		if err := w.Tracking(trackingID); err != nil {
			return err
		}
		if err := w.PositionMT(x, y); err != nil {
			return err
		}
		if err := w.Syn(); err != nil {
			return err
		}
		time.Sleep(interStepDelay)
		x += stepX
		y += stepY
	}

	if err := w.Major(major); err != nil {
		return err
	}
	if err := w.Pressure(swipePressure); err != nil {
		return err
	}
	if err := w.PositionMT(x2, y2); err != nil {
		return err
	}
	return sendSwipeFooter(w)
}
