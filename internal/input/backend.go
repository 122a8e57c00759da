package input

// Backend injects user input into the device under test. The event argument
// selects the target device: an evdev event number, or a uinput virtual
// device id (0=mouse, 1=keyboard, 2=touchscreen).
//
// Implementations must be safe for concurrent use; every session shares the
// single backend instance created at startup.
type Backend interface {
	// Move positions the pointer or touch contact at (x, y).
	Move(x, y, event int) error

	// Button presses (value=1) or releases (value=0) the touch button.
	Button(value, event int) error

	// Touch presses at (x, y), holds for duration seconds and releases.
	Touch(x, y, duration, event int) error

	// Swipe drags from (x, y) to (x2, y2) in velocity steps.
	Swipe(x, y, x2, y2, velocity, event int) error

	// Key presses and releases a single key code.
	Key(key, event int) error

	// Text types the key codes in order with a fixed inter-key delay.
	Text(keyCodes []int32, event int) error
}
