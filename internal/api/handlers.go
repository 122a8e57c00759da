package api

import (
	"errors"
	"net/url"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/iamOgunyinka/qadx/internal/device"
	"github.com/iamOgunyinka/qadx/internal/input"
)

// resolveEvent picks the target event id: an explicit "event" member wins,
// otherwise the discovered device table is consulted for the kind. Without
// either the request is rejected.
func (ctx *requestContext) resolveEvent(root map[string]any, kind device.Kind) (int, bool) {
	if id, ok := intField(root, "event"); ok {
		return id, true
	}
	if _, present := root["event"]; present {
		ctx.badRequest("event is not found")
		return 0, false
	}

	id := ctx.service.cfg.Devices.EventIDFor(kind)
	if id < 0 {
		ctx.badRequest("event is not found")
		return 0, false
	}
	return id, true
}

// finishInput converts a backend result into the client-visible response.
func (ctx *requestContext) finishInput(err error) {
	switch {
	case err == nil:
		ctx.textSuccess("OK")
	case errors.Is(err, input.ErrEventNotFound):
		ctx.badRequest("event not found")
	default:
		log.Error(err)
		ctx.serverError("Error")
	}
}

// backend returns the shared input backend.
func (ctx *requestContext) backend() (input.Backend, bool) {
	if ctx.service.input == nil {
		ctx.serverError("Error")
		return nil, false
	}
	return ctx.service.input, true
}

func (ctx *requestContext) handleMove(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	x, okX := intField(root, "x")
	y, okY := intField(root, "y")
	if !okX || !okY {
		ctx.badRequest("x/y axis or event is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindMouse)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Move(x, y, event))
}

func (ctx *requestContext) handleButton(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	value, okValue := intField(root, "value")
	if !okValue {
		ctx.badRequest("value is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindTouchscreen)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Button(value, event))
}

func (ctx *requestContext) handleTouch(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	x, okX := intField(root, "x")
	y, okY := intField(root, "y")
	duration, okDuration := intField(root, "duration")
	if !okX || !okY || !okDuration {
		ctx.badRequest("x, y or duration is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindTouchscreen)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Touch(x, y, duration, event))
}

func (ctx *requestContext) handleSwipe(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	x, okX := intField(root, "x")
	y, okY := intField(root, "y")
	x2, okX2 := intField(root, "x2")
	y2, okY2 := intField(root, "y2")
	velocity, okVelocity := intField(root, "velocity")
	if !okX || !okY || !okX2 || !okY2 || !okVelocity {
		ctx.badRequest("x, y, x2, y2, duration or velocity is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindMouse)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Swipe(x, y, x2, y2, velocity, event))
}

func (ctx *requestContext) handleKey(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	key, okKey := intField(root, "key")
	if !okKey {
		ctx.badRequest("event or value is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindKeyboard)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Key(key, event))
}

func (ctx *requestContext) handleText(url.Values) {
	root, ok := ctx.decodeBody()
	if !ok {
		return
	}

	codes, okText := intArrayField(root, "text")
	if !okText {
		ctx.badRequest("value is not found")
		return
	}

	event, ok := ctx.resolveEvent(root, device.KindKeyboard)
	if !ok {
		return
	}
	backend, ok := ctx.backend()
	if !ok {
		return
	}
	ctx.finishInput(backend.Text(codes, event))
}

func (ctx *requestContext) handleScreenList(url.Values) {
	if ctx.service.screen == nil {
		ctx.serverError("unable to create screen object")
		return
	}

	listing, err := ctx.service.screen.ListScreens()
	if err != nil {
		log.Error(err)
		ctx.serverError("Error")
		return
	}
	ctx.textSuccess(listing)
}

func (ctx *requestContext) handleScreenshot(query url.Values) {
	if ctx.service.screen == nil {
		ctx.serverError("unable to create screen object.")
		return
	}

	raw := query.Get("screen_number")
	screenID, err := strconv.Atoi(raw)
	if err != nil {
		ctx.badRequest("invalid screen id")
		return
	}

	image, err := ctx.service.screen.GrabFrameBuffer(screenID)
	if err != nil {
		log.Error(err)
		ctx.serverError("unable to get screenshot")
		return
	}
	ctx.sendImageFile(image)
}
