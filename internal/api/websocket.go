package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/iamOgunyinka/qadx/internal/device"
	"github.com/iamOgunyinka/qadx/internal/input"
)

const (
	wsReadLimit     = 1 << 20
	wsWriteDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon runs inside a trusted harness; accept any origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession runs the JSON command loop on one upgraded connection. Outbound
// messages go through an in-order queue drained by the write pump, so
// replies never interleave even when commands complete out of band.
type wsSession struct {
	service *Service
	conn    *websocket.Conn

	mu      sync.Mutex
	pending *queue.Queue
	wake    chan struct{}
	done    chan struct{}
}

// serveWebSocket takes over the socket from the HTTP session.
func (s *Service) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, http.Header{"Server": []string{serverName}})
	if err != nil {
		log.Errorf("failed to upgrade connection: %v", err)
		return
	}

	ws := &wsSession{
		service: s,
		conn:    conn,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go ws.writePump()
	ws.readLoop()
}

// readLoop consumes frames until the peer closes or errors out.
func (ws *wsSession) readLoop() {
	defer func() {
		close(ws.done)
		ws.conn.Close()
	}()

	ws.conn.SetReadLimit(wsReadLimit)
	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Errorf("websocket read: %v", err)
			} else {
				log.Info("websocket connection closed")
			}
			return
		}

		if messageType != websocket.TextMessage {
			ws.queueError("unacceptable data type sent, only text expected")
			continue
		}
		ws.interpret(data)
	}
}

// writePump drains the outbound queue in order.
func (ws *wsSession) writePump() {
	for {
		select {
		case <-ws.wake:
			for {
				ws.mu.Lock()
				if ws.pending.Length() == 0 {
					ws.mu.Unlock()
					break
				}
				message := ws.pending.Remove().([]byte)
				ws.mu.Unlock()

				ws.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				if err := ws.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Errorf("websocket write: %v", err)
					return
				}
			}
		case <-ws.done:
			return
		}
	}
}

func (ws *wsSession) queueMessage(message []byte) {
	ws.mu.Lock()
	ws.pending.Add(message)
	ws.mu.Unlock()

	select {
	case ws.wake <- struct{}{}:
	default:
	}
}

func (ws *wsSession) queueJSON(payload any) {
	message, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal websocket reply: %v", err)
		return
	}
	ws.queueMessage(message)
}

func (ws *wsSession) queueError(message string) {
	ws.queueJSON(map[string]string{"status": "error", "message": message})
}

func (ws *wsSession) queueSuccess(status string) {
	ws.queueJSON(map[string]string{"status": status})
}

// interpret decodes one command frame and runs it. Unknown types echo the
// offending frame but keep the connection open.
func (ws *wsSession) interpret(data []byte) {
	root, err := decodeObject(data)
	if err != nil {
		log.Error(err)
		ws.queueError(err.Error())
		return
	}

	rawType, ok := root["type"].(string)
	if !ok {
		ws.queueError("invalid type")
		return
	}

	switch strings.ToLower(rawType) {
	case "button":
		ws.processButton(root)
	case "touch":
		ws.processTouch(root)
	case "key":
		ws.processKey(root)
	case "text":
		ws.processText(root)
	case "screens":
		ws.processListScreens()
	case "stream":
		// reserved; framing is undefined upstream, so the command is
		// accepted and ignored
	case "swipe":
		ws.processSwipe(root)
	default:
		ws.queueJSON(map[string]string{
			"request": string(data),
			"status":  "error",
			"message": "unrecognized type in the message sent",
		})
	}
}

// resolveEvent mirrors the HTTP event resolution with the WebSocket error
// form.
func (ws *wsSession) resolveEvent(root map[string]any, kind device.Kind) (int, bool) {
	if id, ok := intField(root, "event"); ok {
		return id, true
	}
	if _, present := root["event"]; present {
		ws.queueError("event is not found")
		return 0, false
	}

	id := ws.service.cfg.Devices.EventIDFor(kind)
	if id < 0 {
		ws.queueError("event is not found")
		return 0, false
	}
	return id, true
}

// backend fetches the shared input backend.
func (ws *wsSession) backend() (input.Backend, bool) {
	if ws.service.input == nil {
		ws.queueError("input backend unavailable")
		return nil, false
	}
	return ws.service.input, true
}

func (ws *wsSession) finishInput(err error, failureMessage string) {
	switch {
	case err == nil:
		ws.queueSuccess("OK")
	case err == input.ErrEventNotFound:
		ws.queueError("event not found")
	default:
		log.Error(err)
		ws.queueError(failureMessage)
	}
}

func (ws *wsSession) processButton(root map[string]any) {
	value, ok := intField(root, "value")
	if !ok {
		ws.queueError("event or value not found")
		return
	}
	event, ok := ws.resolveEvent(root, device.KindTouchscreen)
	if !ok {
		return
	}
	backend, ok := ws.backend()
	if !ok {
		return
	}
	ws.finishInput(backend.Button(value, event), "unable to perform button op")
}

func (ws *wsSession) processTouch(root map[string]any) {
	x, okX := intField(root, "x")
	y, okY := intField(root, "y")
	duration, okDuration := intField(root, "duration")
	if !okX || !okY || !okDuration {
		ws.queueError("x, y or duration is not found")
		return
	}
	event, ok := ws.resolveEvent(root, device.KindTouchscreen)
	if !ok {
		return
	}
	backend, ok := ws.backend()
	if !ok {
		return
	}
	ws.finishInput(backend.Touch(x, y, duration, event), "unable to perform touch op")
}

func (ws *wsSession) processKey(root map[string]any) {
	key, ok := intField(root, "key")
	if !ok {
		ws.queueError("event or value is not found")
		return
	}
	event, ok := ws.resolveEvent(root, device.KindKeyboard)
	if !ok {
		return
	}
	backend, ok := ws.backend()
	if !ok {
		return
	}
	ws.finishInput(backend.Key(key, event), "unable to perform key event")
}

func (ws *wsSession) processText(root map[string]any) {
	codes, ok := intArrayField(root, "text")
	if !ok {
		ws.queueError("value is not found")
		return
	}
	event, ok := ws.resolveEvent(root, device.KindKeyboard)
	if !ok {
		return
	}
	backend, ok := ws.backend()
	if !ok {
		return
	}
	ws.finishInput(backend.Text(codes, event), "unable to perform text op")
}

func (ws *wsSession) processSwipe(root map[string]any) {
	x, okX := intField(root, "x")
	y, okY := intField(root, "y")
	x2, okX2 := intField(root, "x2")
	y2, okY2 := intField(root, "y2")
	velocity, okVelocity := intField(root, "velocity")
	if !okX || !okY || !okX2 || !okY2 || !okVelocity {
		ws.queueError("x, y, x2, y2, duration or velocity is not found")
		return
	}
	event, ok := ws.resolveEvent(root, device.KindMouse)
	if !ok {
		return
	}
	backend, ok := ws.backend()
	if !ok {
		return
	}
	ws.finishInput(backend.Swipe(x, y, x2, y2, velocity, event), "unable to perform swipe op")
}

func (ws *wsSession) processListScreens() {
	if ws.service.screen == nil {
		ws.queueError("unable to create screen object")
		return
	}
	listing, err := ws.service.screen.ListScreens()
	if err != nil {
		log.Error(err)
		ws.queueError("unable to create screen object")
		return
	}
	ws.queueSuccess(listing)
}
