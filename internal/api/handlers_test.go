package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/iamOgunyinka/qadx/internal/config"
	"github.com/iamOgunyinka/qadx/internal/device"
	"github.com/iamOgunyinka/qadx/internal/input"
	"github.com/iamOgunyinka/qadx/internal/screen"
)

// fakeBackend records every injection call.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeBackend) record(format string, args ...any) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
	return f.err
}

func (f *fakeBackend) Move(x, y, event int) error { return f.record("move(%d,%d,%d)", x, y, event) }
func (f *fakeBackend) Button(value, event int) error {
	return f.record("button(%d,%d)", value, event)
}
func (f *fakeBackend) Touch(x, y, duration, event int) error {
	return f.record("touch(%d,%d,%d,%d)", x, y, duration, event)
}
func (f *fakeBackend) Swipe(x, y, x2, y2, velocity, event int) error {
	return f.record("swipe(%d,%d,%d,%d,%d,%d)", x, y, x2, y2, velocity, event)
}
func (f *fakeBackend) Key(key, event int) error { return f.record("key(%d,%d)", key, event) }
func (f *fakeBackend) Text(codes []int32, event int) error {
	return f.record("text(%v,%d)", codes, event)
}

func (f *fakeBackend) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

// fakeScreen serves canned capture results.
type fakeScreen struct {
	listing   string
	image     *screen.ImageData
	err       error
	grabbedID int
}

func (f *fakeScreen) ListScreens() (string, error) {
	return f.listing, f.err
}

func (f *fakeScreen) GrabFrameBuffer(screenID int) (*screen.ImageData, error) {
	f.grabbedID = screenID
	if f.err != nil {
		return nil, f.err
	}
	return f.image, nil
}

func newTestService(backend input.Backend, sc screen.Screen) *Service {
	cfg := &config.RuntimeConfig{
		Port:    config.DefaultPort,
		Devices: device.UinputDevices(),
	}
	return NewService(cfg, backend, sc)
}

func postJSON(service *Service, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return body["message"]
}

func TestButtonDispatch(t *testing.T) {
	backend := &fakeBackend{}
	service := newTestService(backend, nil)

	w := postJSON(service, "/button", `{"event":2,"value":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	if w.Body.String() != "OK" {
		t.Errorf("body = %q, want \"OK\"", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if got := backend.lastCall(); got != "button(1,2)" {
		t.Errorf("backend call = %q, want button(1,2)", got)
	}
}

// TestRouteDeterminism dispatches through trailing slashes and query strings.
func TestRouteDeterminism(t *testing.T) {
	backend := &fakeBackend{}
	service := newTestService(backend, nil)

	for _, target := range []string{"/touch", "/touch/", "/touch?x=1"} {
		w := postJSON(service, target, `{"x":5,"y":6,"duration":0,"event":2}`)
		if w.Code != http.StatusOK {
			t.Errorf("POST %s status = %d, want 200", target, w.Code)
		}
		if got := backend.lastCall(); got != "touch(5,6,0,2)" {
			t.Errorf("POST %s backend call = %q, want touch(5,6,0,2)", target, got)
		}
	}
}

func TestOptionsNegotiation(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/move", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if allow := w.Header().Get("Allow"); allow != "POST" {
		t.Errorf("Allow = %q, want POST", allow)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", origin)
	}
	if cache := w.Header().Get("Cache-Control"); cache != "max-age=604800" {
		t.Errorf("Cache-Control = %q, want max-age=604800", cache)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/move", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if msg := errorMessage(t, w); msg != "method not allowed" {
		t.Errorf("message = %q, want \"method not allowed\"", msg)
	}
}

func TestUnknownRoute(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/nothing/here", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if msg := errorMessage(t, w); msg != "url not found" {
		t.Errorf("message = %q, want \"url not found\"", msg)
	}
}

func TestContentTypeEnforced(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/move", strings.NewReader(`{"x":1,"y":2}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := errorMessage(t, w); msg != "invalid content-type" {
		t.Errorf("message = %q, want \"invalid content-type\"", msg)
	}
}

func TestMissingFields(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	cases := []struct {
		target  string
		body    string
		message string
	}{
		{"/move", `{"x":1}`, "x/y axis or event is not found"},
		{"/button", `{}`, "value is not found"},
		{"/touch", `{"x":1,"y":2}`, "x, y or duration is not found"},
		{"/swipe", `{"x":1,"y":2}`, "x, y, x2, y2, duration or velocity is not found"},
		{"/key", `{}`, "event or value is not found"},
		{"/text", `{}`, "value is not found"},
		{"/move", `{"x":1.5,"y":2}`, "x/y axis or event is not found"},
	}
	for _, c := range cases {
		w := postJSON(service, c.target, c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST %s %s status = %d, want 400", c.target, c.body, w.Code)
			continue
		}
		if msg := errorMessage(t, w); msg != c.message {
			t.Errorf("POST %s %s message = %q, want %q", c.target, c.body, msg, c.message)
		}
	}
}

func TestEventResolutionWithoutTable(t *testing.T) {
	cfg := &config.RuntimeConfig{Port: config.DefaultPort}
	service := NewService(cfg, &fakeBackend{}, nil)

	w := postJSON(service, "/key", `{"key":30}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := errorMessage(t, w); msg != "event is not found" {
		t.Errorf("message = %q, want \"event is not found\"", msg)
	}
}

func TestEventResolutionFromTable(t *testing.T) {
	backend := &fakeBackend{}
	service := newTestService(backend, nil)

	w := postJSON(service, "/key", `{"key":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	if got := backend.lastCall(); got != "key(30,1)" {
		t.Errorf("backend call = %q, want key(30,1): the keyboard kind maps to event 1", got)
	}
}

func TestBackendFailureMapsTo500(t *testing.T) {
	backend := &fakeBackend{err: errors.New("write input event: broken pipe")}
	service := newTestService(backend, nil)

	w := postJSON(service, "/move", `{"x":1,"y":2,"event":0}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if msg := errorMessage(t, w); msg != "Error" {
		t.Errorf("message = %q, want \"Error\"", msg)
	}
}

func TestUnknownEventMapsTo400(t *testing.T) {
	backend := &fakeBackend{err: input.ErrEventNotFound}
	service := newTestService(backend, nil)

	w := postJSON(service, "/move", `{"x":1,"y":2,"event":9}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := errorMessage(t, w); msg != "event not found" {
		t.Errorf("message = %q, want \"event not found\"", msg)
	}
}

func TestScreenList(t *testing.T) {
	sc := &fakeScreen{listing: "CRTC: ID=42, mode_valid=1\n"}
	service := newTestService(&fakeBackend{}, sc)

	req := httptest.NewRequest(http.MethodGet, "/screen", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if body := w.Body.String(); body != "CRTC: ID=42, mode_valid=1\n" {
		t.Errorf("body = %q, want the CRTC line", body)
	}
}

func TestScreenshotStreamsImage(t *testing.T) {
	pngBytes := []byte("\x89PNG\r\n\x1a\nfake image payload")
	sc := &fakeScreen{image: &screen.ImageData{Bytes: pngBytes, Encoding: screen.EncodingPNG}}
	service := newTestService(&fakeBackend{}, sc)

	req := httptest.NewRequest(http.MethodGet, "/screen/42", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	if sc.grabbedID != 42 {
		t.Errorf("grabbed screen id = %d, want 42", sc.grabbedID)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Errorf("body differs from the encoded capture")
	}
}

func TestScreenshotInvalidID(t *testing.T) {
	sc := &fakeScreen{}
	service := newTestService(&fakeBackend{}, sc)

	req := httptest.NewRequest(http.MethodGet, "/screen/abc", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if msg := errorMessage(t, w); msg != "invalid screen id" {
		t.Errorf("message = %q, want \"invalid screen id\"", msg)
	}
}

func TestScreenBackendAbsent(t *testing.T) {
	service := newTestService(&fakeBackend{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/screen", nil)
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if msg := errorMessage(t, w); msg != "unable to create screen object" {
		t.Errorf("message = %q, want \"unable to create screen object\"", msg)
	}
}

// TestKeepAliveReusesConnection issues several requests over one client
// connection and asserts the server accepted exactly one socket.
func TestKeepAliveReusesConnection(t *testing.T) {
	backend := &fakeBackend{}
	service := newTestService(backend, nil)

	var mu sync.Mutex
	accepted := 0
	server := httptest.NewUnstartedServer(service)
	server.Config.ConnState = func(conn net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			accepted++
			mu.Unlock()
		}
	}
	server.Start()
	defer server.Close()

	client := server.Client()
	for i := 0; i < 3; i++ {
		resp, err := client.Post(server.URL+"/button", "application/json",
			strings.NewReader(`{"event":2,"value":1}`))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		// The transport only reuses a connection whose body was read to EOF.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if accepted != 1 {
		t.Errorf("server accepted %d connections, want 1", accepted)
	}
}

// repeatReader yields an endless run of one byte.
type repeatReader byte

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

// TestBodyLimitEnforced posts a body past the 50 MiB cap.
func TestBodyLimitEnforced(t *testing.T) {
	if testing.Short() {
		t.Skip("streams 50 MiB through the handler")
	}
	service := newTestService(&fakeBackend{}, nil)

	body := io.LimitReader(repeatReader('x'), maxRequestBody+10)
	req := httptest.NewRequest(http.MethodPost, "/touch", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
