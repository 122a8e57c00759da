package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/iamOgunyinka/qadx/internal/config"
	"github.com/iamOgunyinka/qadx/internal/input"
	"github.com/iamOgunyinka/qadx/internal/screen"
)

const (
	serverName     = "qadx-server"
	maxRequestBody = 50 << 20

	contentTypeJSON = "application/json"
)

// Service dispatches HTTP requests to the input and screen backends. Both
// backends are shared by every session; either may be absent, in which case
// the affected requests fail with an internal error.
type Service struct {
	cfg    *config.RuntimeConfig
	input  input.Backend
	screen screen.Screen
	router *router
}

// NewService builds the endpoint table. A route registration failure is a
// programming error and aborts the process.
func NewService(cfg *config.RuntimeConfig, in input.Backend, sc screen.Screen) *Service {
	s := &Service{cfg: cfg, input: in, screen: sc, router: newRouter()}

	endpoints := []struct {
		path    string
		handler routeHandler
		verbs   []string
	}{
		{"/move", (*requestContext).handleMove, []string{http.MethodPost}},
		{"/button", (*requestContext).handleButton, []string{http.MethodPost}},
		{"/touch", (*requestContext).handleTouch, []string{http.MethodPost}},
		{"/swipe", (*requestContext).handleSwipe, []string{http.MethodPost}},
		{"/key", (*requestContext).handleKey, []string{http.MethodPost}},
		{"/text", (*requestContext).handleText, []string{http.MethodPost}},
		{"/screen", (*requestContext).handleScreenList, []string{http.MethodGet}},
	}
	for _, ep := range endpoints {
		if err := s.router.addEndpoint(ep.path, ep.handler, ep.verbs...); err != nil {
			log.Fatalf("registering %s: %v", ep.path, err)
		}
	}
	if err := s.router.addSpecialEndpoint("/screen/{screen_number}",
		(*requestContext).handleScreenshot, http.MethodGet); err != nil {
		log.Fatalf("registering /screen/{screen_number}: %v", err)
	}
	return s
}

// requestContext carries one in-flight request through the handler chain.
type requestContext struct {
	service *Service
	w       http.ResponseWriter
	r       *http.Request
}

// ServeHTTP resolves the route table and runs the matched handler. The first
// request of a connection may instead upgrade to the WebSocket command loop.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r)
		return
	}

	log.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	ctx := &requestContext{service: s, w: w, r: r}
	target := strings.TrimRight(r.URL.Path, "/")
	if target == "" {
		ctx.notFound()
		return
	}

	if rule, ok := s.router.resolve(target); ok {
		if r.Method == http.MethodOptions {
			ctx.allowedOptions(rule.verbs)
			return
		}
		if !rule.allows(r.Method) {
			ctx.methodNotAllowed()
			return
		}
		rule.handler(ctx, r.URL.Query())
		return
	}

	if special, placeholders, ok := s.router.resolveSpecial(target); ok {
		if r.Method == http.MethodOptions {
			ctx.allowedOptions(special.verbs)
			return
		}
		if !special.allows(r.Method) {
			ctx.methodNotAllowed()
			return
		}
		query := r.URL.Query()
		for name, value := range placeholders {
			query.Set(name, value)
		}
		special.handler(ctx, query)
		return
	}

	ctx.notFound()
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// jsonError writes the error body {"message": …} with CORS headers.
func (ctx *requestContext) jsonError(status int, message string) {
	h := ctx.w.Header()
	setCORSHeaders(h)
	h.Set("Content-Type", contentTypeJSON)
	ctx.w.WriteHeader(status)
	json.NewEncoder(ctx.w).Encode(map[string]string{"message": message})
}

func (ctx *requestContext) badRequest(message string) {
	ctx.jsonError(http.StatusBadRequest, message)
}

func (ctx *requestContext) serverError(message string) {
	ctx.jsonError(http.StatusInternalServerError, message)
}

func (ctx *requestContext) notFound() {
	ctx.jsonError(http.StatusNotFound, "url not found")
}

func (ctx *requestContext) methodNotAllowed() {
	ctx.jsonError(http.StatusMethodNotAllowed, "method not allowed")
}

// allowedOptions answers an OPTIONS probe with the verb list and permissive
// caching and CORS headers.
func (ctx *requestContext) allowedOptions(verbs []string) {
	h := ctx.w.Header()
	h.Set("Allow", strings.Join(verbs, ", "))
	h.Set("Cache-Control", "max-age=604800")
	h.Set("Server", serverName)
	setCORSHeaders(h)
	ctx.w.WriteHeader(http.StatusOK)
}

// textSuccess writes a 200 text/plain body.
func (ctx *requestContext) textSuccess(text string) {
	h := ctx.w.Header()
	setCORSHeaders(h)
	h.Set("Content-Type", "text/plain")
	ctx.w.WriteHeader(http.StatusOK)
	io.WriteString(ctx.w, text)
}

const tempNameLength = 25

// sendImageFile spools the capture to a randomly named temporary file and
// streams it; the file is deleted once the response is written.
func (ctx *requestContext) sendImageFile(image *screen.ImageData) {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")[:tempNameLength]
	path := filepath.Join(os.TempDir(), base+image.Extension())

	if err := os.WriteFile(path, image.Bytes, 0o600); err != nil {
		log.Errorf("spooling screenshot: %v", err)
		ctx.serverError("Error")
		return
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		log.Errorf("reopening screenshot: %v", err)
		ctx.serverError("Error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Errorf("stat screenshot: %v", err)
		ctx.serverError("Error")
		return
	}

	h := ctx.w.Header()
	setCORSHeaders(h)
	h.Set("Server", serverName)
	h.Set("Content-Type", image.ContentType())
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	ctx.w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(ctx.w, f); err != nil {
		log.Errorf("streaming screenshot: %v", err)
	}
}

// decodeBody parses the JSON request body into an object, enforcing the
// declared content type. A body over the session limit maps to an internal
// error; everything else malformed is the client's fault.
func (ctx *requestContext) decodeBody() (map[string]any, bool) {
	contentType := ctx.r.Header.Get("Content-Type")
	if mediaType, _, _ := strings.Cut(contentType, ";"); strings.TrimSpace(mediaType) != contentTypeJSON {
		ctx.badRequest("invalid content-type")
		return nil, false
	}

	body, err := io.ReadAll(ctx.r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.serverError("body limit exceeded")
		} else {
			ctx.serverError(err.Error())
		}
		return nil, false
	}

	root, err := decodeObject(body)
	if err != nil {
		ctx.badRequest(err.Error())
		return nil, false
	}
	return root, true
}

// decodeObject parses bytes into a JSON object with numbers left undecoded,
// so integer fields can be validated exactly.
func decodeObject(data []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var root map[string]any
	if err := decoder.Decode(&root); err != nil {
		return nil, err
	}
	return root, nil
}

// intField extracts an integer member; floats and non-numbers do not count.
func intField(root map[string]any, name string) (int, bool) {
	value, ok := root[name]
	if !ok {
		return 0, false
	}
	number, ok := value.(json.Number)
	if !ok {
		return 0, false
	}
	parsed, err := strconv.ParseInt(number.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return int(parsed), true
}

// intArrayField extracts an array-of-integers member.
func intArrayField(root map[string]any, name string) ([]int32, bool) {
	value, ok := root[name]
	if !ok {
		return nil, false
	}
	items, ok := value.([]any)
	if !ok {
		return nil, false
	}
	codes := make([]int32, 0, len(items))
	for _, item := range items {
		number, ok := item.(json.Number)
		if !ok {
			return nil, false
		}
		parsed, err := strconv.ParseInt(number.String(), 10, 32)
		if err != nil {
			return nil, false
		}
		codes = append(codes, int32(parsed))
	}
	return codes, true
}
