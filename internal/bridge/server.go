package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/ble/ota"
)

// PingInterval is how often idle WebSocket clients are pinged.
const PingInterval = 20 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Health is reported by GET /healthz.
type Health struct {
	Connected   bool   `json:"connected"`
	Device      string `json:"device,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Subscribers int    `json:"subscribers"`
}

// Uploader runs a firmware upload on the connected peripheral.
type Uploader interface {
	UploadFirmware(ctx context.Context, name string, image []byte, onProgress func(int)) (bool, error)
}

// UploadResult is the response body of POST /ota.
type UploadResult struct {
	Success bool   `json:"success"`
	Size    int    `json:"size"`
	Error   string `json:"error,omitempty"`
}

// Server exposes the event bus over HTTP.
type Server struct {
	bus       *EventBus
	health    func() Health
	uploader  Uploader
	uploading atomic.Bool
}

// NewHandler wires the bridge routes. health and uploader may be nil; without
// an uploader POST /ota is not registered.
//
//	GET  /events   WebSocket event stream
//	GET  /healthz  session summary
//	POST /ota      firmware image body, progress published as ota_progress events
func NewHandler(bus *EventBus, health func() Health, uploader Uploader) http.Handler {
	s := &Server{bus: bus, health: health, uploader: uploader}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.eventStream)
	mux.HandleFunc("GET /healthz", s.healthz)
	if uploader != nil {
		mux.HandleFunc("POST /ota", s.upload)
	}
	return withLogging(mux)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if !s.uploading.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, UploadResult{Error: "an upload is already running"})
		return
	}
	defer s.uploading.Store(false)

	image, err := io.ReadAll(io.LimitReader(r.Body, ota.MaxImageSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, UploadResult{Error: err.Error()})
		return
	}
	if err := ota.Check(image); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ota.ErrImageTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, code, UploadResult{Size: len(image), Error: err.Error()})
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.bin"
	}
	slog.Info("[BRIDGE] firmware upload", "name", name, "size", len(image))

	ok, err := s.uploader.UploadFirmware(r.Context(), name, image, ProgressFunc(s.bus))
	res := UploadResult{Success: ok, Size: len(image)}
	switch {
	case errors.Is(err, ble.ErrNotConnected):
		res.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, res)
	case err != nil:
		res.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, res)
	case !ok:
		res.Error = "device rejected image"
		writeJSON(w, http.StatusUnprocessableEntity, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	var h Health
	if s.health != nil {
		h = s.health()
	}
	h.Subscribers = s.bus.Len()
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[BRIDGE] ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	// Drain client frames so close and pong control messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				slog.Debug("[BRIDGE] ws write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[BRIDGE] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("[BRIDGE] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("bridge: response writer does not support hijacking")
	}
	rw.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
