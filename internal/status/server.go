// Package status serves the state of a running session over HTTP:
// Prometheus metrics, a JSON snapshot and a few playback controls.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tilawa/recite/internal/metrics"
	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Controller is the part of a session the server exposes.
type Controller interface {
	Snapshot() (session.Snapshot, error)
	CacheStats() prefetch.Stats
	RuntimeState() repeat.State
	Pause() error
	Resume() error
	Stop() error
	Retry() error
	SetRepeatConfiguration(cfg repeat.Config) error
}

// repeatRequest is the body of PUT /repeat.
type repeatRequest struct {
	Mode       repeat.Mode `json:"mode"`
	RangeStart int         `json:"range_start"`
	RangeEnd   int         `json:"range_end"`
	RepeatEach int         `json:"repeat_each"`
	PlayCount  int         `json:"play_count"`
	Delay      string      `json:"delay"`
}

func (r repeatRequest) config() (repeat.Config, error) {
	cfg := repeat.Config{
		Mode:       r.Mode,
		RangeStart: r.RangeStart,
		RangeEnd:   r.RangeEnd,
		RepeatEach: r.RepeatEach,
		PlayCount:  r.PlayCount,
	}
	if r.Delay != "" {
		d, err := time.ParseDuration(r.Delay)
		if err != nil {
			return cfg, &repeat.ConfigError{Field: "delay", Reason: "is not a duration"}
		}
		cfg.Delay = d
	}
	if cfg.PlayCount == 0 {
		cfg.PlayCount = 1
	}
	if cfg.RepeatEach == 0 {
		cfg.RepeatEach = 1
	}
	return cfg, nil
}

type handler struct {
	ctl Controller
	log *log.Logger
}

// NewHandler returns the HTTP routes for ctl.
func NewHandler(ctl Controller, m *metrics.Metrics, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{ctl: ctl, log: logger.WithPrefix("status")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		st := ctl.CacheStats()
		m.CacheSize(st.Count, st.TotalBytes)
		m.Handler().ServeHTTP(w, r)
	})
	r.Get("/state", h.state)
	r.Get("/cache", h.cache)
	r.Put("/repeat", h.setRepeat)
	r.Route("/playback", func(r chi.Router) {
		r.Post("/pause", h.command(ctl.Pause))
		r.Post("/resume", h.command(ctl.Resume))
		r.Post("/stop", h.command(ctl.Stop))
		r.Post("/retry", h.command(ctl.Retry))
	})
	return r
}

func (h *handler) state(w http.ResponseWriter, _ *http.Request) {
	snap, err := h.ctl.Snapshot()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) cache(w http.ResponseWriter, _ *http.Request) {
	st := h.ctl.CacheStats()
	writeJSON(w, http.StatusOK, struct {
		prefetch.Stats
		HitRate float64 `json:"hit_rate"`
	}{st, st.HitRate()})
}

func (h *handler) setRepeat(w http.ResponseWriter, r *http.Request) {
	var req repeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid repeat body", "err", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	cfg, err := req.config()
	if err == nil {
		err = h.ctl.SetRepeatConfiguration(cfg)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.RuntimeState())
}

func (h *handler) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repeat.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, playback.ErrInvalidTransition), errors.Is(err, playback.ErrNoVerse):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, playback.ErrTransport):
		status = http.StatusBadGateway
	default:
		h.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the status handler on a listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *log.Logger
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, handler http.Handler, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: logger.WithPrefix("status"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve handles requests in the background until Shutdown.
func (s *Server) Serve() {
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", "err", err)
		}
	}()
	s.log.Info("status server listening", "addr", s.Addr())
}

// Shutdown drains open connections.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
