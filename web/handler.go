package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"node.town/parley/session"
)

// Controller is the part of a session the status server may drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	State() session.State
}

type StatusSource interface {
	Status() session.Status
}

type Handler struct {
	router chi.Router
	ctrl   Controller
	status StatusSource
	logger *log.Logger
}

func NewHandler(
	ctrl Controller,
	status StatusSource,
	gatherer prometheus.Gatherer,
	logger *log.Logger,
) *Handler {
	h := &Handler{ctrl: ctrl, status: status, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/status", h.handleStatus)
	r.Post("/session/start", h.handleStart)
	r.Post("/session/stop", h.handleStop)
	r.Method(
		http.MethodGet,
		"/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug(
			"request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
		)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Start(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Stop(); err != nil {
		h.logger.Warn("stop", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]any{
			"state": h.ctrl.State(),
			"error": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, h.status.Status())
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var se *session.Error
	if errors.As(err, &se) {
		resp.Kind = se.Kind.String()
		switch se.Kind {
		case session.ConfigError:
			status = http.StatusUnprocessableEntity
		case session.ConnectionError:
			status = http.StatusBadGateway
		case session.DeviceError:
			status = http.StatusServiceUnavailable
		}
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

// Serve runs the handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("http", "url", "http://"+addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
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
