package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llavad/internal/events"
	"llavad/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() types.ModelsResponse
	StartDownload(id string) (types.DownloadJob, error)
	Downloads() types.DownloadsResponse
	SelectModel(ctx context.Context, id string) (types.SelectResponse, error)
	SubmitTurn(ctx context.Context, text string, image []byte) (types.TurnResponse, error)
	ResetSession(ctx context.Context) error
	SessionState() types.SessionResponse
	Status(ctx context.Context) types.StatusResponse
	Ready() bool
	Subscribe() (<-chan events.Event, func())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(corsMiddleware())
	}
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Models())
	})

	r.Post("/models/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.StartDownload(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	})

	r.Get("/downloads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Downloads())
	})

	r.Post("/models/{id}/select", func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "select")
		ctx, cancel := handlerContext(r, 0)
		defer cancel()
		resp, err := svc.SelectModel(ctx, chi.URLParam(r, "id"))
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			logEnd(r, lvl, "select", writeError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logEnd(r, lvl, "select", http.StatusOK, start, nil)
	})

	r.Post("/session/turns", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		var image []byte
		if req.ImageBase64 != "" {
			b, err := base64.StdEncoding.DecodeString(req.ImageBase64)
			if err != nil || len(b) == 0 {
				writeJSONError(w, http.StatusBadRequest, "image_base64 is not valid base64")
				return
			}
			image = b
			turnImageBytes.Observe(float64(len(b)))
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		logStart(r, lvl, "turn")
		ctx, cancel := handlerContext(r, turnTimeout)
		defer cancel()
		resp, err := svc.SubmitTurn(ctx, req.Text, image)
		if err != nil {
			// Client went away or the server is shutting down.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			logEnd(r, lvl, "turn", writeError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logEnd(r, lvl, "turn", http.StatusOK, start, nil)
	})

	r.Post("/session/reset", func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := handlerContext(r, 0)
		defer cancel()
		if err := svc.ResetSession(ctx); err != nil {
			if r.Context().Err() != nil {
				return
			}
			logEnd(r, lvl, "reset", writeError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.SessionState())
		logEnd(r, lvl, "reset", http.StatusOK, start, nil)
	})

	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.SessionState())
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		serveEvents(w, r, svc)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}
