// Package httpapi exposes the daemon's HTTP surface to the chat UI: token
// streaming on /infer plus registry, status, health and metrics endpoints.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer. The scheduler
// implements it.
type Service interface {
	ListBackends() []types.Backend
	Status() types.StatusResponse
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	Ready() bool
}

// Options carries HTTP-layer configuration.
type Options struct {
	Logger zerolog.Logger
	// AllowedOrigins for the browser UI; empty disables CORS.
	AllowedOrigins []string
	// MaxBodyBytes bounds /infer request bodies. Default 1 MiB.
	MaxBodyBytes int64
}

func NewMux(svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	log := opts.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/backends", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.BackendsResponse{Backends: svc.ListBackends()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response", "")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response", "")
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "not ready", "")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes)
		var req types.InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required", "")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required", "")
			return
		}

		serveErr := func(err error) {
			status, msg := mapServiceError(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("admission")
			}
			log.Error().
				Str("backend", req.Model).
				Int("status", status).
				Err(err).
				Msg("infer failed")
			writeJSONError(w, status, msg, req.Model)
		}

		if req.Stream {
			w.Header().Set("Content-Type", "application/x-ndjson")
			var flush func()
			if f, ok := w.(http.Flusher); ok {
				flush = f.Flush
			}
			if err := svc.Infer(r.Context(), req, w, flush); err != nil {
				// Headers may already be gone once streaming started; the
				// error line is all we can still deliver then.
				serveErr(err)
			}
			return
		}

		// Non-streaming: collect the token stream and answer with one body.
		var buf bytes.Buffer
		if err := svc.Infer(r.Context(), req, &buf, nil); err != nil {
			serveErr(err)
			return
		}
		resp, err := collectCompletion(&buf)
		if err != nil {
			serveErr(err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("encode completion")
		}
	})

	return r
}

// collectCompletion folds a buffered NDJSON token stream into one completion.
func collectCompletion(r io.Reader) (types.CompletionResponse, error) {
	var out types.CompletionResponse
	var text strings.Builder
	dec := json.NewDecoder(r)
	for {
		var c types.TokenChunk
		if err := dec.Decode(&c); err == io.EOF {
			break
		} else if err != nil {
			return out, err
		}
		text.WriteString(c.Token)
		if c.Done {
			out.FinishReason = c.FinishReason
		}
	}
	out.Text = text.String()
	return out, nil
}
