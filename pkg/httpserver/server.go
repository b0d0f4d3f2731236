// Package httpserver exposes a chunk store over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkstore/internal/chunkstore"
)

// Server holds the HTTP server dependencies
type Server struct {
	store *chunkstore.Store
	log   *logrus.Entry
}

// New creates a Server for store.
func New(store *chunkstore.Store, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{store: store, log: log.WithField("component", "http")}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.HealthCheck)
	r.Route("/chunks", func(r chi.Router) {
		r.Get("/{index}", s.GetChunk)
		r.Put("/{index}", s.PutChunk)
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HealthCheck handles GET /healthz
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	st := s.store.State()
	if st != chunkstore.StateReady && st != chunkstore.StateOpening {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"store":        s.store.Name(),
		"state":        st.String(),
		"chunk_length": s.store.ChunkLength(),
	})
}

// GetChunk handles GET /chunks/{index}
// Supports query params: ?offset=N and ?length=N to read part of the chunk.
func (s *Server) GetChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid chunk index", http.StatusBadRequest)
		return
	}

	var opts *chunkstore.ReadOptions
	query := r.URL.Query()
	if query.Has("offset") || query.Has("length") {
		opts = &chunkstore.ReadOptions{}
		if opts.Offset, err = intParam(query.Get("offset")); err != nil {
			http.Error(w, "invalid offset parameter", http.StatusBadRequest)
			return
		}
		if opts.Length, err = intParam(query.Get("length")); err != nil {
			http.Error(w, "invalid length parameter", http.StatusBadRequest)
			return
		}
	}

	data, err := s.store.GetSync(r.Context(), index, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PutChunk handles PUT /chunks/{index}
// The body must be exactly one chunk long.
func (s *Server) PutChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid chunk index", http.StatusBadRequest)
		return
	}

	// One extra byte lets an oversized body reach the length check.
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.store.ChunkLength())+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.PutSync(r.Context(), index, body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// StatusFor maps a store error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chunkstore.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, chunkstore.ErrInvalidChunkLength):
		return http.StatusBadRequest
	case errors.Is(err, chunkstore.ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, chunkstore.ErrStorageClosed), errors.Is(err, chunkstore.ErrBackendOpenFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, chunkstore.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("chunk request failed")
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
