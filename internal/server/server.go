// Package server exposes the anonymization pipeline over a small HTTP API.
//
// Endpoints:
//
//	GET  /status           - health, uptime, detector settings
//	GET  /metrics          - pipeline counters and latencies
//	POST /anonymize        - {"text":"..."} or {"json":{...}} → session, redacted text, mapping
//	POST /restore          - {"sessionId":"...","text":"..."} → original text
//	POST /sessions/delete  - {"sessionId":"..."}
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/config"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/mapper"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/report"
	"text-anonymizer/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	svc       *anonymizer.Service
	store     store.MappingStore
	log       *logger.Logger
	metrics   *metrics.Metrics // nil = no metrics
	startTime time.Time
	token     string // bearer token for auth; empty = no auth
	useNER    bool
}

// New creates a server around svc. st must be the store svc persists to.
func New(cfg *config.Config, svc *anonymizer.Service, st store.MappingStore, useNER bool, log *logger.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		store:     st,
		log:       log,
		metrics:   m,
		startTime: time.Now(),
		token:     cfg.APIToken,
		useNER:    useNER,
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/anonymize", s.handleAnonymize)
	mux.HandleFunc("/restore", s.handleRestore)
	mux.HandleFunc("/sessions/delete", s.handleDeleteSession)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status          string         `json:"status"`
		Uptime          string         `json:"uptime"`
		SupportedLabels []entity.Label `json:"supportedLabels"`
		Ollama          struct {
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
			Enabled  bool   `json:"enabled"`
		} `json:"ollama"`
	}

	resp := response{
		Status:          "running",
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		SupportedLabels: s.cfg.Labels().Sorted(),
	}
	resp.Ollama.Endpoint = s.cfg.OllamaEndpoint
	resp.Ollama.Model = s.cfg.OllamaModel
	resp.Ollama.Enabled = s.useNER

	writeJSON(w, http.StatusOK, resp, s.log)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot(), s.log)
}

// decode reads a JSON body of at most cfg.MaxRequestBytes into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

type anonymizeRequest struct {
	Text string          `json:"text"`
	JSON json.RawMessage `json:"json,omitempty"`
}

type anonymizeResponse struct {
	SessionID  string            `json:"sessionId"`
	Text       string            `json:"text,omitempty"`
	JSON       json.RawMessage   `json:"json,omitempty"`
	Entities   []entity.Span     `json:"entities"`
	Mapping    []mapper.Pair     `json:"mapping"`
	Statistics report.Statistics `json:"statistics"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req anonymizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		res *anonymizer.Result
		err error
	)
	if len(req.JSON) > 0 {
		res, err = s.svc.ProcessJSON(r.Context(), req.JSON)
	} else {
		res, err = s.svc.Process(r.Context(), req.Text)
	}
	if err != nil {
		s.fail(w, "anonymize", err)
		return
	}

	resp := anonymizeResponse{
		SessionID:  res.SessionID,
		Entities:   res.Entities,
		Mapping:    res.Pairs,
		Statistics: res.Stats,
	}
	if len(req.JSON) > 0 {
		resp.JSON = json.RawMessage(res.Text)
	} else {
		resp.Text = res.Text
	}
	writeJSON(w, http.StatusOK, resp, s.log)
}

type restoreRequest struct {
	SessionID string          `json:"sessionId"`
	Text      string          `json:"text"`
	JSON      json.RawMessage `json:"json,omitempty"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		http.Error(w, `invalid request: need {"sessionId":"..."}`, http.StatusBadRequest)
		return
	}

	if len(req.JSON) > 0 {
		restored, err := s.svc.RestoreJSON(req.SessionID, req.JSON)
		if err != nil {
			s.fail(w, "restore", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"json": json.RawMessage(restored)}, s.log)
		return
	}
	restored, err := s.svc.Restore(req.SessionID, req.Text)
	if err != nil {
		s.fail(w, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": restored}, s.log)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		http.Error(w, `invalid request: need {"sessionId":"..."}`, http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(req.SessionID); err != nil {
		s.fail(w, "delete_session", err)
		return
	}
	s.log.Infof("delete_session", "deleted session %s", req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": req.SessionID}, s.log)
}

// fail maps pipeline errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, mapper.ErrPlaceholderExhausted):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	s.log.Warnf(action, "%v", err)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write_json", "JSON encode error: %v", err)
	}
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Infof("listen", "listening on %s", addr)

	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutdown", "shutting down")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
}
