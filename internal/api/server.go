// Package api exposes the Control API HTTP surface for the orchestrator:
// a chi router, a zap-logged/panic-recovering middleware stack, and
// context-timeout-bounded handlers over the Session Controller and
// Repository.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/sessionctl"
)

const requestTimeout = 10 * time.Second

// Server wires HTTP handlers to the Session Controller, Repository, and
// Intervention Bridge.
type Server struct {
	router        chi.Router
	controller    *sessionctl.Controller
	repo          domain.Repository
	interventions *intervention.Bridge
	logger        *zap.Logger
	apiKey        string
	authEnabled   bool
}

// NewServer constructs a Server with middleware and routes registered.
func NewServer(controller *sessionctl.Controller, repo domain.Repository, interventions *intervention.Bridge,
	logger *zap.Logger, authEnabled bool, apiKey string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		controller:    controller,
		repo:          repo,
		interventions: interventions,
		logger:        logger.Named("api"),
		apiKey:        apiKey,
		authEnabled:   authEnabled,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))
	if authEnabled {
		r.Use(apiKeyMiddleware(apiKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Post("/items", s.enqueueItems)
			r.Post("/start", s.startSession)
			r.Post("/pause", s.pauseSession)
			r.Post("/resume", s.resumeSession)
			r.Post("/cancel", s.cancelSession)
			r.Post("/stop", s.stopSession)
			r.Get("/digest", s.getDigest)
			r.Post("/interventions/{application_id}/resolve", s.resolveIntervention)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	UserID     string        `json:"user_id"`
	Timezone   string        `json:"timezone"`
	Limits     domain.Limits `json:"limits"`
	EffortRef  string        `json:"effort_ref"`
	StealthRef string        `json:"stealth_ref"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	session, err := s.controller.CreateSession(ctx, req.UserID, req.Timezone, req.Limits, req.EffortRef, req.StealthRef)
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

type enqueueItemsRequest struct {
	Applications []domain.Application `json:"applications"`
}

func (s *Server) enqueueItems(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req enqueueItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Applications) == 0 {
		writeError(w, http.StatusBadRequest, "at least one application is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	for i := range req.Applications {
		req.Applications[i].SessionID = sessionID
		req.Applications[i].Status = domain.AppQueued
		if err := s.repo.CreateApplication(ctx, req.Applications[i]); err != nil {
			s.logger.Error("enqueue item failed", zap.Error(err), zap.String("job_url", req.Applications[i].JobURL))
			writeError(w, http.StatusInternalServerError, "failed to enqueue item")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": sessionID, "count": len(req.Applications)})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleOp(w, r, s.controller.Start)
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleOp(w, r, s.controller.Pause)
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleOp(w, r, s.controller.Resume)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleOp(w, r, s.controller.Cancel)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	s.runLifecycleOp(w, r, s.controller.Stop)
}

func (s *Server) runLifecycleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	sessionID := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := op(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotRunning) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("lifecycle operation failed", zap.Error(err), zap.String("session_id", sessionID))
		writeError(w, http.StatusInternalServerError, "operation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "ok"})
}

func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	digest, err := s.repo.GetDigest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "digest not available")
			return
		}
		s.logger.Error("get digest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load digest")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": digest})
}

type resolveInterventionRequest struct {
	Payload map[string]any `json:"payload"`
}

func (s *Server) resolveIntervention(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "application_id")
	var req resolveInterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.interventions.Resolve(applicationID, req.Payload) {
		writeError(w, http.StatusNotFound, "no pending intervention for application")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"application_id": applicationID, "status": "resolved"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
