// Package httplink carries the companion protocol over HTTP: the authority
// mounts a message endpoint plus a context-push slot, and the companion
// side implements transport.Link against it with a reachability prober.
package httplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/claude/liftsync/internal/wire"
	"github.com/go-chi/chi/v5"
)

// Handler processes one companion request and returns the reply envelope.
type Handler func(ctx context.Context, msg wire.Message) wire.Message

// Server is the authority-side HTTP endpoint. It also implements
// authority.ContextSink: pushed context is held until the companion
// consumes it, each push superseding the last.
type Server struct {
	handle Handler
	log    *slog.Logger
	apiKey string
	router chi.Router

	mu      sync.Mutex
	pending *wire.Message
}

// NewServer creates a Server with all routes configured.
func NewServer(handle Handler, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		handle: handle,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		r.Post("/message", s.handleMessage)
		r.Get("/context", s.handleContext)
		r.Get("/ping", s.handlePing)
	})
}

// PushContext stores the latest snapshot for unsolicited delivery. It
// implements authority.ContextSink.
func (s *Server) PushContext(msg wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &msg
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading body: " + err.Error()})
		return
	}

	msg, err := wire.ParseMessage(body)
	if err != nil {
		// Unknown or missing kinds are dropped with a diagnostic, not
		// treated as an application error.
		var uk *wire.UnknownKindError
		if errors.As(err, &uk) {
			s.log.Warn("dropping message with unknown kind", "kind", uk.Kind)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !msg.Kind.IsRequest() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a request kind: " + string(msg.Kind)})
		return
	}

	reply := s.handle(r.Context(), msg)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
