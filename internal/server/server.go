// Package server hosts the HTTP surface: the MCP endpoint plus a small
// control API for sessions, in-flight calls, and call history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/webbridge/webbridge/internal/config"
	"github.com/webbridge/webbridge/internal/dispatch"
	"github.com/webbridge/webbridge/internal/history"
	"github.com/webbridge/webbridge/internal/session"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// Server wires the transport pieces together.
type Server struct {
	cfg        *config.Resolved
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	hist       *history.Store
	mcpHandler http.Handler
	log        *slog.Logger
}

// New builds the server. mcpHandler is mounted at /mcp; hist may be nil.
func New(cfg *config.Resolved, sessions *session.Manager, dispatcher *dispatch.Dispatcher, hist *history.Store, mcpHandler http.Handler) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		hist:       hist,
		mcpHandler: mcpHandler,
		log:        slog.Default().With("component", "server"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if err := checkPortAvailable(addr); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.router(),
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	if s.mcpHandler != nil {
		r.Handle("/mcp", s.mcpHandler)
		r.Handle("/mcp/*", s.mcpHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCloseSession)
		r.Get("/sessions/{id}/history", s.handleSessionHistory)

		r.Post("/calls", s.handleCall)
		r.Get("/calls", s.handlePendingCalls)
		r.Delete("/calls/{requestID}", s.handleCancelCall)

		r.Get("/history", s.handleHistory)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfileDir string `json:"profileDir"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.sessions.Create(r.Context(), req.ProfileDir)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session.Info{
		ID:         sess.ID,
		State:      sess.State(),
		ProfileDir: sess.ProfileDir,
		CreatedAt:  sess.CreatedAt,
		LastUsed:   sess.LastUsed(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.List()
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Info{
		ID:         sess.ID,
		State:      sess.State(),
		ProfileDir: sess.ProfileDir,
		CreatedAt:  sess.CreatedAt,
		LastUsed:   sess.LastUsed(),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Record{})
		return
	}
	records, err := s.hist.BySession(chi.URLParam(r, "id"), 100)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string          `json:"requestId"`
		Tool      string          `json:"tool"`
		Params    json.RawMessage `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dispatch.Call{
		RequestID: req.RequestID,
		Tool:      req.Tool,
		Params:    req.Params,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"text": res.Text}
	if len(res.Image) > 0 {
		resp["image"] = res.Image // encoding/json base64-encodes []byte
		resp["mime"] = res.MIME
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePendingCalls(w http.ResponseWriter, r *http.Request) {
	ids := s.dispatcher.Pending()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Cancel(chi.URLParam(r, "requestID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Record{})
		return
	}
	records, err := s.hist.Recent(100)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return toolerr.Wrap(toolerr.KindProtocol, err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := toolerr.KindOf(err)
	writeJSON(w, statusFor(kind), map[string]any{
		"error": map[string]string{
			"kind":    string(kind),
			"message": err.Error(),
		},
	})
}

func statusFor(kind toolerr.Kind) int {
	switch kind {
	case toolerr.KindInvalidToolCall, toolerr.KindInvalidURL, toolerr.KindStaleReference, toolerr.KindProtocol:
		return http.StatusBadRequest
	case toolerr.KindUnknownSession:
		return http.StatusNotFound
	case toolerr.KindNavigationTimeout, toolerr.KindOperationTimeout:
		return http.StatusGatewayTimeout
	case toolerr.KindElementNotInteractable, toolerr.KindCanceled:
		return http.StatusConflict
	case toolerr.KindEngineLaunch, toolerr.KindEngineFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// checkPortAvailable binds the address briefly before the real server
// does, so a busy port fails fast with a clear error.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return toolerr.Wrap(toolerr.KindPortInUse, err, "address %s is already in use", addr)
	}
	ln.Close()
	return nil
}
