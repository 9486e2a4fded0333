package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lingest/internal/api"
	"lingest/internal/config"
	"lingest/internal/logging"
	"lingest/internal/queue"
	"lingest/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/items", srv.handleListItems)
	mux.HandleFunc("POST /api/items", srv.handleAddItem)
	mux.HandleFunc("DELETE /api/items", srv.handleClearItems)
	mux.HandleFunc("GET /api/items/{id}", srv.handleGetItem)
	mux.HandleFunc("GET /api/items/{id}/chunks", srv.handleChunks)
	mux.HandleFunc("GET /api/items/{id}/sentences", srv.handleSentences)
	mux.HandleFunc("PATCH /api/items/{id}/sentences/{seq}", srv.handlePatchSentence)
	mux.HandleFunc("POST /api/items/{id}/sentences/{seq}/reviewed", srv.handleSentenceReviewed)
	mux.HandleFunc("DELETE /api/items/{id}/sentences/{seq}", srv.handleDeleteSentence)
	mux.HandleFunc("POST /api/items/{id}/repair", srv.handleRepair)
	mux.HandleFunc("POST /api/items/{id}/reviewed", srv.handleFinishReview)
	mux.HandleFunc("POST /api/items/{id}/reopen", srv.handleReopen)
	mux.HandleFunc("POST /api/items/{id}/export", srv.handleExport)
	mux.HandleFunc("POST /api/items/{id}/retry", srv.handleRetry)

	srv.server = &http.Server{
		Handler:           authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), mux.ServeHTTP),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	payload := api.FromHealth(status.Health)
	payload.Running = s.daemon.Running()
	payload.QueueDBPath = status.QueueDBPath
	payload.LockFilePath = status.LockFilePath
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.items.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ItemListResponse{Items: items})
}

func (s *apiServer) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req api.AddItemRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	item, err := s.daemon.items.Add(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *apiServer) handleClearItems(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.items.Clear(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	item, err := s.daemon.items.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	chunks, err := s.daemon.items.Chunks(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ChunkListResponse{Chunks: chunks})
}

func (s *apiServer) handleSentences(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sentences, err := s.daemon.items.Sentences(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SentenceListResponse{Sentences: sentences})
}

func (s *apiServer) handlePatchSentence(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.pathIDSeq(w, r)
	if !ok {
		return
	}
	var req api.SentencePatchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.daemon.items.Correct(r.Context(), id, seq, req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) handleSentenceReviewed(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.pathIDSeq(w, r)
	if !ok {
		return
	}
	reviewed := true
	var req api.ReviewedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reviewed != nil {
		reviewed = *req.Reviewed
	}
	if err := s.daemon.items.SetReviewed(r.Context(), id, seq, reviewed); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) handleDeleteSentence(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.pathIDSeq(w, r)
	if !ok {
		return
	}
	if err := s.daemon.items.DeleteSentence(r.Context(), id, seq); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) handleRepair(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req api.RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.daemon.items.Repair(r.Context(), id, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleFinishReview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.items.FinishReview(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) handleReopen(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.items.Reopen(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sentences, err := s.daemon.items.Export(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SentenceListResponse{Sentences: sentences})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.items.RetryFailed(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) pathIDSeq(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	id, ok := s.pathID(w, r)
	if !ok {
		return 0, 0, false
	}
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil || seq < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid sentence seq")
		return 0, 0, false
	}
	return id, seq, true
}

func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps classified failures to HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case queue.IsInvalidTransition(err), errors.Is(err, queue.ErrRepairPending):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
