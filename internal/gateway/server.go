package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/service"
	"github.com/aleck31/aibox/pkg/models"
)

// Server is the HTTP gateway over the chat and agent services.
type Server struct {
	chat   *service.ChatService
	agents *service.AgentService
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the gateway listening on addr.
func NewServer(addr string, chat *service.ChatService, agents *service.AgentService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chat:   chat,
		agents: agents,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /v1/agent/stream", s.handleAgentStream)
	mux.HandleFunc("POST /v1/agent/clear", s.handleAgentClear)
	mux.HandleFunc("POST /v1/images", s.handleGenerateImage)
	mux.HandleFunc("PUT /v1/sessions/model", s.handleSetModel)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("gateway listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type turnRequest struct {
	UserID  string   `json:"user_id"`
	Module  string   `json:"module"`
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
}

func (r *turnRequest) fileRefs() []models.FileRef {
	if len(r.Files) == 0 {
		return nil
	}
	out := make([]models.FileRef, len(r.Files))
	for i, path := range r.Files {
		out[i] = models.ClassifyFile(path)
	}
	return out
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.chat.GetOrCreateSession(r.Context(), req.UserID, req.Module)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	stream, err := s.chat.StreamReply(r.Context(), sess, req.Message, req.fileRefs())
	if err != nil {
		s.error(w, http.StatusBadGateway, err)
		return
	}
	s.pipe(w, sess.ID, stream)
}

func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.agents.GetOrCreateSession(r.Context(), req.UserID, req.Module)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	stream, err := s.agents.StreamReply(r.Context(), sess, req.Message, req.fileRefs())
	if err != nil {
		s.error(w, http.StatusBadGateway, err)
		return
	}
	s.pipe(w, sess.ID, stream)
}

func (s *Server) handleAgentClear(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.agents.GetOrCreateSession(r.Context(), req.UserID, req.Module)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.agents.ClearHistory(r.Context(), sess); err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	s.json(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sess.ID})
}

type setModelRequest struct {
	UserID  string `json:"user_id"`
	Module  string `json:"module"`
	ModelID string `json:"model_id"`
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req setModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.chat.GetOrCreateSession(r.Context(), req.UserID, req.Module)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.chat.UpdateSessionModel(r.Context(), sess, req.ModelID); err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	s.json(w, http.StatusOK, map[string]string{"session_id": sess.ID, "model_id": req.ModelID})
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Count          int    `json:"count,omitempty"`
	Seed           int    `json:"seed,omitempty"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	client := s.chat.ImageClient()
	if client == nil {
		s.error(w, http.StatusNotImplemented, errNoImageModel)
		return
	}
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" {
		s.error(w, http.StatusBadRequest, errMissingPrompt)
		return
	}
	images, err := client.Generate(r.Context(), &providers.ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Count:          req.Count,
		Seed:           req.Seed,
	})
	if err != nil {
		s.error(w, http.StatusBadGateway, err)
		return
	}
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	s.json(w, http.StatusOK, map[string]any{"images": encoded})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var filter []catalog.Capability
	if cap := r.URL.Query().Get("capability"); cap != "" {
		filter = append(filter, catalog.Capability(cap))
	}
	s.json(w, http.StatusOK, s.chat.Registry().List(filter...))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.json(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"agent_mode":    s.agents.Mode(),
		"active_agents": s.agents.ActiveHandles(),
	})
}

// pipe copies a chunk stream onto the SSE connection.
func (s *Server) pipe(w http.ResponseWriter, sessionID string, stream <-chan *models.Chunk) {
	sse, err := newSSEWriter(w)
	if err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	if err := sse.start(sessionID); err != nil {
		return
	}
	var streamErr string
	for chunk := range stream {
		if chunk.Metadata != nil {
			if msg, ok := chunk.Metadata["error"].(string); ok {
				streamErr = msg
			}
		}
		if err := sse.content(chunk); err != nil {
			s.logger.Warn("client disconnected mid-stream", "session_id", sessionID)
			// Keep draining so the producer can finish and persist.
			for range stream {
			}
			return
		}
	}
	if streamErr != "" {
		sse.fail(streamErr)
		return
	}
	sse.end()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, req *turnRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.error(w, http.StatusBadRequest, err)
		return false
	}
	if req.UserID == "" || req.Message == "" {
		s.error(w, http.StatusBadRequest, errMissingFields)
		return false
	}
	if req.Module == "" {
		req.Module = "chatbot"
	}
	return true
}

var (
	errMissingFields = &fieldError{"user_id and message are required"}
	errMissingPrompt = &fieldError{"prompt is required"}
	errNoImageModel  = &fieldError{"no image generation model configured"}
)

type fieldError struct{ msg string }

func (e *fieldError) Error() string { return e.msg }

func (s *Server) json(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) error(w http.ResponseWriter, status int, err error) {
	s.json(w, status, map[string]string{"error": err.Error()})
}
