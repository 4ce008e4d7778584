package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CaravanDesk/ChatCaravan/internal/models"
)

// defaultHistoryLimit caps a history read when the request does not ask
// for a specific amount. An explicit limit=0 reads the full log.
const defaultHistoryLimit = 100

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"features":  s.features,
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// chatsHandler handles GET /api/chats: lists users with recorded history.
func (s *Server) chatsHandler(w http.ResponseWriter, r *http.Request) {
	users := s.history.ListUsers(r.Context())
	slog.Debug("Server.chatsHandler: listing chats", "count", len(users))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"chats": users,
		"count": len(users),
	}))
}

// chatHistoryHandler handles GET /api/chat/{phone}: returns the stored
// conversation, durable log first, falling back to the hot tier.
func (s *Server) chatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone is required"))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	messages := s.history.FullHistory(r.Context(), phone, limit)
	source := "durable"
	if len(messages) == 0 {
		messages = s.history.Recent(r.Context(), phone)
		source = "hot"
		if limit > 0 && len(messages) > limit {
			messages = messages[len(messages)-limit:]
		}
	}

	slog.Debug("Server.chatHistoryHandler: history fetched", "phone", phone, "count", len(messages), "source", source)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"phone":    phone,
		"messages": messages,
		"count":    len(messages),
		"source":   source,
	}))
}

// deleteChatHandler handles DELETE /api/chat/{phone}: clears the hot-tier
// conversation so the next message starts a fresh dialogue. The durable
// log is kept.
func (s *Server) deleteChatHandler(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone is required"))
		return
	}

	if err := s.history.Clear(r.Context(), phone); err != nil {
		slog.Error("Server.deleteChatHandler: failed to clear chat", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to clear chat history"))
		return
	}

	slog.Info("Server.deleteChatHandler: chat cleared", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Chat history cleared", map[string]string{
		"phone": phone,
	}))
}
