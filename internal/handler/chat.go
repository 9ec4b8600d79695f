package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/supportchat/internal/access"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

type ChatHandler struct {
	chatRepo *repository.ChatRepository
	msgRepo  *repository.MessageRepository
	userRepo *repository.UserRepository
	access   *access.Resolver
}

func NewChatHandler(chatRepo *repository.ChatRepository, msgRepo *repository.MessageRepository, userRepo *repository.UserRepository, ac *access.Resolver) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, msgRepo: msgRepo, userRepo: userRepo, access: ac}
}

// GetOrCreate returns the caller's support chat, creating it on first use.
// Every user has exactly one.
func (h *ChatHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chat, err := h.chatRepo.GetOrCreate(r.Context(), userID)
	if err != nil {
		logger.Errorf("get or create chat user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// ListMessages returns the full history of a chat the caller may access.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := uuid.Parse(chatID); err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	chat, err := h.chatRepo.GetByID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		logger.Errorf("get chat %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	userID := middleware.GetUserID(r.Context())
	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	allowed, err := h.access.CanAccessChat(r.Context(), user, chat)
	if err != nil {
		logger.Errorf("check access chat=%s user=%s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	msgs, err := h.msgRepo.ListAll(r.Context(), chatID)
	if err != nil {
		logger.Errorf("list messages chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
