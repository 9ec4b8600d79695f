package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

// TokenIssuer mints a bearer token for a user id; implemented by token.Codec.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// UserFinder is the lookup the login flow needs; implemented by
// repository.UserRepository.
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

type AuthHandler struct {
	verifier identity.Verifier
	users    UserFinder
	tokens   TokenIssuer
}

func NewAuthHandler(verifier identity.Verifier, users UserFinder, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{verifier: verifier, users: users, tokens: tokens}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Login verifies credentials and answers with a bearer token. Unknown user
// and wrong password are indistinguishable to the caller.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	username, err := h.verifier.VerifyCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Errorf("login verify user=%s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Errorf("login lookup user=%s: %v", username, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	tok, err := h.tokens.Issue(user.ID)
	if err != nil {
		logger.Errorf("login issue token user=%s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{UserID: user.ID, Username: user.Username, Token: tok})
}
