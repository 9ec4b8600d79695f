package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

type fakeUserFinder struct {
	users map[string]model.User
}

func (f *fakeUserFinder) GetByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(userID string) (string, error) { return "tok-" + userID, nil }

func newAuthHandler() *AuthHandler {
	verifier := identity.NewStaticVerifier(map[string]string{"alice": "secret"})
	finder := &fakeUserFinder{users: map[string]model.User{
		"alice": {ID: "u1", Username: "alice"},
	}}
	return NewAuthHandler(verifier, finder, fakeIssuer{})
}

func postLogin(t *testing.T, h *AuthHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLoginSuccess(t *testing.T) {
	rec := postLogin(t, newAuthHandler(), `{"username":"alice","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token != "tok-u1" {
		t.Fatalf("token = %q, want tok-u1", resp.Token)
	}
	if resp.UserID != "u1" || resp.Username != "alice" {
		t.Fatalf("identity = %q/%q, want u1/alice", resp.UserID, resp.Username)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	rec := postLogin(t, newAuthHandler(), `{"username":"alice","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	// Same 401 as a wrong password: usernames are not probeable.
	rec := postLogin(t, newAuthHandler(), `{"username":"mallory","password":"secret"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	rec := postLogin(t, newAuthHandler(), `{"username":"alice"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = postLogin(t, newAuthHandler(), `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
