package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateSessionThenValidate(t *testing.T) {
	db := newTestDatabase(t)
	am := NewAuthManager(db)

	user, err := db.CreateUser("gina", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	session, err := am.CreateSession(user)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Token == "" {
		t.Fatal("session carries no token")
	}

	got, err := am.ValidateSession(session.Token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("session user id = %d, want %d", got.UserID, user.ID)
	}
}

func TestValidateSessionRejectsUnknownToken(t *testing.T) {
	am := NewAuthManager(nil)
	if _, err := am.ValidateSession("not-a-real-token"); err == nil {
		t.Error("validated a token that was never issued")
	}
}

func TestValidateSessionRejectsExpiredToken(t *testing.T) {
	am := NewAuthManager(nil)
	am.sessions["stale"] = &Session{
		Token:     "stale",
		UserID:    1,
		Username:  "old",
		CreatedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}

	if _, err := am.ValidateSession("stale"); err == nil {
		t.Error("validated an expired session")
	}
	if _, ok := am.sessions["stale"]; ok {
		t.Error("expired session was not evicted")
	}
}

func TestDeleteSession(t *testing.T) {
	am := NewAuthManager(nil)
	session, err := am.CreateSession(&User{ID: 1, Username: "helen"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	am.DeleteSession(session.Token)
	if _, err := am.ValidateSession(session.Token); err == nil {
		t.Error("deleted session still validates")
	}
}

func TestExtractToken(t *testing.T) {
	am := NewAuthManager(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if tok := am.ExtractToken(req); tok != "" {
		t.Errorf("extracted %q from a request with no Authorization header", tok)
	}

	req.Header.Set("Authorization", "Bearer abc123")
	if tok := am.ExtractToken(req); tok != "abc123" {
		t.Errorf("ExtractToken = %q, want abc123", tok)
	}

	req.Header.Set("Authorization", "abc123")
	if tok := am.ExtractToken(req); tok != "" {
		t.Errorf("extracted %q from a header missing the Bearer prefix", tok)
	}
}
