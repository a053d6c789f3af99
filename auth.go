package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// AuthManager issues and validates bearer tokens for the control-plane
// API. Sessions are ephemeral and in-memory: a restart or an expiry
// just means the next login mints a new token.
type AuthManager struct {
	db       *Database
	sessions map[string]*Session
	mutex    sync.RWMutex
}

type Session struct {
	Token     string    `json:"token"`
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthManager(db *Database) *AuthManager {
	return &AuthManager{
		db:       db,
		sessions: make(map[string]*Session),
	}
}

func (am *AuthManager) generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (am *AuthManager) CreateSession(user *User) (*Session, error) {
	token, err := am.generateToken()
	if err != nil {
		return nil, err
	}

	session := &Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	am.mutex.Lock()
	am.sessions[token] = session
	am.mutex.Unlock()

	return session, nil
}

func (am *AuthManager) ValidateSession(token string) (*Session, error) {
	am.mutex.RLock()
	session, exists := am.sessions[token]
	am.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("invalid session")
	}

	if time.Now().After(session.ExpiresAt) {
		am.mutex.Lock()
		delete(am.sessions, token)
		am.mutex.Unlock()
		return nil, fmt.Errorf("session expired")
	}

	return session, nil
}

func (am *AuthManager) DeleteSession(token string) {
	am.mutex.Lock()
	delete(am.sessions, token)
	am.mutex.Unlock()
}

func (am *AuthManager) ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// RequireAuth is a gin middleware gating the board/image endpoints that
// need an identity for savedBy/ownership checks. The WebSocket setUsername
// event is a separate identity surface and never runs through this.
func (am *AuthManager) RequireAuth(c *gin.Context) {
	token := am.ExtractToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
		return
	}

	session, err := am.ValidateSession(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
		return
	}

	c.Set(sessionContextKeyName, session)
}

const sessionContextKeyName = "session"

// sessionFromGin reads the session a RequireAuth middleware stashed on the
// gin context.
func sessionFromGin(c *gin.Context) *Session {
	if v, ok := c.Get(sessionContextKeyName); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}
