package main

import (
	"time"
)

// User is a registered account in the credential store. It is
// independent of the WebSocket setUsername identity — a client can draw
// under any display name without ever registering.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login"`
}
