package main

import (
	"testing"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateTables(); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	return db
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	db := newTestDatabase(t)

	user, err := db.CreateUser("carol", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == 0 {
		t.Error("created user has zero id")
	}
	if user.PasswordHash == "s3cret" {
		t.Error("password was stored in plaintext")
	}

	if _, err := db.AuthenticateUser("carol", "wrong"); err == nil {
		t.Error("authenticated with the wrong password")
	}

	authed, err := db.AuthenticateUser("carol", "s3cret")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if authed.ID != user.ID {
		t.Errorf("authenticated id = %d, want %d", authed.ID, user.ID)
	}
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	db := newTestDatabase(t)

	if _, err := db.CreateUser("dave", "pw1"); err != nil {
		t.Fatalf("first CreateUser: %v", err)
	}
	if _, err := db.CreateUser("dave", "pw2"); err == nil {
		t.Error("duplicate username registration succeeded")
	}
}

func TestUserExists(t *testing.T) {
	db := newTestDatabase(t)

	exists, err := db.UserExists("erin")
	if err != nil {
		t.Fatalf("UserExists: %v", err)
	}
	if exists {
		t.Error("unregistered user reported as existing")
	}

	if _, err := db.CreateUser("erin", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	exists, err = db.UserExists("erin")
	if err != nil {
		t.Fatalf("UserExists: %v", err)
	}
	if !exists {
		t.Error("registered user reported as not existing")
	}
}

func TestUpdateUserLastLogin(t *testing.T) {
	db := newTestDatabase(t)

	user, err := db.CreateUser("frank", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	before, err := db.GetUserByID(user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}

	if err := db.UpdateUserLastLogin(user.ID); err != nil {
		t.Fatalf("UpdateUserLastLogin: %v", err)
	}

	after, err := db.GetUserByID(user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if after.LastLogin.Before(before.LastLogin) {
		t.Error("last_login did not advance")
	}
}
