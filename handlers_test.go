package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"boardserver/board"
	"boardserver/store"
	"boardserver/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dbPath := t.TempDir() + "/test.db"
	db, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateTables(); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}

	baseDir := t.TempDir()
	boards, err := store.NewBoardStore(baseDir)
	if err != nil {
		t.Fatalf("NewBoardStore: %v", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	timelapses, err := store.NewTimelapseManager(baseDir, log)
	if err != nil {
		t.Fatalf("NewTimelapseManager: %v", err)
	}
	hub := board.NewHub(log)
	images, err := upload.NewPort(baseDir, hub.Registry.GetByName, hub)
	if err != nil {
		t.Fatalf("NewPort: %v", err)
	}

	return NewServer(db, hub, boards, timelapses, images)
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	s := newTestServer(t)
	engine := s.RegisterRoutes()

	rec := doJSON(t, engine, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "hunter2",
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "hunter2",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "wrong",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password login status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "hunter2",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("login response carried no token")
	}

	rec = doJSON(t, engine, http.MethodPost, "/api/auth/check", map[string]string{"username": "alice"}, "")
	var checkResp struct {
		Exists bool `json:"exists"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &checkResp); err != nil {
		t.Fatalf("decode check response: %v", err)
	}
	if !checkResp.Exists {
		t.Error("check reported alice does not exist")
	}
}

func TestBoardEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t)
	engine := s.RegisterRoutes()

	rec := doJSON(t, engine, http.MethodGet, "/api/boards/list", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d, want 401", rec.Code)
	}
}

func TestSaveListLoadDeleteBoardFlow(t *testing.T) {
	s := newTestServer(t)
	engine := s.RegisterRoutes()

	doJSON(t, engine, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "bob", "password": "secret",
	}, "")
	rec := doJSON(t, engine, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "password": "secret",
	}, "")
	var loginResp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &loginResp)

	rec = doJSON(t, engine, http.MethodPost, "/api/boards/save", map[string]interface{}{
		"boardName": "sketch one",
		"username":  "bob",
		"shapes": []map[string]interface{}{
			{"id": "s1", "shapeType": "rectangle", "x": 1, "y": 2},
		},
	}, loginResp.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var saveResp struct {
		BoardID string `json:"boardId"`
	}
	json.Unmarshal(rec.Body.Bytes(), &saveResp)
	if saveResp.BoardID == "" {
		t.Fatal("save response carried no boardId")
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/boards/list", nil, loginResp.Token)
	var listResp struct {
		Boards []store.BoardMetadata `json:"boards"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listResp)
	if len(listResp.Boards) != 1 {
		t.Fatalf("list returned %d boards, want 1", len(listResp.Boards))
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/boards/load/"+saveResp.BoardID, nil, loginResp.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodDelete, "/api/boards/delete/"+saveResp.BoardID, nil, loginResp.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/api/boards/load/"+saveResp.BoardID, nil, loginResp.Token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("load after delete status = %d, want 404", rec.Code)
	}
}

func TestCORSPreflightReturnsNoContent(t *testing.T) {
	s := newTestServer(t)
	engine := s.RegisterRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/api/boards/list", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin header on preflight")
	}
}
