package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"boardserver/board"
	"boardserver/store"
	"boardserver/upload"
)

// Server wires the credential store, session manager, board registry, and
// the board/timelapse/image persistence ports into the control-plane HTTP
// API. The real-time WebSocket traffic never passes through here — that's
// NetworkSurface and board.Hub.
type Server struct {
	db         *Database
	auth       *AuthManager
	hub        *board.Hub
	boards     *store.BoardStore
	timelapses *store.TimelapseManager
	images     *upload.Port
}

func NewServer(db *Database, hub *board.Hub, boards *store.BoardStore, timelapses *store.TimelapseManager, images *upload.Port) *Server {
	return &Server{
		db:         db,
		auth:       NewAuthManager(db),
		hub:        hub,
		boards:     boards,
		timelapses: timelapses,
		images:     images,
	}
}

// RegisterRoutes builds the gin engine for the control-plane API. It does
// not serve /images/<filename> or the WebSocket upgrade — those are
// NetworkSurface's raw accept loop.
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/register", s.handleRegister)
		auth.POST("/login", s.handleLogin)
		auth.POST("/check", s.handleCheckUsername)

		boards := api.Group("/boards")
		boards.Use(s.auth.RequireAuth)
		boards.POST("/save", s.handleSaveBoard)
		boards.GET("/list", s.handleListBoards)
		boards.GET("/load/:boardId", s.handleLoadBoard)
		boards.DELETE("/delete/:boardId", s.handleDeleteBoard)
		boards.POST("/export", s.handleExportBoard)
		boards.POST("/import", s.handleImportBoard)
		boards.POST("/generate-timelapse", s.handleGenerateTimelapse)
		boards.GET("/timelapse-status/:jobId", s.handleTimelapseStatus)
		boards.GET("/timelapse-video/:jobId", s.handleTimelapseVideo)
		boards.POST("/uploadImage", s.handleUploadImage)
	}

	return r
}

// corsMiddleware sets a permissive CORS header set on every response and
// short-circuits preflight OPTIONS requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// --- Auth ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}

	user, err := s.db.CreateUser(req.Username, req.Password)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	session, err := s.auth.CreateSession(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user, "token": session.Token})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	user, err := s.db.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	session, err := s.auth.CreateSession(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "token": session.Token})
}

func (s *Server) handleCheckUsername(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	exists, err := s.db.UserExists(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check username"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// --- Boards ---

func toStoreShapes(shapes []board.ShapeData) []store.ShapeData {
	out := make([]store.ShapeData, 0, len(shapes))
	for _, sh := range shapes {
		out = append(out, store.ShapeData{
			ID:        sh.ID,
			Type:      string(sh.Type),
			X:         sh.X,
			Y:         sh.Y,
			Color:     sh.Color,
			Size:      sh.Size,
			Username:  sh.Username,
			Timestamp: sh.Timestamp,
			Width:     sh.Width,
			Height:    sh.Height,
			Radius:    sh.Radius,
			EndX:      sh.EndX,
			EndY:      sh.EndY,
			Text:      sh.Text,
			FontSize:  sh.FontSize,
			URL:       sh.URL,
			FillColor: sh.FillColor,
		})
	}
	return out
}

type saveBoardRequest struct {
	BoardName     string              `json:"boardName"`
	RoomID        string              `json:"roomId"`
	Username      string              `json:"username"`
	Shapes        []store.ShapeData   `json:"shapes"`
	Strokes       []store.StrokeDelta `json:"strokes"`
	EraserStrokes []store.StrokeDelta `json:"eraserStrokes"`
}

func (s *Server) handleSaveBoard(c *gin.Context) {
	var req saveBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid JSON"})
		return
	}
	if req.BoardName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "boardName required"})
		return
	}

	shapes := req.Shapes
	if req.RoomID != "" {
		room, ok := s.hub.Registry.Get(req.RoomID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Room not found"})
			return
		}
		shapes = toStoreShapes(room.Shapes())
	}

	boardID, err := s.boards.Save(req.BoardName, shapes, req.Strokes, req.EraserStrokes, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "boardId": boardID, "message": "Board saved"})
}

func (s *Server) handleListBoards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "boards": s.boards.List()})
}

func (s *Server) handleLoadBoard(c *gin.Context) {
	boardID := c.Param("boardId")
	data, err := s.boards.Load(boardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Board not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "board": data})
}

func (s *Server) handleDeleteBoard(c *gin.Context) {
	boardID := c.Param("boardId")
	session := sessionFromGin(c)

	switch s.boards.Delete(boardID, session.Username) {
	case store.DeleteOK:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Board deleted"})
	case store.DeleteNotOwner:
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Only the saving user can delete this board"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Board not found"})
	}
}

func (s *Server) handleExportBoard(c *gin.Context) {
	var req struct {
		BoardID string `json:"boardId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON"})
		return
	}

	data, err := s.boards.Export(req.BoardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Board not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": string(data)})
}

func (s *Server) handleImportBoard(c *gin.Context) {
	var req struct {
		BoardName string `json:"boardName"`
		Data      string `json:"data"`
		Username  string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON"})
		return
	}

	boardID, err := s.boards.Import(req.BoardName, []byte(req.Data), req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "boardId": boardID})
}

// --- Timelapse ---

func (s *Server) handleGenerateTimelapse(c *gin.Context) {
	var req struct {
		BoardID  string `json:"boardId"`
		Duration int    `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if req.Duration <= 0 {
		req.Duration = 10
	}

	data, err := s.boards.Load(req.BoardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Board not found"})
		return
	}

	job := s.timelapses.Generate(req.BoardID, data.ShapeCount, req.Duration)
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.JobID, "status": job.Status})
}

func (s *Server) handleTimelapseStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	job, ok := s.timelapses.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	resp := gin.H{"status": job.Status, "progress": job.Progress, "message": job.Message}
	if job.Status == store.JobCompleted {
		resp["videoUrl"] = "/api/boards/timelapse-video/" + job.JobID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTimelapseVideo(c *gin.Context) {
	jobID := c.Param("jobId")
	job, ok := s.timelapses.Get(jobID)
	if !ok || job.Status != store.JobCompleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not available"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+jobID+".mp4\"")
	c.File(s.timelapses.VideoPath(jobID))
}

// --- Image upload ---

func (s *Server) handleUploadImage(c *gin.Context) {
	room := c.Query("room")
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room query parameter required"})
		return
	}

	result, err := s.images.Handle(c.Request, room)
	if err != nil {
		if err == upload.ErrRoomNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "imageUrl": result.ImageURL, "filename": result.Filename})
}
