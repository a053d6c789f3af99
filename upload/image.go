// Package upload implements the Image Upload Port: multipart image
// intake, dimension probing, and the synthetic shapeAdded event that
// announces the uploaded image to a room.
package upload

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"boardserver/board"
)

// defaultWidth and defaultHeight are used when the uploaded bytes can't
// be decoded as an image.
const (
	defaultWidth  = 200
	defaultHeight = 200
)

// RoomLookup resolves a room by its display name, not its id — the
// upload endpoint is keyed on name.
type RoomLookup func(roomName string) (*board.Room, bool)

// Broadcaster is the subset of Hub the upload port needs: injecting a
// pre-built action into the fan-out fabric.
type Broadcaster interface {
	Execute(actions []board.Action)
}

// Port is the Image Upload Port. It takes multipart bytes off the
// request body and decodes them before ever touching room state —
// reading is complete before the target room's lock is acquired.
type Port struct {
	baseDir     string
	lookupRoom  RoomLookup
	broadcaster Broadcaster
}

// NewPort roots uploaded image files under baseDir/images.
func NewPort(baseDir string, lookupRoom RoomLookup, broadcaster Broadcaster) (*Port, error) {
	dir := filepath.Join(baseDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create images dir: %w", err)
	}
	return &Port{baseDir: dir, lookupRoom: lookupRoom, broadcaster: broadcaster}, nil
}

// Result is what the HTTP handler turns into a JSON response.
type Result struct {
	ImageURL string
	Filename string
}

// ErrRoomNotFound is returned when no room with the requested name
// exists.
var ErrRoomNotFound = fmt.Errorf("upload: room not found")

// Handle reads one multipart file part named "image" from r, writes it
// under a random filename, probes its dimensions, and broadcasts a
// synthetic shapeAdded event into roomName.
func (p *Port) Handle(r *http.Request, roomName string) (Result, error) {
	room, ok := p.lookupRoom(roomName)
	if !ok {
		return Result{}, ErrRoomNotFound
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return Result{}, fmt.Errorf("upload: read multipart file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Result{}, fmt.Errorf("upload: read file body: %w", err)
	}

	ext := safeExtension(header.Filename)
	filename := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(p.baseDir, filename), data, 0o644); err != nil {
		return Result{}, fmt.Errorf("upload: write file: %w", err)
	}

	width, height := probeDimensions(data)
	shapeID := "img-" + uuid.New().String()
	imageURL := "/images/" + filename

	shape := board.ShapeData{
		ID:     shapeID,
		Type:   board.ShapeImage,
		X:      100,
		Y:      100,
		Width:  float64(width),
		Height: float64(height),
		URL:    imageURL,
		Room:   roomName,
	}
	room.UpsertShape(shape)

	payload := board.EncodeShapeAdded(shape)
	room.AppendReplay(payload)
	p.broadcaster.Execute([]board.Action{board.BroadcastToRoom{RoomID: room.RoomID, Payload: payload}})

	return Result{ImageURL: imageURL, Filename: filename}, nil
}

// probeDimensions decodes just enough of data to read its dimensions,
// falling back to a fixed placeholder size if decoding fails.
func probeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return defaultWidth, defaultHeight
	}
	return cfg.Width, cfg.Height
}

func safeExtension(clientFilename string) string {
	ext := strings.ToLower(filepath.Ext(clientFilename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif":
		return ext
	default:
		return ".png"
	}
}

// ServeImage handles GET /images/<name>, rejecting any filename that
// could escape baseDir.
func (p *Port) ServeImage(w http.ResponseWriter, r *http.Request, name string) {
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(p.baseDir, name))
}
