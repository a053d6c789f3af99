// Package store implements the file-backed persistence port for saved
// whiteboard snapshots, and the asynchronous timelapse job tracker that
// sits alongside it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StrokeDelta is a single freehand stroke, as supplied by clients that
// keep their own undo history rather than relying on addShape events.
type StrokeDelta struct {
	Points []DrawPoint `json:"points"`
}

// DrawPoint is one sampled point of a StrokeDelta.
type DrawPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size,omitempty"`
}

// BoardData is the full persisted snapshot body.
type BoardData struct {
	BoardID       string        `json:"boardId"`
	Name          string        `json:"name"`
	RoomID        string        `json:"roomId,omitempty"`
	Shapes        []ShapeData   `json:"shapes"`
	Strokes       []StrokeDelta `json:"strokes"`
	EraserStrokes []StrokeDelta `json:"eraserStrokes"`
	SavedBy       string        `json:"savedBy"`
	SavedAt       string        `json:"savedAt"`
	ShapeCount    int           `json:"shapeCount"`
}

// ShapeData mirrors board.ShapeData's wire shape; store does not import
// the board package so the two stay decoupled across the persistence
// boundary — callers pass already-decoded shapes in.
type ShapeData struct {
	ID        string  `json:"id"`
	Type      string  `json:"shapeType"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color,omitempty"`
	Size      float64 `json:"size,omitempty"`
	Username  string  `json:"username,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Radius    float64 `json:"radius,omitempty"`
	EndX      float64 `json:"endX,omitempty"`
	EndY      float64 `json:"endY,omitempty"`
	Text      string  `json:"text,omitempty"`
	FontSize  float64 `json:"fontSize,omitempty"`
	URL       string  `json:"url,omitempty"`
	FillColor string  `json:"fillColor,omitempty"`
}

// BoardMetadata is one entry in the on-disk registry.
type BoardMetadata struct {
	BoardID    string `json:"boardId"`
	Name       string `json:"name"`
	SavedBy    string `json:"savedBy"`
	SavedAt    string `json:"savedAt"`
	ShapeCount int    `json:"shapeCount"`
	filename   string // derived, not serialized
}

func (m BoardMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BoardID    string `json:"boardId"`
		Name       string `json:"name"`
		SavedBy    string `json:"savedBy"`
		SavedAt    string `json:"savedAt"`
		ShapeCount int    `json:"shapeCount"`
	}{m.BoardID, m.Name, m.SavedBy, m.SavedAt, m.ShapeCount})
}

// DeleteOutcome is the tri-state result of a delete attempt, letting the
// HTTP handler distinguish 403 from 404 from success without string
// matching an error message.
type DeleteOutcome int

const (
	DeleteOK DeleteOutcome = iota
	DeleteNotFound
	DeleteNotOwner
)

// BoardStore is the file-backed Persistence Port for saved boards.
// All mutation goes through saveRegistry under mu so concurrent saves from
// different goroutines can't race on registry.json.
type BoardStore struct {
	baseDir string

	mu       sync.Mutex
	registry map[string]*BoardMetadata
}

// NewBoardStore opens (creating if necessary) the board store rooted at
// baseDir, loading any existing registry.json.
func NewBoardStore(baseDir string) (*BoardStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create base dir: %w", err)
	}
	s := &BoardStore{baseDir: baseDir, registry: make(map[string]*BoardMetadata)}
	if err := s.loadRegistry(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoardStore) registryPath() string {
	return filepath.Join(s.baseDir, "registry.json")
}

func (s *BoardStore) boardPath(filename string) string {
	return filepath.Join(s.baseDir, filename)
}

func (s *BoardStore) loadRegistry() error {
	data, err := os.ReadFile(s.registryPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read registry: %w", err)
	}
	var entries []struct {
		BoardID    string `json:"boardId"`
		Name       string `json:"name"`
		SavedBy    string `json:"savedBy"`
		SavedAt    string `json:"savedAt"`
		ShapeCount int    `json:"shapeCount"`
		Filename   string `json:"filename"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("store: parse registry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		filename := e.Filename
		if filename == "" {
			filename = e.BoardID + ".json"
		}
		s.registry[e.BoardID] = &BoardMetadata{
			BoardID:    e.BoardID,
			Name:       e.Name,
			SavedBy:    e.SavedBy,
			SavedAt:    e.SavedAt,
			ShapeCount: e.ShapeCount,
			filename:   filename,
		}
	}
	return nil
}

// saveRegistry persists the in-memory registry map. Callers must hold mu.
func (s *BoardStore) saveRegistry() error {
	type entry struct {
		BoardID    string `json:"boardId"`
		Name       string `json:"name"`
		SavedBy    string `json:"savedBy"`
		SavedAt    string `json:"savedAt"`
		ShapeCount int    `json:"shapeCount"`
		Filename   string `json:"filename"`
	}
	entries := make([]entry, 0, len(s.registry))
	for _, m := range s.registry {
		entries = append(entries, entry{
			BoardID:    m.BoardID,
			Name:       m.Name,
			SavedBy:    m.SavedBy,
			SavedAt:    m.SavedAt,
			ShapeCount: m.ShapeCount,
			Filename:   m.filename,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.registryPath(), data, 0o644)
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05")
}

// Save writes a board snapshot to disk and registers it, assigning a
// fresh boardId. Strokes/EraserStrokes may be nil for caller that only
// track discrete shapes.
func (s *BoardStore) Save(name string, shapes []ShapeData, strokes, eraserStrokes []StrokeDelta, savedBy string) (string, error) {
	boardID := uuid.New().String()
	data := BoardData{
		BoardID:       boardID,
		Name:          name,
		Shapes:        shapes,
		Strokes:       strokes,
		EraserStrokes: eraserStrokes,
		SavedBy:       savedBy,
		SavedAt:       timestamp(),
		ShapeCount:    len(shapes),
	}
	if err := s.writeBoardFile(boardID, data); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[boardID] = &BoardMetadata{
		BoardID:    boardID,
		Name:       name,
		SavedBy:    savedBy,
		SavedAt:    data.SavedAt,
		ShapeCount: data.ShapeCount,
		filename:   boardID + ".json",
	}
	return boardID, s.saveRegistry()
}

func (s *BoardStore) writeBoardFile(boardID string, data BoardData) error {
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal board: %w", err)
	}
	if err := os.WriteFile(s.boardPath(boardID+".json"), blob, 0o644); err != nil {
		return fmt.Errorf("store: write board file: %w", err)
	}
	return nil
}

// List returns a snapshot of the registry.
func (s *BoardStore) List() []BoardMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BoardMetadata, 0, len(s.registry))
	for _, m := range s.registry {
		out = append(out, *m)
	}
	return out
}

// Load reads a board's full snapshot by id.
func (s *BoardStore) Load(boardID string) (BoardData, error) {
	s.mu.Lock()
	meta, ok := s.registry[boardID]
	s.mu.Unlock()
	if !ok {
		return BoardData{}, fmt.Errorf("store: board not found: %s", boardID)
	}

	blob, err := os.ReadFile(s.boardPath(meta.filename))
	if err != nil {
		return BoardData{}, fmt.Errorf("store: read board file: %w", err)
	}
	var data BoardData
	if err := json.Unmarshal(blob, &data); err != nil {
		return BoardData{}, fmt.Errorf("store: parse board file: %w", err)
	}
	return data, nil
}

// Delete removes a board, enforcing that requestor is the board's owner.
func (s *BoardStore) Delete(boardID, requestor string) DeleteOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.registry[boardID]
	if !ok {
		return DeleteNotFound
	}
	if meta.SavedBy != requestor {
		return DeleteNotOwner
	}
	os.Remove(s.boardPath(meta.filename))
	delete(s.registry, boardID)
	s.saveRegistry()
	return DeleteOK
}

// Export returns the raw JSON bytes of a board snapshot, for download.
func (s *BoardStore) Export(boardID string) ([]byte, error) {
	data, err := s.Load(boardID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(data, "", "  ")
}

// Import parses raw board JSON and saves it under a fresh boardId, so the
// imported copy never collides with the board it was exported from.
func (s *BoardStore) Import(name string, raw []byte, savedBy string) (string, error) {
	var data BoardData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("store: parse imported board: %w", err)
	}
	return s.Save(name, data.Shapes, data.Strokes, data.EraserStrokes, savedBy)
}
