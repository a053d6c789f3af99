package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates a TimelapseJob's lifecycle states.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// TimelapseJob tracks one asynchronous timelapse render.
type TimelapseJob struct {
	JobID       string    `json:"jobId"`
	BoardID     string    `json:"boardId"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	VideoPath   string    `json:"videoPath,omitempty"`
	CreatedAt   int64     `json:"createdAt"`
	CompletedAt int64     `json:"completedAt,omitempty"`
}

// TimelapseManager tracks in-flight and finished timelapse jobs. The
// actual frame rendering is an external collaborator this implementation
// doesn't own; Generate exercises the job lifecycle against a stub
// render step that produces a placeholder video file.
type TimelapseManager struct {
	baseDir string
	log     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*TimelapseJob
}

// NewTimelapseManager creates a manager whose rendered videos land under
// baseDir/timelapses.
func NewTimelapseManager(baseDir string, log *slog.Logger) (*TimelapseManager, error) {
	dir := filepath.Join(baseDir, "timelapses")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create timelapses dir: %w", err)
	}
	return &TimelapseManager{baseDir: dir, log: log, jobs: make(map[string]*TimelapseJob)}, nil
}

// Generate queues a new job for boardID and returns it immediately; the
// render runs on a background goroutine. shapeCount sets how many progress
// steps the stub render simulates (at least 5); durationSeconds is passed
// to the placeholder video writer, which does not use it.
func (m *TimelapseManager) Generate(boardID string, shapeCount int, durationSeconds int) *TimelapseJob {
	job := &TimelapseJob{
		JobID:     "job-" + uuid.New().String()[:8],
		BoardID:   boardID,
		Status:    JobQueued,
		Message:   "Job queued",
		CreatedAt: time.Now().UnixMilli(),
	}

	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.mu.Unlock()

	go m.render(job.JobID, shapeCount, durationSeconds)
	return job
}

// Get returns a job snapshot by id.
func (m *TimelapseManager) Get(jobID string) (TimelapseJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return TimelapseJob{}, false
	}
	return *j, true
}

// VideoPath returns the on-disk path of a completed job's video, or ""
// if the job isn't done yet (or doesn't exist).
func (m *TimelapseManager) VideoPath(jobID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != JobCompleted {
		return ""
	}
	return j.VideoPath
}

func (m *TimelapseManager) update(jobID string, fn func(*TimelapseJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		fn(j)
	}
}

// render simulates the external video renderer: it walks shapeCount steps,
// advancing progress, then writes a placeholder MP4 container. Real frame
// composition is out of scope here; this proves out the job-lifecycle
// contract the control plane depends on.
func (m *TimelapseManager) render(jobID string, shapeCount, durationSeconds int) {
	m.update(jobID, func(j *TimelapseJob) {
		j.Status = JobProcessing
		j.Message = "Generating video..."
	})
	if j, ok := m.Get(jobID); ok {
		m.log.Info("timelapse render started", "jobId", jobID, "boardId", j.BoardID)
	}

	steps := shapeCount
	if steps < 5 {
		steps = 5
	}
	for i := 1; i <= steps; i++ {
		progress := i * 100 / steps
		m.update(jobID, func(j *TimelapseJob) {
			j.Progress = progress
			j.Message = fmt.Sprintf("Rendering frame %d/%d", i, steps)
		})
	}

	videoPath := filepath.Join(m.baseDir, jobID+".mp4")
	if err := writePlaceholderVideo(videoPath, durationSeconds); err != nil {
		m.update(jobID, func(j *TimelapseJob) {
			j.Status = JobFailed
			j.Message = err.Error()
			j.CompletedAt = time.Now().UnixMilli()
		})
		m.log.Error("timelapse render failed", "jobId", jobID, "error", err)
		return
	}

	m.update(jobID, func(j *TimelapseJob) {
		j.Status = JobCompleted
		j.Progress = 100
		j.Message = "Video ready"
		j.VideoPath = videoPath
		j.CompletedAt = time.Now().UnixMilli()
	})
	m.log.Info("timelapse render completed", "jobId", jobID, "videoPath", videoPath)
}

// writePlaceholderVideo writes a minimal MP4 container so
// timelapseVideo has something real to stream; it carries no frames.
func writePlaceholderVideo(path string, durationSeconds int) error {
	ftyp := []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
	}
	return os.WriteFile(path, ftyp, 0o644)
}
