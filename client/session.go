// Package client implements the upload-side orchestrator: it slices a file
// into chunks, drives them through the server one at a time, and keeps enough
// state on disk to resume an interrupted upload without re-reading
// acknowledged bytes.
package client

import (
	"errors"
	"io"
	"time"

	"skyvault/models"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible. failed is not
// terminal: a failed session stays resumable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	ErrFileTooLarge   = errors.New("file exceeds maximum upload size")
	ErrEmptyFile      = errors.New("file is empty")
	ErrUnknownSession = errors.New("unknown upload session")
	ErrInvalidState   = errors.New("operation not legal in current state")
	ErrSourceRequired = errors.New("upload source required to resume")
)

// UploadSession is the externally visible state of one file transfer.
// UploadedBytes only ever reflects chunks the server has acknowledged.
type UploadSession struct {
	FileID        string    `json:"file_id"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	MimeType      string    `json:"mime_type"`
	ChunkSize     int64     `json:"chunk_size"`
	TotalChunks   int       `json:"total_chunks"`
	UploadedBytes int64     `json:"uploaded_bytes"`
	Progress      int       `json:"progress"`
	Status        Status    `json:"status"`
	RetryCount    int       `json:"retry_count"`
	Error         string    `json:"error,omitempty"`
	StartTime     time.Time `json:"start_time"`
	WorkspaceID   uint      `json:"workspace_id"`
	FolderID      uint      `json:"folder_id"`

	// Derived throughput figures, valid while the session is active.
	BytesPerSecond float64 `json:"bytes_per_second"`
	ETASeconds     float64 `json:"eta_seconds"`
}

type FileMeta struct {
	FileName string
	FileSize int64
	MimeType string
}

type Destination struct {
	WorkspaceID uint
	FolderID    uint
}

type Callbacks struct {
	OnProgress  func(UploadSession)
	OnCompleted func(UploadSession, models.File)
	OnFailed    func(UploadSession, error)
}

// session is the orchestrator's mutable per-file record. All fields are
// guarded by the orchestrator mutex except source reads, which happen outside
// the lock between state checks.
type session struct {
	UploadSession

	source          io.ReaderAt
	acked           map[int]struct{}
	callbacks       Callbacks
	pausedByNetwork bool
	running         bool
}

func (s *session) chunkByteSize(index int) int64 {
	start := int64(index) * s.ChunkSize
	remaining := s.FileSize - start
	if remaining < s.ChunkSize {
		return remaining
	}
	return s.ChunkSize
}

// nextUnacked returns the lowest chunk index not yet acknowledged.
func (s *session) nextUnacked() (int, bool) {
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.acked[i]; !ok {
			return i, true
		}
	}
	return 0, false
}

func (s *session) recomputeProgress() {
	var uploaded int64
	for idx := range s.acked {
		uploaded += s.chunkByteSize(idx)
	}
	s.UploadedBytes = uploaded
	if s.FileSize > 0 {
		s.Progress = int(uploaded * 100 / s.FileSize)
	}

	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 && uploaded > 0 {
		s.BytesPerSecond = float64(uploaded) / elapsed
		s.ETASeconds = float64(s.FileSize-uploaded) / s.BytesPerSecond
	}
}

func (s *session) snapshot() Snapshot {
	acked := make([]int, 0, len(s.acked))
	for idx := range s.acked {
		acked = append(acked, idx)
	}
	return Snapshot{
		UploadSession: s.UploadSession,
		AckedChunks:   acked,
	}
}
