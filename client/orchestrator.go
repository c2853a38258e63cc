package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"skyvault/logger"

	"github.com/google/uuid"
)

type Options struct {
	ServerURL   string
	AuthToken   string
	SnapshotDir string

	MaxFileSize    int64
	ChunkSize      int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration

	// MaxConcurrentSessions caps how many files upload at once; additional
	// sessions wait in queued until a slot frees up.
	MaxConcurrentSessions int

	HTTPClient *http.Client
	Snapshots  SnapshotStore
}

func (o *Options) applyDefaults() {
	if o.MaxFileSize == 0 {
		o.MaxFileSize = 500 * 1024 * 1024
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 1024 * 1024
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay == 0 {
		o.RetryMaxDelay = 30 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.MaxConcurrentSessions == 0 {
		o.MaxConcurrentSessions = 3
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.RequestTimeout}
	}
}

// Orchestrator drives upload sessions through the server. Each session sends
// its chunks sequentially; sessions are independent of each other up to the
// global concurrency cap.
type Orchestrator struct {
	opts      Options
	api       *apiClient
	snapshots SnapshotStore

	mu       sync.Mutex
	sessions map[string]*session
	slots    chan struct{}
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	opts.applyDefaults()

	snapshots := opts.Snapshots
	if snapshots == nil {
		if opts.SnapshotDir == "" {
			return nil, errors.New("snapshot dir or store required")
		}
		var err error
		snapshots, err = NewDiskSnapshotStore(opts.SnapshotDir)
		if err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		opts:      opts,
		api:       &apiClient{baseURL: opts.ServerURL, token: opts.AuthToken, http: opts.HTTPClient},
		snapshots: snapshots,
		sessions:  make(map[string]*session),
		slots:     make(chan struct{}, opts.MaxConcurrentSessions),
	}

	if err := o.restoreSnapshots(); err != nil {
		return nil, err
	}
	return o, nil
}

// restoreSnapshots rebuilds the session list after a process restart. A
// snapshot that says uploading or queued is reclassified as paused: its
// in-flight request cannot have survived, and its source handle is gone.
func (o *Orchestrator) restoreSnapshots() error {
	snaps, err := o.snapshots.List()
	if err != nil {
		return err
	}

	for _, snap := range snaps {
		s := &session{
			UploadSession: snap.UploadSession,
			acked:         make(map[int]struct{}, len(snap.AckedChunks)),
		}
		for _, idx := range snap.AckedChunks {
			s.acked[idx] = struct{}{}
		}
		if s.Status == StatusUploading || s.Status == StatusQueued {
			s.Status = StatusPaused
			_ = o.snapshots.Save(s.snapshot())
		}
		o.sessions[s.FileID] = s
	}
	return nil
}

// StartUpload validates the file, registers a new session, and begins
// transmission. The size limit is enforced before any network call.
func (o *Orchestrator) StartUpload(source io.ReaderAt, meta FileMeta, dest Destination, cb Callbacks) (string, error) {
	if meta.FileSize <= 0 {
		return "", ErrEmptyFile
	}
	if meta.FileSize > o.opts.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, meta.FileSize, o.opts.MaxFileSize)
	}

	totalChunks := int((meta.FileSize + o.opts.ChunkSize - 1) / o.opts.ChunkSize)
	s := &session{
		UploadSession: UploadSession{
			FileID:      uuid.New().String(),
			FileName:    meta.FileName,
			FileSize:    meta.FileSize,
			MimeType:    meta.MimeType,
			ChunkSize:   o.opts.ChunkSize,
			TotalChunks: totalChunks,
			Status:      StatusQueued,
			StartTime:   time.Now(),
			WorkspaceID: dest.WorkspaceID,
			FolderID:    dest.FolderID,
		},
		source:    source,
		acked:     make(map[int]struct{}),
		callbacks: cb,
	}

	o.mu.Lock()
	o.sessions[s.FileID] = s
	s.running = true
	o.mu.Unlock()

	_ = o.snapshots.Save(s.snapshot())
	go o.run(s)
	return s.FileID, nil
}

// PauseUpload stops scheduling further chunk sends. The in-flight send, if
// any, is allowed to finish first.
func (o *Orchestrator) PauseUpload(fileID string) error {
	o.mu.Lock()
	s, ok := o.sessions[fileID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSession
	}
	if s.Status != StatusUploading {
		o.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, s.Status)
	}
	s.Status = StatusPaused
	s.pausedByNetwork = false
	snap := s.snapshot()
	o.mu.Unlock()

	return o.snapshots.Save(snap)
}

// ResumeUpload continues a paused or failed session. It always re-queries the
// server for the acknowledged chunk set first: the local session may have
// been rebuilt from a snapshot after a restart, and only the server registry
// is authoritative. Pass a nil source to keep the session's existing handle.
func (o *Orchestrator) ResumeUpload(fileID string, source io.ReaderAt, cb Callbacks) error {
	o.mu.Lock()
	s, ok := o.sessions[fileID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSession
	}
	if s.Status != StatusPaused && s.Status != StatusFailed {
		o.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, s.Status)
	}
	if source != nil {
		s.source = source
	}
	if s.source == nil {
		o.mu.Unlock()
		return ErrSourceRequired
	}
	if cb.OnProgress != nil || cb.OnCompleted != nil || cb.OnFailed != nil {
		s.callbacks = cb
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.RequestTimeout)
	status, err := o.api.status(ctx, fileID)
	cancel()
	if err != nil {
		return fmt.Errorf("query upload status: %w", err)
	}

	o.mu.Lock()
	if s.Status != StatusPaused && s.Status != StatusFailed {
		o.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, s.Status)
	}
	s.acked = make(map[int]struct{}, len(status.UploadedChunks))
	for _, idx := range status.UploadedChunks {
		if idx >= 0 && idx < s.TotalChunks {
			s.acked[idx] = struct{}{}
		}
	}
	s.recomputeProgress()
	s.Status = StatusUploading
	s.Error = ""
	s.pausedByNetwork = false
	alreadyRunning := s.running
	s.running = true
	snap := s.snapshot()
	o.mu.Unlock()

	_ = o.snapshots.Save(snap)
	if !alreadyRunning {
		go o.run(s)
	}
	return nil
}

// RetryUpload restarts a failed session with a fresh backoff budget.
func (o *Orchestrator) RetryUpload(fileID string, source io.ReaderAt, cb Callbacks) error {
	o.mu.Lock()
	s, ok := o.sessions[fileID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSession
	}
	if s.Status != StatusFailed {
		o.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, s.Status)
	}
	s.RetryCount = 0
	o.mu.Unlock()

	return o.ResumeUpload(fileID, source, cb)
}

// CancelUpload stops transmission and asks the server to drop the partial
// chunks. Legal from any non-terminal state.
func (o *Orchestrator) CancelUpload(fileID string) error {
	o.mu.Lock()
	s, ok := o.sessions[fileID]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSession
	}
	if s.Status.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidState, s.Status)
	}
	s.Status = StatusCancelled
	s.UploadedBytes = 0
	s.Progress = 0
	o.mu.Unlock()

	return o.cleanupAfterCancel(fileID)
}

// cleanupAfterCancel drops the server-side partial state and the local
// snapshot. Called from CancelUpload and again by the transfer loop when a
// send was in flight during the cancel, since that send lands after the first
// server cleanup.
func (o *Orchestrator) cleanupAfterCancel(fileID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.RequestTimeout)
	err := o.api.cancel(ctx, fileID)
	cancel()
	if err != nil {
		logger.Warnf("server-side cleanup for cancelled upload %s failed: %v", fileID, err)
	}

	return o.snapshots.Delete(fileID)
}

// ClearCompleted drops completed sessions from the visible list. No network
// effect.
func (o *Orchestrator) ClearCompleted() {
	o.mu.Lock()
	var done []string
	for fileID, s := range o.sessions {
		if s.Status == StatusCompleted {
			done = append(done, fileID)
		}
	}
	for _, fileID := range done {
		delete(o.sessions, fileID)
	}
	o.mu.Unlock()

	for _, fileID := range done {
		_ = o.snapshots.Delete(fileID)
	}
}

// Sessions returns a point-in-time view of every known session.
func (o *Orchestrator) Sessions() []UploadSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]UploadSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.UploadSession)
	}
	return out
}

func (o *Orchestrator) Session(fileID string) (UploadSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[fileID]
	if !ok {
		return UploadSession{}, false
	}
	return s.UploadSession, true
}

// WatchConnectivity auto-pauses uploading sessions when the network drops and
// auto-resumes exactly the sessions it paused when it returns. User-initiated
// pauses are left alone.
func (o *Orchestrator) WatchConnectivity(ctx context.Context, conn Connectivity) {
	ch := conn.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case online := <-ch:
				if online {
					o.resumeNetworkPaused()
				} else {
					o.pauseForNetwork()
				}
			}
		}
	}()
}

func (o *Orchestrator) pauseForNetwork() {
	o.mu.Lock()
	var snaps []Snapshot
	for _, s := range o.sessions {
		if s.Status == StatusUploading {
			s.Status = StatusPaused
			s.pausedByNetwork = true
			snaps = append(snaps, s.snapshot())
		}
	}
	o.mu.Unlock()

	for _, snap := range snaps {
		_ = o.snapshots.Save(snap)
	}
}

func (o *Orchestrator) resumeNetworkPaused() {
	o.mu.Lock()
	var fileIDs []string
	for fileID, s := range o.sessions {
		if s.Status == StatusPaused && s.pausedByNetwork && s.source != nil {
			fileIDs = append(fileIDs, fileID)
		}
	}
	o.mu.Unlock()

	for _, fileID := range fileIDs {
		if err := o.ResumeUpload(fileID, nil, Callbacks{}); err != nil {
			logger.Warnf("auto-resume of %s after reconnect failed: %v", fileID, err)
		}
	}
}

// run is the per-session transfer loop: one chunk in flight at a time, in
// increasing index order, then the completion call.
func (o *Orchestrator) run(s *session) {
	o.slots <- struct{}{}
	defer func() { <-o.slots }()

	o.mu.Lock()
	if s.Status == StatusQueued {
		s.Status = StatusUploading
	}
	if s.Status != StatusUploading {
		// Paused or cancelled while waiting for a slot.
		s.running = false
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	for {
		o.mu.Lock()
		if s.Status != StatusUploading {
			s.running = false
			o.mu.Unlock()
			return
		}
		idx, remaining := s.nextUnacked()
		if !remaining {
			o.mu.Unlock()
			break
		}
		source := s.source
		size := s.chunkByteSize(idx)
		o.mu.Unlock()

		data := make([]byte, size)
		n, err := source.ReadAt(data, int64(idx)*s.ChunkSize)
		if err != nil && err != io.EOF {
			o.fail(s, fmt.Errorf("read chunk %d: %w", idx, err))
			return
		}
		// A source shorter than the declared size must fail the session, not
		// send a padded buffer.
		if int64(n) != size {
			o.fail(s, fmt.Errorf("read chunk %d: source ended after %d of %d bytes", idx, n, size))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.RequestTimeout)
		_, err = o.api.sendChunk(ctx, s, idx, data)
		cancel()
		if err != nil {
			var srvErr *serverError
			if errors.As(err, &srvErr) && !srvErr.retryable() {
				o.fail(s, err)
				return
			}
			if !o.backoff(s, err) {
				return
			}
			continue
		}

		// The session may have been cancelled while the send was in flight;
		// recording the ack then would resurrect a deleted snapshot, and the
		// just-landed chunk re-registered server-side after the cleanup.
		o.mu.Lock()
		if s.Status != StatusUploading {
			cancelled := s.Status == StatusCancelled
			s.running = false
			o.mu.Unlock()
			if cancelled {
				o.cleanupAfterCancel(s.FileID)
			}
			return
		}
		s.acked[idx] = struct{}{}
		s.RetryCount = 0
		s.Error = ""
		s.recomputeProgress()
		snap := s.snapshot()
		view := s.UploadSession
		onProgress := s.callbacks.OnProgress
		o.mu.Unlock()

		_ = o.snapshots.Save(snap)
		if onProgress != nil {
			onProgress(view)
		}
	}

	o.complete(s)
}

// complete runs the completion call once every chunk is acknowledged. On
// failure the session goes to failed with its chunks intact server-side, so a
// retry re-runs only this step.
func (o *Orchestrator) complete(s *session) {
	for {
		o.mu.Lock()
		if s.Status != StatusUploading {
			s.running = false
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.RequestTimeout)
		file, err := o.api.complete(ctx, s)
		cancel()
		if err != nil {
			var srvErr *serverError
			if errors.As(err, &srvErr) && !srvErr.retryable() {
				o.fail(s, err)
				return
			}
			if !o.backoff(s, err) {
				return
			}
			continue
		}

		o.mu.Lock()
		if s.Status != StatusUploading {
			s.running = false
			o.mu.Unlock()
			return
		}
		s.Status = StatusCompleted
		s.recomputeProgress()
		s.running = false
		snap := s.snapshot()
		view := s.UploadSession
		onCompleted := s.callbacks.OnCompleted
		o.mu.Unlock()

		_ = o.snapshots.Save(snap)
		if onCompleted != nil {
			onCompleted(view, file)
		}
		return
	}
}

// backoff records a transient failure and sleeps before the next attempt.
// Returns false once the retry ceiling is exceeded, after moving the session
// to failed.
func (o *Orchestrator) backoff(s *session, cause error) bool {
	o.mu.Lock()
	s.RetryCount++
	retries := s.RetryCount
	o.mu.Unlock()

	if retries > o.opts.MaxRetries {
		o.fail(s, fmt.Errorf("retries exhausted: %w", cause))
		return false
	}

	delay := o.opts.RetryBaseDelay << (retries - 1)
	if delay > o.opts.RetryMaxDelay || delay <= 0 {
		delay = o.opts.RetryMaxDelay
	}
	time.Sleep(delay)
	return true
}

// fail moves a session to failed, keeping it resumable. Prior progress stays
// intact: only unacknowledged chunks will be re-sent.
func (o *Orchestrator) fail(s *session, cause error) {
	o.mu.Lock()
	if s.Status.Terminal() {
		s.running = false
		o.mu.Unlock()
		return
	}
	s.Status = StatusFailed
	s.Error = cause.Error()
	s.running = false
	snap := s.snapshot()
	view := s.UploadSession
	onFailed := s.callbacks.OnFailed
	o.mu.Unlock()

	_ = o.snapshots.Save(snap)
	if onFailed != nil {
		onFailed(view, cause)
	}
}
