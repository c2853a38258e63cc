package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"

	"skyvault/config"
	"skyvault/models"
	"skyvault/repositories"

	"gorm.io/gorm"
)

type fakeTxManager struct {
	err error
}

func (m fakeTxManager) WithTransaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	if m.err != nil {
		return m.err
	}
	return fn(nil)
}

type fakeFileRepo struct {
	created []models.File
	nextID  uint
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{nextID: 1}
}

func (r *fakeFileRepo) Create(_ context.Context, _ *gorm.DB, file *models.File) error {
	if file.ID == 0 {
		file.ID = r.nextID
		r.nextID++
	}
	r.created = append(r.created, *file)
	return nil
}

func (r *fakeFileRepo) GetByFileID(_ context.Context, _ *gorm.DB, fileID string) (models.File, error) {
	for _, f := range r.created {
		if f.FileID == fileID {
			return f, nil
		}
	}
	return models.File{}, gorm.ErrRecordNotFound
}

type fakeActivityRepo struct {
	created []models.ActivityLog
}

func (r *fakeActivityRepo) Create(_ context.Context, _ *gorm.DB, entry *models.ActivityLog) error {
	r.created = append(r.created, *entry)
	return nil
}

type memBlobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	writeErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Write(_ context.Context, key string, data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memBlobStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func (s *memBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *memBlobStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			delete(s.blobs, key)
		}
	}
	return nil
}

func (s *memBlobStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.blobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memBlobStore) keysWithPrefix(prefix string) []string {
	keys, _ := s.ListKeys(context.Background(), prefix)
	return keys
}

type chunkBody struct {
	*bytes.Reader
}

func (chunkBody) Close() error { return nil }

func makeChunk(data []byte) multipart.File {
	return chunkBody{bytes.NewReader(data)}
}

func setTestConfig() {
	config.AppConfig = &config.Config{
		Upload: config.UploadConfig{
			MaxFileSize: 100 * 1024 * 1024,
			ChunkSize:   1024,
		},
	}
}

func newTestUploadService(files *fakeFileRepo, activities *fakeActivityRepo, registry repositories.ChunkRegistry, blobs *memBlobStore, tx TxManager) UploadService {
	if tx == nil {
		tx = fakeTxManager{}
	}
	return NewUploadService(tx, files, activities, registry, blobs, NewAllowAllGuard())
}

func TestReceiveChunkRejectsOutOfRangeIndex(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)

	_, err := svc.ReceiveChunk(context.Background(), 1, ReceiveChunkInput{
		FileID:      "upload-1",
		ChunkIndex:  5,
		TotalChunks: 5,
		Chunk:       makeChunk([]byte("data")),
	})
	if err == nil {
		t.Fatalf("expected out-of-range chunk index to be rejected")
	}
	appErr, ok := err.(*AppError)
	if !ok || appErr.HTTPCode != http.StatusBadRequest {
		t.Fatalf("expected HTTP 400 AppError, got %v", err)
	}
	if len(blobs.keysWithPrefix("temp/")) != 0 {
		t.Fatalf("expected no chunk to be written")
	}
}

func TestFileIDWithPathCharactersIsRejected(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)
	ctx := context.Background()

	for _, fileID := range []string{"", "..", "../../evil", "a/b", `a\b`, "a..b"} {
		_, err := svc.ReceiveChunk(ctx, 1, ReceiveChunkInput{
			FileID:      fileID,
			ChunkIndex:  0,
			TotalChunks: 2,
			Chunk:       makeChunk([]byte("data")),
		})
		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.HTTPCode != http.StatusBadRequest {
			t.Fatalf("ReceiveChunk(%q) = %v, want HTTP 400", fileID, err)
		}

		if err := svc.CancelUpload(ctx, 1, fileID); !errors.As(err, &appErr) || appErr.HTTPCode != http.StatusBadRequest {
			t.Fatalf("CancelUpload(%q) = %v, want HTTP 400", fileID, err)
		}
		if _, err := svc.GetUploadStatus(ctx, 1, fileID); !errors.As(err, &appErr) || appErr.HTTPCode != http.StatusBadRequest {
			t.Fatalf("GetUploadStatus(%q) = %v, want HTTP 400", fileID, err)
		}
		if _, err := svc.CompleteUpload(ctx, 1, CompleteUploadInput{
			FileID: fileID, FileName: "x.bin", FileSize: 4, TotalChunks: 1,
		}); !errors.As(err, &appErr) || appErr.HTTPCode != http.StatusBadRequest {
			t.Fatalf("CompleteUpload(%q) = %v, want HTTP 400", fileID, err)
		}
	}

	if keys, _ := blobs.ListKeys(ctx, ""); len(keys) != 0 {
		t.Fatalf("rejected requests must not write blobs: %v", keys)
	}
}

func TestUploadIsScopedToItsOwner(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)
	ctx := context.Background()

	// User 1 claims the upload with its first chunk.
	if _, err := svc.ReceiveChunk(ctx, 1, ReceiveChunkInput{
		FileID: "upload-1", ChunkIndex: 0, TotalChunks: 2, Chunk: makeChunk([]byte("aa")),
	}); err != nil {
		t.Fatalf("ReceiveChunk returned error: %v", err)
	}

	assertForbidden := func(op string, err error) {
		t.Helper()
		var appErr *AppError
		if !errors.As(err, &appErr) || appErr.HTTPCode != http.StatusForbidden {
			t.Fatalf("%s by another user = %v, want HTTP 403", op, err)
		}
	}

	_, err := svc.ReceiveChunk(ctx, 2, ReceiveChunkInput{
		FileID: "upload-1", ChunkIndex: 1, TotalChunks: 2, Chunk: makeChunk([]byte("bb")),
	})
	assertForbidden("ReceiveChunk", err)
	_, err = svc.GetUploadStatus(ctx, 2, "upload-1")
	assertForbidden("GetUploadStatus", err)
	assertForbidden("CancelUpload", svc.CancelUpload(ctx, 2, "upload-1"))
	_, err = svc.CompleteUpload(ctx, 2, CompleteUploadInput{
		FileID: "upload-1", FileName: "x.bin", FileSize: 2, TotalChunks: 1,
	})
	assertForbidden("CompleteUpload", err)

	// The owner is unaffected.
	count, _ := registry.UploadedCount(ctx, "upload-1")
	if count != 1 {
		t.Fatalf("owner's chunks were disturbed, count %d", count)
	}
	if _, err := svc.GetUploadStatus(ctx, 1, "upload-1"); err != nil {
		t.Fatalf("owner's status query returned error: %v", err)
	}
}

func TestReceiveChunkIsIdempotent(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)

	for i := 0; i < 3; i++ {
		out, err := svc.ReceiveChunk(context.Background(), 1, ReceiveChunkInput{
			FileID:      "upload-1",
			ChunkIndex:  0,
			TotalChunks: 4,
			Chunk:       makeChunk([]byte("chunk-zero")),
		})
		if err != nil {
			t.Fatalf("ReceiveChunk attempt %d returned error: %v", i, err)
		}
		if out.UploadedChunks != 1 {
			t.Fatalf("expected registry cardinality 1 after resend, got %d", out.UploadedChunks)
		}
	}

	data, err := blobs.Read(context.Background(), "temp/upload-1/chunk_0")
	if err != nil {
		t.Fatalf("chunk blob missing: %v", err)
	}
	if string(data) != "chunk-zero" {
		t.Fatalf("stored bytes corrupted by resend: %q", data)
	}
}

func TestReceiveChunkDoesNotRegisterOnStorageFailure(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	blobs.writeErr = errors.New("disk full")
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)

	_, err := svc.ReceiveChunk(context.Background(), 1, ReceiveChunkInput{
		FileID:      "upload-1",
		ChunkIndex:  0,
		TotalChunks: 2,
		Chunk:       makeChunk([]byte("data")),
	})
	if err == nil {
		t.Fatalf("expected storage failure to propagate")
	}
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}

	count, _ := registry.UploadedCount(context.Background(), "upload-1")
	if count != 0 {
		t.Fatalf("registry mutated despite failed write: count %d", count)
	}
}

func uploadAllChunks(t *testing.T, svc UploadService, fileID string, chunks [][]byte) {
	t.Helper()
	for i, data := range chunks {
		_, err := svc.ReceiveChunk(context.Background(), 1, ReceiveChunkInput{
			FileID:      fileID,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Chunk:       makeChunk(data),
		})
		if err != nil {
			t.Fatalf("ReceiveChunk %d returned error: %v", i, err)
		}
	}
}

func TestCompleteUploadFailsWhileIncomplete(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	files := newFakeFileRepo()
	svc := newTestUploadService(files, &fakeActivityRepo{}, registry, blobs, nil)

	// Only 2 of 4 chunks present; completion must fail regardless of which
	// indices are missing.
	uploadAllChunksSubset(t, svc, "upload-1", 4, map[int][]byte{0: []byte("aa"), 3: []byte("bb")})

	_, err := svc.CompleteUpload(context.Background(), 1, CompleteUploadInput{
		FileID:      "upload-1",
		FileName:    "report.pdf",
		FileSize:    4,
		TotalChunks: 4,
	})
	if !errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("expected ErrIncompleteUpload, got %v", err)
	}

	appErr := err.(*AppError)
	data, ok := appErr.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected gap data on incomplete error")
	}
	if data["uploaded_chunks"] != int64(2) || data["total_chunks"] != 4 {
		t.Fatalf("unexpected gap data: %#v", data)
	}
	if len(files.created) != 0 {
		t.Fatalf("file record must not be created for incomplete upload")
	}
}

func uploadAllChunksSubset(t *testing.T, svc UploadService, fileID string, total int, chunks map[int][]byte) {
	t.Helper()
	for idx, data := range chunks {
		_, err := svc.ReceiveChunk(context.Background(), 1, ReceiveChunkInput{
			FileID:      fileID,
			ChunkIndex:  idx,
			TotalChunks: total,
			Chunk:       makeChunk(data),
		})
		if err != nil {
			t.Fatalf("ReceiveChunk %d returned error: %v", idx, err)
		}
	}
}

func TestCompleteUploadAssemblesInOrderAndCleansUp(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	files := newFakeFileRepo()
	activities := &fakeActivityRepo{}
	svc := newTestUploadService(files, activities, registry, blobs, nil)

	chunks := [][]byte{[]byte("alpha-"), []byte("beta-"), []byte("gamma")}
	var want bytes.Buffer
	for _, c := range chunks {
		want.Write(c)
	}
	uploadAllChunks(t, svc, "upload-1", chunks)

	file, err := svc.CompleteUpload(context.Background(), 1, CompleteUploadInput{
		FileID:      "upload-1",
		FileName:    "notes.txt",
		FileSize:    int64(want.Len()),
		TotalChunks: len(chunks),
		WorkspaceID: 7,
	})
	if err != nil {
		t.Fatalf("CompleteUpload returned error: %v", err)
	}

	assembled, readErr := blobs.Read(context.Background(), file.StorageKey)
	if readErr != nil {
		t.Fatalf("final blob missing: %v", readErr)
	}
	if !bytes.Equal(assembled, want.Bytes()) {
		t.Fatalf("assembled blob differs from source")
	}
	if file.FileSize != int64(want.Len()) {
		t.Fatalf("expected recorded size %d, got %d", want.Len(), file.FileSize)
	}
	if file.MimeType != "text/plain" {
		t.Fatalf("expected MIME derived from extension, got %q", file.MimeType)
	}

	if len(files.created) != 1 {
		t.Fatalf("expected exactly one file record, got %d", len(files.created))
	}
	if len(activities.created) != 1 || activities.created[0].Action != "upload" {
		t.Fatalf("expected one upload activity entry, got %#v", activities.created)
	}
	if activities.created[0].TargetID != file.ID {
		t.Fatalf("activity entry must reference the file record")
	}

	if keys := blobs.keysWithPrefix("temp/upload-1"); len(keys) != 0 {
		t.Fatalf("temp chunks not removed: %v", keys)
	}
	count, _ := registry.UploadedCount(context.Background(), "upload-1")
	if count != 0 {
		t.Fatalf("registry entry not cleared, count %d", count)
	}
}

func TestCompleteUploadRepeatReturnsExistingRecord(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	files := newFakeFileRepo()
	svc := newTestUploadService(files, &fakeActivityRepo{}, registry, blobs, nil)

	uploadAllChunks(t, svc, "upload-1", [][]byte{[]byte("abcd")})

	in := CompleteUploadInput{
		FileID:      "upload-1",
		FileName:    "data.bin",
		FileSize:    4,
		TotalChunks: 1,
	}
	first, err := svc.CompleteUpload(context.Background(), 1, in)
	if err != nil {
		t.Fatalf("first CompleteUpload returned error: %v", err)
	}

	// The client lost the response and retries; the committed record comes
	// back instead of a second assembly attempt.
	second, err := svc.CompleteUpload(context.Background(), 1, in)
	if err != nil {
		t.Fatalf("repeated CompleteUpload returned error: %v", err)
	}
	if second.ID != first.ID || second.StorageKey != first.StorageKey {
		t.Fatalf("repeat returned a different record: %+v vs %+v", second, first)
	}
	if len(files.created) != 1 {
		t.Fatalf("repeat created a duplicate record, %d records", len(files.created))
	}
}

func TestCompleteUploadRejectsSizeMismatch(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	files := newFakeFileRepo()
	svc := newTestUploadService(files, &fakeActivityRepo{}, registry, blobs, nil)

	uploadAllChunks(t, svc, "upload-1", [][]byte{[]byte("1234"), []byte("5678")})

	_, err := svc.CompleteUpload(context.Background(), 1, CompleteUploadInput{
		FileID:      "upload-1",
		FileName:    "data.bin",
		FileSize:    9999,
		TotalChunks: 2,
	})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if len(files.created) != 0 {
		t.Fatalf("file record must not be created on size mismatch")
	}
	if len(blobs.keysWithPrefix("files/")) != 0 {
		t.Fatalf("no final blob may exist after size mismatch")
	}
}

func TestCompleteUploadCompensatesAfterMetadataFailure(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs,
		fakeTxManager{err: errors.New("deadlock")})

	uploadAllChunks(t, svc, "upload-1", [][]byte{[]byte("abcd")})

	_, err := svc.CompleteUpload(context.Background(), 1, CompleteUploadInput{
		FileID:      "upload-1",
		FileName:    "data.bin",
		FileSize:    4,
		TotalChunks: 1,
	})
	if !errors.Is(err, ErrMetadataFailure) {
		t.Fatalf("expected ErrMetadataFailure, got %v", err)
	}

	if keys := blobs.keysWithPrefix("files/"); len(keys) != 0 {
		t.Fatalf("orphaned final blob left behind: %v", keys)
	}
	// Chunks stay so the client can retry just the completion step.
	if keys := blobs.keysWithPrefix("temp/upload-1"); len(keys) != 1 {
		t.Fatalf("temp chunks must survive a metadata failure, got %v", keys)
	}
}

func TestCancelUploadRemovesChunksAndRegistry(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)

	uploadAllChunksSubset(t, svc, "upload-1", 5, map[int][]byte{0: []byte("a"), 1: []byte("b"), 2: []byte("c")})

	if err := svc.CancelUpload(context.Background(), 1, "upload-1"); err != nil {
		t.Fatalf("CancelUpload returned error: %v", err)
	}

	if keys := blobs.keysWithPrefix("temp/upload-1"); len(keys) != 0 {
		t.Fatalf("temp chunks not removed on cancel: %v", keys)
	}
	status, err := svc.GetUploadStatus(context.Background(), 1, "upload-1")
	if err != nil {
		t.Fatalf("GetUploadStatus returned error: %v", err)
	}
	if len(status.UploadedChunks) != 0 {
		t.Fatalf("expected empty chunk set after cancel, got %v", status.UploadedChunks)
	}
}

func TestGetUploadStatusReturnsSortedIndices(t *testing.T) {
	setTestConfig()
	blobs := newMemBlobStore()
	registry := repositories.NewMemoryChunkRegistry()
	svc := newTestUploadService(newFakeFileRepo(), &fakeActivityRepo{}, registry, blobs, nil)

	uploadAllChunksSubset(t, svc, "upload-1", 6, map[int][]byte{4: []byte("e"), 0: []byte("a"), 2: []byte("c")})

	status, err := svc.GetUploadStatus(context.Background(), 1, "upload-1")
	if err != nil {
		t.Fatalf("GetUploadStatus returned error: %v", err)
	}
	want := []int{0, 2, 4}
	if fmt.Sprint(status.UploadedChunks) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, status.UploadedChunks)
	}
}
