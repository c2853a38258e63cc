package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"skyvault/config"
	"skyvault/logger"
	"skyvault/models"
	"skyvault/repositories"
	"skyvault/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReceiveChunkInput struct {
	FileID      string
	ChunkIndex  int
	TotalChunks int
	WorkspaceID uint
	FolderID    uint
	Chunk       multipart.File
}

type ReceiveChunkOutput struct {
	ChunkIndex     int    `json:"chunk_index"`
	UploadedChunks int64  `json:"uploaded_chunks"`
	TotalChunks    int    `json:"total_chunks"`
	Message        string `json:"message,omitempty"`
}

type CompleteUploadInput struct {
	FileID      string
	FileName    string
	FileSize    int64
	MimeType    string
	TotalChunks int
	WorkspaceID uint
	FolderID    uint
}

type UploadStatusOutput struct {
	FileID         string `json:"file_id"`
	UploadedChunks []int  `json:"uploaded_chunks"`
}

type UploadService interface {
	ReceiveChunk(ctx context.Context, userID uint, in ReceiveChunkInput) (ReceiveChunkOutput, error)
	CompleteUpload(ctx context.Context, userID uint, in CompleteUploadInput) (models.File, error)
	GetUploadStatus(ctx context.Context, userID uint, fileID string) (UploadStatusOutput, error)
	CancelUpload(ctx context.Context, userID uint, fileID string) error
	UploadDirect(ctx context.Context, userID uint, workspaceID uint, folderID uint, file multipart.File, header *multipart.FileHeader) (models.File, error)
}

type uploadService struct {
	txManager  TxManager
	files      repositories.FileRepository
	activities repositories.ActivityLogRepository
	registry   repositories.ChunkRegistry
	blobs      storage.BlobStore
	guard      WorkspaceGuard
}

func NewUploadService(
	txManager TxManager,
	files repositories.FileRepository,
	activities repositories.ActivityLogRepository,
	registry repositories.ChunkRegistry,
	blobs storage.BlobStore,
	guard WorkspaceGuard,
) UploadService {
	return &uploadService{
		txManager:  txManager,
		files:      files,
		activities: activities,
		registry:   registry,
		blobs:      blobs,
		guard:      guard,
	}
}

func tempChunkKey(fileID string, chunkIndex int) string {
	return fmt.Sprintf("temp/%s/chunk_%d", fileID, chunkIndex)
}

func tempChunkPrefix(fileID string) string {
	return "temp/" + fileID
}

// validFileID rejects identifiers that could steer blob keys outside the
// upload's temp namespace. The client sends UUIDs; anything with path
// characters is hostile or broken.
func validFileID(fileID string) bool {
	if fileID == "" {
		return false
	}
	if strings.ContainsAny(fileID, "/\\") || strings.Contains(fileID, "..") {
		return false
	}
	return true
}

// checkOwner rejects operations on an upload claimed by another user. An
// upload with no recorded owner has no state worth protecting.
func (s *uploadService) checkOwner(ctx context.Context, userID uint, fileID string) error {
	owner, err := s.registry.Owner(ctx, fileID)
	if err != nil {
		return newAppError(http.StatusInternalServerError, "failed to query upload owner", err)
	}
	if owner != 0 && owner != userID {
		return newAppError(http.StatusForbidden, "upload belongs to another user", nil)
	}
	return nil
}

// ReceiveChunk durably persists one chunk. The registry is only updated after
// the bytes are written, so registry and storage cannot diverge: an index in
// the set always has bytes behind it.
func (s *uploadService) ReceiveChunk(ctx context.Context, userID uint, in ReceiveChunkInput) (ReceiveChunkOutput, error) {
	if !validFileID(in.FileID) {
		return ReceiveChunkOutput{}, newAppError(http.StatusBadRequest, "invalid file_id", nil)
	}
	if in.TotalChunks < 1 {
		return ReceiveChunkOutput{}, newAppError(http.StatusBadRequest, "total_chunks must be positive", nil)
	}
	if in.ChunkIndex < 0 || in.ChunkIndex >= in.TotalChunks {
		return ReceiveChunkOutput{}, newAppError(http.StatusBadRequest,
			fmt.Sprintf("chunk_index %d out of range [0, %d)", in.ChunkIndex, in.TotalChunks), nil)
	}

	if err := s.guard.CanUpload(ctx, userID, in.WorkspaceID); err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusForbidden, "not allowed to upload into workspace", err)
	}

	// First chunk claims the upload for this user; later chunks must come from
	// the same user.
	owner, err := s.registry.ClaimOwner(ctx, in.FileID, userID)
	if err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusInternalServerError, "failed to record upload owner", err)
	}
	if owner != userID {
		return ReceiveChunkOutput{}, newAppError(http.StatusForbidden, "upload belongs to another user", nil)
	}

	data, err := io.ReadAll(in.Chunk)
	if err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusBadRequest, "failed to read chunk body", err)
	}
	if len(data) == 0 {
		return ReceiveChunkOutput{}, newAppError(http.StatusBadRequest, "empty chunk body", nil)
	}

	// A re-sent index overwrites the bytes and leaves the registry set
	// unchanged, which makes chunk submission idempotent.
	if err := s.blobs.Write(ctx, tempChunkKey(in.FileID, in.ChunkIndex), data); err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusInternalServerError, "failed to persist chunk", errors.Join(ErrStorageFailure, err))
	}
	if err := s.registry.AddChunk(ctx, in.FileID, in.ChunkIndex); err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusInternalServerError, "failed to record chunk", errors.Join(ErrStorageFailure, err))
	}

	uploadedCount, err := s.registry.UploadedCount(ctx, in.FileID)
	if err != nil {
		return ReceiveChunkOutput{}, newAppError(http.StatusInternalServerError, "failed to query chunk progress", err)
	}

	return ReceiveChunkOutput{
		ChunkIndex:     in.ChunkIndex,
		UploadedChunks: uploadedCount,
		TotalChunks:    in.TotalChunks,
	}, nil
}

// CompleteUpload verifies coverage, assembles the final blob, and creates the
// file record plus its activity-log entry in one transaction. A metadata
// failure after the blob write triggers a compensating blob delete.
func (s *uploadService) CompleteUpload(ctx context.Context, userID uint, in CompleteUploadInput) (models.File, error) {
	if !validFileID(in.FileID) || in.FileName == "" {
		return models.File{}, newAppError(http.StatusBadRequest, "file_id and file_name are required", nil)
	}
	if in.TotalChunks < 1 {
		return models.File{}, newAppError(http.StatusBadRequest, "total_chunks must be positive", nil)
	}
	if in.FileSize > config.AppConfig.Upload.MaxFileSize {
		return models.File{}, newAppError(http.StatusBadRequest, "file size exceeds limit", nil)
	}

	if err := s.guard.CanUpload(ctx, userID, in.WorkspaceID); err != nil {
		return models.File{}, newAppError(http.StatusForbidden, "not allowed to upload into workspace", err)
	}
	if err := s.checkOwner(ctx, userID, in.FileID); err != nil {
		return models.File{}, err
	}

	// A completion retried after a lost response finds the record already
	// committed; return it instead of assembling again.
	if existing, err := s.files.GetByFileID(ctx, nil, in.FileID); err == nil {
		if existing.OwnerID != userID {
			return models.File{}, newAppError(http.StatusForbidden, "upload belongs to another user", nil)
		}
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to query file record", err)
	}

	uploadedCount, err := s.registry.UploadedCount(ctx, in.FileID)
	if err != nil {
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to query chunk progress", err)
	}
	if int(uploadedCount) < in.TotalChunks {
		return models.File{}, newAppErrorWithData(http.StatusBadRequest,
			fmt.Sprintf("upload incomplete: %d/%d chunks received", uploadedCount, in.TotalChunks),
			map[string]interface{}{
				"uploaded_chunks": uploadedCount,
				"total_chunks":    in.TotalChunks,
			},
			ErrIncompleteUpload)
	}

	// Assemble in strict index order. The true size is the sum of received
	// chunk lengths; the client-declared size is only validated against it.
	var assembled bytes.Buffer
	for i := 0; i < in.TotalChunks; i++ {
		chunkData, err := s.blobs.Read(ctx, tempChunkKey(in.FileID, i))
		if err != nil {
			return models.File{}, newAppError(http.StatusInternalServerError,
				fmt.Sprintf("failed to read chunk %d", i), errors.Join(ErrStorageFailure, err))
		}
		assembled.Write(chunkData)
	}

	if int64(assembled.Len()) != in.FileSize {
		return models.File{}, newAppError(http.StatusBadRequest,
			fmt.Sprintf("declared size %d does not match assembled size %d", in.FileSize, assembled.Len()),
			ErrSizeMismatch)
	}

	now := time.Now()
	storageName := uuid.New().String() + "_" + sanitizeFilename(in.FileName)
	finalKey := path.Join("files", fmt.Sprintf("%d", userID), now.Format("2006"), now.Format("01"), storageName)

	if err := s.blobs.Write(ctx, finalKey, assembled.Bytes()); err != nil {
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to write final blob", errors.Join(ErrStorageFailure, err))
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = getMimeType(filepath.Ext(in.FileName))
	}

	fileRecord := models.File{
		FileID:       in.FileID,
		Name:         storageName,
		OriginalName: in.FileName,
		StorageKey:   finalKey,
		FileSize:     int64(assembled.Len()),
		MimeType:     mimeType,
		OwnerID:      userID,
		WorkspaceID:  in.WorkspaceID,
		FolderID:     in.FolderID,
	}

	err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.files.Create(ctx, tx, &fileRecord); err != nil {
			return err
		}
		return s.activities.Create(ctx, tx, &models.ActivityLog{
			UserID:      userID,
			WorkspaceID: in.WorkspaceID,
			Action:      "upload",
			TargetType:  "file",
			TargetID:    fileRecord.ID,
			Detail:      in.FileName,
		})
	})
	if err != nil {
		// The final blob is already on disk; without this delete it would be
		// orphaned with no record referencing it.
		if delErr := s.blobs.Delete(ctx, finalKey); delErr != nil {
			logger.Warnf("reconciliation debt: orphaned blob %s could not be deleted: %v", finalKey, delErr)
		}
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to save file record", errors.Join(ErrMetadataFailure, err))
	}

	if err := s.blobs.DeletePrefix(ctx, tempChunkPrefix(in.FileID)); err != nil {
		logger.Warnf("failed to remove temp chunks for %s: %v", in.FileID, err)
	}
	if err := s.registry.Clear(ctx, in.FileID); err != nil {
		logger.Warnf("failed to clear chunk registry for %s: %v", in.FileID, err)
	}

	return fileRecord, nil
}

func (s *uploadService) GetUploadStatus(ctx context.Context, userID uint, fileID string) (UploadStatusOutput, error) {
	if !validFileID(fileID) {
		return UploadStatusOutput{}, newAppError(http.StatusBadRequest, "invalid file_id", nil)
	}
	if err := s.checkOwner(ctx, userID, fileID); err != nil {
		return UploadStatusOutput{}, err
	}

	uploadedChunks, err := s.registry.UploadedChunks(ctx, fileID)
	if err != nil {
		return UploadStatusOutput{}, newAppError(http.StatusInternalServerError, "failed to query chunk progress", err)
	}
	sort.Ints(uploadedChunks)

	return UploadStatusOutput{FileID: fileID, UploadedChunks: uploadedChunks}, nil
}

// CancelUpload proactively removes a cancelled upload's temp chunks and
// registry entry rather than leaving them to the cleanup sweep.
func (s *uploadService) CancelUpload(ctx context.Context, userID uint, fileID string) error {
	if !validFileID(fileID) {
		return newAppError(http.StatusBadRequest, "invalid file_id", nil)
	}
	if err := s.checkOwner(ctx, userID, fileID); err != nil {
		return err
	}

	if err := s.blobs.DeletePrefix(ctx, tempChunkPrefix(fileID)); err != nil {
		return newAppError(http.StatusInternalServerError, "failed to remove temp chunks", errors.Join(ErrStorageFailure, err))
	}
	if err := s.registry.Clear(ctx, fileID); err != nil {
		return newAppError(http.StatusInternalServerError, "failed to clear chunk registry", err)
	}
	return nil
}

// UploadDirect is the single-request path for files small enough to not need
// chunking. It shares the blob-write and transactional-record semantics of
// CompleteUpload.
func (s *uploadService) UploadDirect(ctx context.Context, userID uint, workspaceID uint, folderID uint, file multipart.File, header *multipart.FileHeader) (models.File, error) {
	if header.Size > config.AppConfig.Upload.MaxFileSize {
		return models.File{}, newAppError(http.StatusBadRequest, "file size exceeds limit", nil)
	}

	if err := s.guard.CanUpload(ctx, userID, workspaceID); err != nil {
		return models.File{}, newAppError(http.StatusForbidden, "not allowed to upload into workspace", err)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return models.File{}, newAppError(http.StatusBadRequest, "failed to read upload body", err)
	}

	now := time.Now()
	storageName := uuid.New().String() + "_" + sanitizeFilename(header.Filename)
	finalKey := path.Join("files", fmt.Sprintf("%d", userID), now.Format("2006"), now.Format("01"), storageName)

	if err := s.blobs.Write(ctx, finalKey, data); err != nil {
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to write final blob", errors.Join(ErrStorageFailure, err))
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = getMimeType(filepath.Ext(header.Filename))
	}

	fileRecord := models.File{
		FileID:       uuid.New().String(),
		Name:         storageName,
		OriginalName: header.Filename,
		StorageKey:   finalKey,
		FileSize:     int64(len(data)),
		MimeType:     mimeType,
		OwnerID:      userID,
		WorkspaceID:  workspaceID,
		FolderID:     folderID,
	}

	err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.files.Create(ctx, tx, &fileRecord); err != nil {
			return err
		}
		return s.activities.Create(ctx, tx, &models.ActivityLog{
			UserID:      userID,
			WorkspaceID: workspaceID,
			Action:      "upload",
			TargetType:  "file",
			TargetID:    fileRecord.ID,
			Detail:      header.Filename,
		})
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, finalKey); delErr != nil {
			logger.Warnf("reconciliation debt: orphaned blob %s could not be deleted: %v", finalKey, delErr)
		}
		return models.File{}, newAppError(http.StatusInternalServerError, "failed to save file record", errors.Join(ErrMetadataFailure, err))
	}

	return fileRecord, nil
}
