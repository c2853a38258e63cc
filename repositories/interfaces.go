package repositories

import (
	"context"

	"skyvault/models"

	"gorm.io/gorm"
)

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type FileRepository interface {
	Create(ctx context.Context, tx *gorm.DB, file *models.File) error
	GetByFileID(ctx context.Context, tx *gorm.DB, fileID string) (models.File, error)
}

type ActivityLogRepository interface {
	Create(ctx context.Context, tx *gorm.DB, entry *models.ActivityLog) error
}

// ChunkRegistry records which chunk indices have been durably received for an
// upload identifier, and which user owns the upload. Implementations must be
// additive-only per index: adding the same index twice is a no-op, and no
// operation ever replaces the whole set destructively.
type ChunkRegistry interface {
	IsChunkUploaded(ctx context.Context, fileID string, chunkIndex int) (bool, error)
	AddChunk(ctx context.Context, fileID string, chunkIndex int) error
	UploadedCount(ctx context.Context, fileID string) (int64, error)
	UploadedChunks(ctx context.Context, fileID string) ([]int, error)
	// ClaimOwner records userID as the upload's owner if none is recorded yet
	// and returns the owner on record afterwards.
	ClaimOwner(ctx context.Context, fileID string, userID uint) (uint, error)
	// Owner returns the recorded owner, or 0 for an unknown upload.
	Owner(ctx context.Context, fileID string) (uint, error)
	Clear(ctx context.Context, fileID string) error
}

type Container struct {
	TxManager  TxManager
	Files      FileRepository
	Activities ActivityLogRepository
	Registry   ChunkRegistry
}
