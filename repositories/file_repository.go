package repositories

import (
	"context"

	"skyvault/models"

	"gorm.io/gorm"
)

type GormFileRepository struct {
	db *gorm.DB
}

func NewGormFileRepository(db *gorm.DB) *GormFileRepository {
	return &GormFileRepository{db: db}
}

func (r *GormFileRepository) Create(_ context.Context, tx *gorm.DB, file *models.File) error {
	return useTx(r.db, tx).Create(file).Error
}

func (r *GormFileRepository) GetByFileID(_ context.Context, tx *gorm.DB, fileID string) (models.File, error) {
	var file models.File
	err := useTx(r.db, tx).Where("file_id = ?", fileID).First(&file).Error
	return file, err
}
