package models

import "time"

// File is the permanent record of one completed upload. It is created exactly
// once, inside the same transaction as its activity-log entry, and is never
// updated afterwards.
type File struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"file_id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	OriginalName string    `gorm:"type:varchar(255);not null" json:"original_name"`
	StorageKey   string    `gorm:"type:varchar(1000);not null" json:"storage_key"`
	FileSize     int64     `gorm:"not null" json:"file_size"`
	MimeType     string    `gorm:"type:varchar(100)" json:"mime_type"`
	OwnerID      uint      `gorm:"not null;index" json:"owner_id"`
	WorkspaceID  uint      `gorm:"index" json:"workspace_id"`
	FolderID     uint      `gorm:"default:0;index" json:"folder_id"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
