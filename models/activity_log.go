package models

import "time"

type ActivityLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	WorkspaceID uint      `gorm:"index" json:"workspace_id"`
	Action      string    `gorm:"type:varchar(50);not null" json:"action"`
	TargetType  string    `gorm:"type:varchar(50);not null" json:"target_type"`
	TargetID    uint      `gorm:"not null" json:"target_id"`
	Detail      string    `gorm:"type:varchar(500)" json:"detail"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
