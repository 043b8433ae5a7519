package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "PENDING"
	VideoStatusProcessing VideoStatus = "PROCESSING"
	VideoStatusUploading  VideoStatus = "UPLOADING"
	VideoStatusCompleted  VideoStatus = "COMPLETED"
	VideoStatusError      VideoStatus = "ERROR"
	VideoStatusAborted    VideoStatus = "ABORTED"
)

// Terminal reports whether the status permits no further mutation.
func (s VideoStatus) Terminal() bool {
	switch s {
	case VideoStatusCompleted, VideoStatusError, VideoStatusAborted:
		return true
	default:
		return false
	}
}

type Video struct {
	ID       uuid.UUID `gorm:"primaryKey;"`
	UserID   string    `gorm:"index;not null"`
	Name     string    `gorm:"uniqueIndex;not null"`
	Key      string    `gorm:"not null"`
	URL      string
	Status   VideoStatus `gorm:"type:VARCHAR;size:20;not null"`
	Progress float64
	FileSize *int64
	Message  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type VideoList []Video

func (v Video) String() string {
	val, _ := json.Marshal(v)
	return string(val)
}
