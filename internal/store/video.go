package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Nxdus/clustra-project/internal/store/model"
)

// VideoUpdate carries the fields of a multi-field atomic update. Nil fields
// are left untouched.
type VideoUpdate struct {
	Status   *model.VideoStatus
	Progress *float64
	Message  *string
}

type Video interface {
	Create(ctx context.Context, video model.Video) (*model.Video, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Video, error)
	List(ctx context.Context, userID string) (model.VideoList, error)
	Update(ctx context.Context, id uuid.UUID, update VideoUpdate) (*model.Video, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context, limit int) (model.VideoList, error)
	ClaimPending(ctx context.Context, limit int) (model.VideoList, error)
	ListStale(ctx context.Context, olderThan time.Time) (model.VideoList, error)
	Complete(ctx context.Context, id uuid.UUID, fileSize int64) (*model.Video, error)
	InitialMigration() error
}

type VideoStore struct {
	db *gorm.DB
}

// Make sure we conform to Video interface
var _ Video = (*VideoStore)(nil)

func NewVideoStore(db *gorm.DB) Video {
	return &VideoStore{db: db}
}

func (s *VideoStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Video{})
}

func (s *VideoStore) Create(ctx context.Context, video model.Video) (*model.Video, error) {
	result := s.getDB(ctx).Create(&video)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating video: %w", result.Error)
	}
	return &video, nil
}

func (s *VideoStore) Get(ctx context.Context, id uuid.UUID) (*model.Video, error) {
	var video model.Video
	result := s.getDB(ctx).First(&video, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying video: %w", result.Error)
	}
	return &video, nil
}

func (s *VideoStore) List(ctx context.Context, userID string) (model.VideoList, error) {
	var videos model.VideoList
	result := s.getDB(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&videos)
	if result.Error != nil {
		return nil, fmt.Errorf("listing videos: %w", result.Error)
	}
	return videos, nil
}

// Update applies a multi-field update in a single statement. Rows already in
// a terminal status are never touched.
func (s *VideoStore) Update(ctx context.Context, id uuid.UUID, update VideoUpdate) (*model.Video, error) {
	video := model.Video{ID: id}
	selectFields := []string{}
	if update.Status != nil {
		video.Status = *update.Status
		selectFields = append(selectFields, "status")
	}
	if update.Progress != nil {
		video.Progress = *update.Progress
		selectFields = append(selectFields, "progress")
	}
	if update.Message != nil {
		video.Message = *update.Message
		selectFields = append(selectFields, "message")
	}
	if len(selectFields) == 0 {
		return s.Get(ctx, id)
	}

	result := s.getDB(ctx).Model(&video).
		Clauses(clause.Returning{}).
		Select(selectFields).
		Where("status NOT IN ?", terminalStatuses()).
		Updates(&video)
	if result.Error != nil {
		return nil, fmt.Errorf("updating video: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrTerminalStatus
	}

	return &video, nil
}

func (s *VideoStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx).Delete(&model.Video{}, "id = ?", id)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("deleting video: %w", result.Error)
	}
	return nil
}

// ListPending reads up to limit PENDING rows, oldest first, without claiming
// them. Sweeps go through ClaimPending; this is the read-only view.
func (s *VideoStore) ListPending(ctx context.Context, limit int) (model.VideoList, error) {
	var videos model.VideoList
	result := s.getDB(ctx).
		Where("status = ?", model.VideoStatusPending).
		Order("created_at").
		Limit(limit).
		Find(&videos)
	if result.Error != nil {
		return nil, fmt.Errorf("listing pending videos: %w", result.Error)
	}
	return videos, nil
}

// ClaimPending atomically flips up to limit PENDING rows, oldest first, to
// PROCESSING and returns them. The conditional update is the only cross-worker
// synchronization point, so two sweeps never claim the same row.
func (s *VideoStore) ClaimPending(ctx context.Context, limit int) (model.VideoList, error) {
	var claimed model.VideoList

	sub := s.getDB(ctx).Model(&model.Video{}).
		Select("id").
		Where("status = ?", model.VideoStatusPending).
		Order("created_at").
		Limit(limit)

	result := s.getDB(ctx).Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id IN (?)", sub).
		Update("status", model.VideoStatusProcessing)
	if result.Error != nil {
		return nil, fmt.Errorf("claiming pending videos: %w", result.Error)
	}

	return claimed, nil
}

// ListStale returns mid-flight rows untouched since olderThan. Progress
// writes refresh updated_at, so a row past the cutoff belongs to a worker
// that died. Callers purge the jobs' partial state and reset them to PENDING
// so a sweep reruns them from scratch.
func (s *VideoStore) ListStale(ctx context.Context, olderThan time.Time) (model.VideoList, error) {
	var videos model.VideoList
	result := s.getDB(ctx).
		Where("status IN ? AND updated_at < ?", []model.VideoStatus{model.VideoStatusProcessing, model.VideoStatusUploading}, olderThan).
		Order("created_at").
		Find(&videos)
	if result.Error != nil {
		return nil, fmt.Errorf("listing stale videos: %w", result.Error)
	}
	return videos, nil
}

// Complete marks the video COMPLETED with its final size and increments the
// owner's storage counter. Both writes commit in one transaction; the file
// size is set exactly once.
func (s *VideoStore) Complete(ctx context.Context, id uuid.UUID, fileSize int64) (*model.Video, error) {
	var video model.Video

	err := s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&video, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		if video.Status.Terminal() {
			return ErrTerminalStatus
		}

		result := tx.Model(&video).
			Where("status NOT IN ?", terminalStatuses()).
			Updates(map[string]interface{}{
				"status":    model.VideoStatusCompleted,
				"progress":  100.0,
				"file_size": fileSize,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTerminalStatus
		}

		return tx.Model(&model.User{}).
			Where("id = ?", video.UserID).
			Update("total_storage_used", gorm.Expr("total_storage_used + ?", fileSize)).Error
	})
	if err != nil {
		return nil, err
	}

	video.Status = model.VideoStatusCompleted
	video.Progress = 100.0
	video.FileSize = &fileSize
	return &video, nil
}

func (s *VideoStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}

func terminalStatuses() []model.VideoStatus {
	return []model.VideoStatus{
		model.VideoStatusCompleted,
		model.VideoStatusError,
		model.VideoStatusAborted,
	}
}
