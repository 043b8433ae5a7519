package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Nxdus/clustra-project/internal/store/model"
)

type User interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, user model.User) (*model.User, error)
	IncrementMonthlyUploads(ctx context.Context, id string) error
	ResetMonthlyWindow(ctx context.Context, id string, now time.Time) error
	AddStorageUsed(ctx context.Context, id string, bytes int64) error
	InitialMigration() error
}

type UserStore struct {
	db *gorm.DB
}

// Make sure we conform to User interface
var _ User = (*UserStore)(nil)

func NewUserStore(db *gorm.DB) User {
	return &UserStore{db: db}
}

func (s *UserStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.User{})
}

func (s *UserStore) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	result := s.getDB(ctx).First(&user, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying user: %w", result.Error)
	}
	return &user, nil
}

func (s *UserStore) Create(ctx context.Context, user model.User) (*model.User, error) {
	result := s.getDB(ctx).Create(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating user: %w", result.Error)
	}
	return &user, nil
}

func (s *UserStore) IncrementMonthlyUploads(ctx context.Context, id string) error {
	result := s.getDB(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("monthly_uploads", gorm.Expr("monthly_uploads + 1"))
	if result.Error != nil {
		return fmt.Errorf("incrementing monthly uploads: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ResetMonthlyWindow zeroes the monthly counter and stamps the reset time.
// The quota guard calls this lazily when the calendar month rolls over.
func (s *UserStore) ResetMonthlyWindow(ctx context.Context, id string, now time.Time) error {
	result := s.getDB(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"monthly_uploads":   0,
			"last_upload_reset": now,
		})
	if result.Error != nil {
		return fmt.Errorf("resetting monthly window: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AddStorageUsed adjusts the aggregate storage counter. Negative values
// reclaim space after a delete.
func (s *UserStore) AddStorageUsed(ctx context.Context, id string, bytes int64) error {
	result := s.getDB(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("total_storage_used", gorm.Expr("total_storage_used + ?", bytes))
	if result.Error != nil {
		return fmt.Errorf("updating storage used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *UserStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
