package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Video() Video
	User() User
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db    *gorm.DB
	video Video
	user  User
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		video: NewVideoStore(db),
		user:  NewUserStore(db),
		db:    db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Video() Video {
	return s.video
}

func (s *DataStore) User() User {
	return s.user
}

func (s *DataStore) InitialMigration() error {
	if err := s.user.InitialMigration(); err != nil {
		return err
	}
	return s.video.InitialMigration()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
