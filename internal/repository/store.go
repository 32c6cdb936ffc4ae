package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Store groups the repositories over one connection or transaction.
type Store struct {
	db          *gorm.DB
	Users       *UserRepository
	Styles      *StyleRepository
	Jobs        *JobRepository
	Playlists   *PlaylistRepository
	Generations *GenerationRepository
	Analyses    *AnalysisRepository
	Claims      *ClaimRepository
	Usage       *UsageRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Users:       NewUserRepository(db),
		Styles:      NewStyleRepository(db),
		Jobs:        NewJobRepository(db),
		Playlists:   NewPlaylistRepository(db),
		Generations: NewGenerationRepository(db),
		Analyses:    NewAnalysisRepository(db),
		Claims:      NewClaimRepository(db),
		Usage:       NewUsageRepository(db),
	}
}

// Transaction runs fn with a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}
