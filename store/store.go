package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"owngame/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey is returned when a unique constraint rejects a write,
	// e.g. a second game for the same chat.
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("record not found")
)

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&models.Theme{},
		&models.Question{},
		&models.Game{},
		&models.Player{},
		&models.ScheduledEvent{},
	)
}

// Begin opens a unit of work. Callers must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return newUnitOfWork(tx), nil
}

// InTx runs fn inside a unit of work and commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(*UnitOfWork) error) error {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}
