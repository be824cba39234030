// Package gormstore keeps blocks in a relational table through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ActiveTable  = "blocks"
	HistoryTable = "block_history"
)

var _ store.BlockStore = (*Store)(nil)

type Store struct {
	db    *gorm.DB
	table string
}

// New returns a store over table, which must have been created with Migrate.
func New(db *gorm.DB, table string) *Store {
	return &Store{db: db, table: table}
}

// Migrate creates or updates table with the block columns and its indexes.
func Migrate(db *gorm.DB, table string) error {
	if err := db.Table(table).AutoMigrate(&models.Block{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	indexes := map[string]string{
		"status_start": "status, start_block",
		"status_end":   "status, end_block",
		"teacher_upn":  "teacher_upn",
		"office":       "teacher_office",
		"course":       "blocked_group_name",
	}
	for name, cols := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, name, table, cols)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index %s on %s: %w", name, table, err)
		}
	}
	return nil
}

func (s *Store) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *Store) Create(ctx context.Context, b *models.Block) error {
	if err := s.tx(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Block, error) {
	var b models.Block
	err := s.tx(ctx).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) FindDue(ctx context.Context, status models.Status, field store.DueField, now localtime.Time) ([]models.Block, error) {
	column := "start_block"
	if field == store.DueOnEnd {
		column = "end_block"
	}

	var blocks []models.Block
	err := s.tx(ctx).
		Where("status = ?", status).
		Where(column+" <= ?", now.String()).
		Find(&blocks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find due %s blocks: %w", status, err)
	}
	return blocks, nil
}

func (s *Store) Find(ctx context.Context, q store.Query) ([]models.Block, error) {
	tx := s.tx(ctx)
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.TeacherUPN != "" {
		tx = tx.Where("teacher_upn = ?", q.TeacherUPN)
	}
	if q.School != "" {
		tx = tx.Where("teacher_office = ?", q.School)
	}
	if q.Course != "" {
		tx = tx.Where("blocked_group_name = ?", q.Course)
	}
	if q.NewestFirst {
		tx = tx.Order("start_block DESC")
	} else {
		tx = tx.Order("start_block ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var blocks []models.Block
	if err := tx.Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	return blocks, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	res := s.tx(ctx).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to set status of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, id string, from, to models.Status) error {
	res := s.tx(ctx).Where("id = ? AND status = ?", id, from).Updates(map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to move %s from %s to %s: %w", id, from, to, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) Mutate(ctx context.Context, id string, fn func(b *models.Block) error) (*models.Block, error) {
	var out models.Block
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Table(s.table)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var b models.Block
		if err := q.Where("id = ?", id).First(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if err := fn(&b); err != nil {
			return err
		}
		if err := tx.Table(s.table).Save(&b).Error; err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.tx(ctx).Where("id = ?", id).Delete(&models.Block{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete block %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMany(ctx context.Context, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	err := s.tx(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&blocks).Error
	if err != nil {
		return fmt.Errorf("failed to insert %d blocks into %s: %w", len(blocks), s.table, err)
	}
	return nil
}
