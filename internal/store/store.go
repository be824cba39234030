// Package store defines persistence for blocks. The same interface serves the
// active blocks and the archived history; gormstore and mongostore implement
// it.
package store

import (
	"context"
	"errors"

	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

var (
	ErrNotFound = errors.New("block not found")
	// ErrConflict is returned by Mutate when the block changed between read
	// and write, and by Transition when the block is no longer in the
	// expected status.
	ErrConflict = errors.New("block was modified concurrently")
)

// DueField selects which bound FindDue compares against now.
type DueField string

const (
	DueOnStart DueField = "startBlock"
	DueOnEnd   DueField = "endBlock"
)

// Query filters Find. Empty fields match anything.
type Query struct {
	Statuses   []models.Status
	TeacherUPN string
	// School matches the owning teacher's office location.
	School string
	// Course matches the blocked group's display name.
	Course string
	// NewestFirst orders by start time descending instead of ascending.
	NewestFirst bool
	Limit       int
}

type BlockStore interface {
	Create(ctx context.Context, b *models.Block) error
	Get(ctx context.Context, id string) (*models.Block, error)
	// FindDue returns blocks in status whose field is at or before now.
	FindDue(ctx context.Context, status models.Status, field DueField, now localtime.Time) ([]models.Block, error)
	Find(ctx context.Context, q Query) ([]models.Block, error)
	SetStatus(ctx context.Context, id string, status models.Status) error
	// Transition sets status to to only while the block is still in from.
	Transition(ctx context.Context, id string, from, to models.Status) error
	// Mutate loads a block, applies fn and writes the result back. A non-nil
	// error from fn aborts without writing.
	Mutate(ctx context.Context, id string, fn func(b *models.Block) error) (*models.Block, error)
	Delete(ctx context.Context, id string) error
	// InsertMany writes blocks, replacing any stored block with the same id.
	InsertMany(ctx context.Context, blocks []models.Block) error
}
