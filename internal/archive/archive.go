// Package archive moves finished blocks from the active store to history
// after making sure their students are out of the enforcing group.
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vestfoldfylke/azf-nettsperre/internal/metrics"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
)

// BatchSize is the number of blocks written to history per insert.
const BatchSize = 5

// DefaultStatuses are the statuses archived when a filter names none.
var DefaultStatuses = []models.Status{models.StatusExpired, models.StatusDeleted}

type Remover interface {
	ReconcileRemove(ctx context.Context, groupID string, members []models.Member) (*models.MemberDiffResult, error)
}

type Filter struct {
	Statuses []models.Status
}

// HeldBlock is a block kept in the active store because its membership
// removal could not be confirmed.
type HeldBlock struct {
	BlockID string                   `json:"blockId"`
	Reason  string                   `json:"reason"`
	Diff    *models.MemberDiffResult `json:"diff,omitempty"`
}

type Result struct {
	Found    int         `json:"found"`
	Archived []string    `json:"archived"`
	Held     []HeldBlock `json:"held"`
	// Failed lists blocks whose history insert or active delete failed.
	Failed  []string `json:"failed"`
	Message string   `json:"message,omitempty"`
}

type Mover struct {
	active  store.BlockStore
	history store.BlockStore
	remover Remover
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(active, history store.BlockStore, remover Remover, m *metrics.Metrics, logger *slog.Logger) *Mover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mover{
		active:  active,
		history: history,
		remover: remover,
		metrics: m,
		logger:  logger.With("component", "archive"),
	}
}

// Archive moves up to limit blocks matching filter into history. Every
// student the block ever listed is removed from its group first; a block is
// only moved once that removal is confirmed.
func (m *Mover) Archive(ctx context.Context, filter Filter, limit int) (*Result, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}

	blocks, err := m.active.Find(ctx, store.Query{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to find blocks to archive: %w", err)
	}

	result := &Result{Found: len(blocks), Archived: []string{}, Held: []HeldBlock{}, Failed: []string{}}
	if len(blocks) == 0 {
		result.Message = "No blocks to archive"
		return result, nil
	}
	m.logger.Info("archiving blocks", "count", len(blocks))

	ready := make([]models.Block, 0, len(blocks))
	for i := range blocks {
		if held, ok := m.confirmRemoval(ctx, &blocks[i]); !ok {
			result.Held = append(result.Held, held)
			if m.metrics != nil {
				m.metrics.ArchiveHeld.Inc()
			}
			continue
		}
		ready = append(ready, blocks[i])
	}

	for start := 0; start < len(ready); start += BatchSize {
		batch := ready[start:min(start+BatchSize, len(ready))]
		m.moveBatch(ctx, batch, result)
	}

	m.logger.Info("archive run finished",
		"archived", len(result.Archived), "held", len(result.Held), "failed", len(result.Failed))
	return result, nil
}

func (m *Mover) confirmRemoval(ctx context.Context, b *models.Block) (HeldBlock, bool) {
	log := m.logger.With("block_id", b.ID, "group_id", b.TypeBlock.GroupID)
	members := b.RemovalSet()
	if len(members) == 0 {
		return HeldBlock{}, true
	}

	diff, err := m.remover.ReconcileRemove(ctx, b.TypeBlock.GroupID, members)
	if err != nil {
		log.Error("failed to remove students before archiving", "error", err)
		return HeldBlock{BlockID: b.ID, Reason: err.Error()}, false
	}
	if !diff.Complete() {
		log.Warn("students still in group, block held back", "failed", len(diff.Failed))
		return HeldBlock{BlockID: b.ID, Reason: "membership removal incomplete", Diff: diff}, false
	}
	return HeldBlock{}, true
}

// moveBatch inserts the batch into history and then deletes each block from
// the active store. Nothing is deleted if the insert fails.
func (m *Mover) moveBatch(ctx context.Context, batch []models.Block, result *Result) {
	if err := m.history.InsertMany(ctx, batch); err != nil {
		m.logger.Error("failed to insert batch into history", "size", len(batch), "error", err)
		for _, b := range batch {
			result.Failed = append(result.Failed, b.ID)
		}
		return
	}

	for _, b := range batch {
		if err := m.active.Delete(ctx, b.ID); err != nil {
			m.logger.Error("failed to delete archived block", "block_id", b.ID, "error", err)
			result.Failed = append(result.Failed, b.ID)
			continue
		}
		result.Archived = append(result.Archived, b.ID)
		if m.metrics != nil {
			m.metrics.BlocksArchived.Inc()
		}
	}
}
