package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vestfoldfylke/azf-nettsperre/internal/dto"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
)

var (
	ErrValidation    = errors.New("invalid request")
	ErrBlockNotFound = errors.New("block not found")
	ErrBlockClosed   = errors.New("block can no longer be changed")
)

// AnyFilter is the path value meaning "do not filter on this field".
const AnyFilter = "null"

// listableStatuses are the statuses a client may list from the active store.
var listableStatuses = map[models.Status]bool{
	models.StatusPending: true,
	models.StatusActive:  true,
	models.StatusExpired: true,
}

// GroupResolver maps a block type to its enforcing group.
type GroupResolver interface {
	GroupID(blockType string) (string, error)
}

type MembershipReconciler interface {
	ReconcileAdd(ctx context.Context, groupID string, desired []models.Member) (*models.MemberDiffResult, error)
	ReconcileRemove(ctx context.Context, groupID string, members []models.Member) (*models.MemberDiffResult, error)
}

type BlockService struct {
	active     store.BlockStore
	history    store.BlockStore
	reconciler MembershipReconciler
	groups     GroupResolver
	logger     *slog.Logger
}

func NewBlockService(active, history store.BlockStore, r MembershipReconciler, groups GroupResolver, logger *slog.Logger) *BlockService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockService{
		active:     active,
		history:    history,
		reconciler: r,
		groups:     groups,
		logger:     logger.With("component", "blocks"),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Submit stores a new pending block after resolving its enforcing group.
func (s *BlockService) Submit(ctx context.Context, req *dto.SubmitBlockRequest) (*models.Block, error) {
	switch {
	case len(req.Students) == 0:
		return nil, invalid("no students provided")
	case req.Teacher.TeacherID == "":
		return nil, invalid("no teacherId provided")
	case req.BlockedGroup.ID == "":
		return nil, invalid("no blockedGroupId provided")
	case req.TypeBlock.Type == "":
		return nil, invalid("no type provided")
	case req.StartBlock.IsZero():
		return nil, invalid("no startBlock provided")
	case req.EndBlock.IsZero():
		return nil, invalid("no endBlock provided")
	case !req.StartBlock.Before(req.EndBlock):
		return nil, invalid("startBlock must be before endBlock")
	}

	groupID, err := s.groups.GroupID(req.TypeBlock.Type)
	if err != nil {
		return nil, invalid("%v", err)
	}

	block := &models.Block{
		Students:     models.DedupeByID(req.Students),
		Teacher:      req.Teacher,
		CreatedBy:    req.CreatedBy,
		BlockedGroup: req.BlockedGroup,
		TypeBlock:    models.TypeBlock{Type: req.TypeBlock.Type, GroupID: groupID},
		StartBlock:   req.StartBlock,
		EndBlock:     req.EndBlock,
		Status:       models.StatusPending,
		Updated:      []models.UpdateRecord{},
	}
	if err := s.active.Create(ctx, block); err != nil {
		return nil, err
	}

	s.logger.Info("block submitted", "block_id", block.ID, "type", block.TypeBlock.Type,
		"students", len(block.Students), "start", block.StartBlock.String(), "end", block.EndBlock.String())
	return block, nil
}

// appliedUpdate describes what an update record changed on a block.
type appliedUpdate struct {
	changed    bool
	removed    []models.Member
	added      []models.Member
	oldGroupID string
	moved      bool
}

// applyUpdate applies one change record to b in place. It validates the
// whole record before touching b.
func applyUpdate(b *models.Block, rec models.UpdateRecord, groups GroupResolver) (appliedUpdate, error) {
	res := appliedUpdate{oldGroupID: b.TypeBlock.GroupID}
	changes := rec.Changes()

	start, end := b.StartBlock, b.EndBlock
	var newType, newGroupID string
	for _, c := range changes {
		switch c := c.(type) {
		case models.TypeChanged:
			if c.NewType == b.TypeBlock.Type {
				continue
			}
			groupID, err := groups.GroupID(c.NewType)
			if err != nil {
				return res, invalid("%v", err)
			}
			newType, newGroupID = c.NewType, groupID
		case models.DateChanged:
			if !c.NewStart.IsZero() && b.Status == models.StatusPending {
				start = c.NewStart
			}
			if !c.NewEnd.IsZero() {
				end = c.NewEnd
			}
		}
	}
	if !start.Before(end) {
		return res, invalid("startBlock must be before endBlock")
	}

	for _, c := range changes {
		switch c := c.(type) {
		case models.StudentsRemoved:
			drop := make(map[string]struct{}, len(c.Students))
			for _, m := range c.Students {
				drop[m.ID] = struct{}{}
			}
			kept := make([]models.Member, 0, len(b.Students))
			for _, m := range b.Students {
				if _, ok := drop[m.ID]; !ok {
					kept = append(kept, m)
				}
			}
			b.Students = kept
			res.removed = append(res.removed, c.Students...)
			res.changed = true
		case models.StudentsAdded:
			for _, m := range c.Students {
				if !b.HasStudent(m.ID) {
					b.Students = append(b.Students, m)
				}
			}
			res.added = append(res.added, c.Students...)
			res.changed = true
		case models.TypeChanged:
			if newType == "" {
				continue
			}
			b.TypeBlock = models.TypeBlock{Type: newType, GroupID: newGroupID}
			res.moved = res.oldGroupID != newGroupID
			res.changed = true
		case models.DateChanged:
			if !start.Equal(b.StartBlock) || !end.Equal(b.EndBlock) {
				b.StartBlock, b.EndBlock = start, end
				res.changed = true
			}
		}
	}

	if res.changed {
		b.Updated = append(b.Updated, rec)
	}
	return res, nil
}

// Update applies the last record of req.Updated to the stored block. For an
// active block the group membership follows the change.
func (s *BlockService) Update(ctx context.Context, req *dto.UpdateBlockRequest) (*dto.UpdateBlockResponse, error) {
	if req.ID == "" {
		return nil, invalid("no _id provided")
	}
	if len(req.Updated) == 0 {
		return nil, invalid("no updated array provided")
	}
	rec := req.Updated[len(req.Updated)-1]

	var status models.Status
	var applied appliedUpdate
	block, err := s.active.Mutate(ctx, req.ID, func(b *models.Block) error {
		if !b.Status.Live() {
			return ErrBlockClosed
		}
		status = b.Status
		var err error
		applied, err = applyUpdate(b, rec, s.groups)
		if err != nil {
			return err
		}
		if !applied.changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		block, err = s.active.Get(ctx, req.ID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	resp := &dto.UpdateBlockResponse{
		UpdateRecord: rec,
		BlockedGroup: dto.BlockedGroupName{DisplayName: block.BlockedGroup.DisplayName},
		Changed:      applied.changed,
		Block:        block,
	}
	if status == models.StatusActive && applied.changed {
		s.syncActiveMembership(ctx, block, applied, resp)
	}

	s.logger.Info("block updated", "block_id", block.ID, "changed", applied.changed, "status", string(status))
	return resp, nil
}

var errUnchanged = errors.New("nothing to change")

// syncActiveMembership mirrors an applied update into the enforcing group.
// Failures are reported on resp; the stored block is already updated and
// archival later removes every student the block ever listed.
func (s *BlockService) syncActiveMembership(ctx context.Context, b *models.Block, applied appliedUpdate, resp *dto.UpdateBlockResponse) {
	log := s.logger.With("block_id", b.ID, "group_id", b.TypeBlock.GroupID)
	var errs []error

	toRemove := applied.removed
	if applied.moved {
		toRemove = append(toRemove, b.Students...)
	}
	if len(toRemove) > 0 {
		diff, err := s.reconciler.ReconcileRemove(ctx, applied.oldGroupID, toRemove)
		resp.Removal = diff
		errs = append(errs, err)
	}

	toAdd := applied.added
	if applied.moved {
		toAdd = b.Students
	}
	if len(toAdd) > 0 {
		diff, err := s.reconciler.ReconcileAdd(ctx, b.TypeBlock.GroupID, toAdd)
		resp.Addition = diff
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("failed to update group membership for active block", "error", err)
		resp.DirectoryError = err.Error()
	}
}

// Delete marks a block deleted. Archival removes its students later.
func (s *BlockService) Delete(ctx context.Context, id string) (*dto.BlockActionResponse, error) {
	if err := s.active.SetStatus(ctx, id, models.StatusDeleted); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}
	s.logger.Info("block deleted", "block_id", id)
	return &dto.BlockActionResponse{ID: id, Action: "delete", Status: models.StatusDeleted}, nil
}

// Deactivate ends a block now: its students leave the group and the block
// expires.
func (s *BlockService) Deactivate(ctx context.Context, id string) (*dto.BlockActionResponse, error) {
	b, err := s.active.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	s.logger.Info("deactivating block", "block_id", id, "group_id", b.TypeBlock.GroupID, "students", len(b.Students))
	diff, err := s.reconciler.ReconcileRemove(ctx, b.TypeBlock.GroupID, b.Students)
	if err != nil {
		return nil, fmt.Errorf("failed to remove students from group: %w", err)
	}
	if err := s.active.Transition(ctx, id, b.Status, models.StatusExpired); err != nil {
		return nil, err
	}
	return &dto.BlockActionResponse{ID: id, Action: "deactivate", Status: models.StatusExpired, Diff: diff}, nil
}

// ParseStatuses reads a comma separated status list.
func ParseStatuses(raw string) ([]models.Status, error) {
	parts := strings.Split(raw, ",")
	statuses := make([]models.Status, 0, len(parts))
	for _, p := range parts {
		st := models.Status(strings.TrimSpace(p))
		if !listableStatuses[st] {
			return nil, invalid("invalid status provided")
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func filterValue(v string) string {
	if v == AnyFilter {
		return ""
	}
	return v
}

// List returns active-store blocks in the given statuses, optionally
// restricted to a teacher and a school.
func (s *BlockService) List(ctx context.Context, rawStatus, upn, school string) ([]models.Block, error) {
	statuses, err := ParseStatuses(rawStatus)
	if err != nil {
		return nil, err
	}
	blocks, err := s.active.Find(ctx, store.Query{
		Statuses:   statuses,
		TeacherUPN: filterValue(upn),
		School:     filterValue(school),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("blocks fetched", "count", len(blocks))
	return blocks, nil
}

// History returns archived blocks, newest first.
func (s *BlockService) History(ctx context.Context, teacher, course, school string) ([]models.Block, error) {
	return s.history.Find(ctx, store.Query{
		TeacherUPN:  filterValue(teacher),
		Course:      filterValue(course),
		School:      filterValue(school),
		NewestFirst: true,
	})
}
