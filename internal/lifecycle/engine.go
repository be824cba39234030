// Package lifecycle moves blocks through pending -> active -> expired as their
// start and end times pass, applying the membership change each step needs.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/vestfoldfylke/azf-nettsperre/internal/clock"
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/metrics"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
)

type Action string

const (
	Activate   Action = "activate"
	Deactivate Action = "deactivate"
)

// Policy decides whether a block advances when its membership change was
// not fully applied.
type Policy string

const (
	// PolicyAlways advances every processed block.
	PolicyAlways Policy = "always"
	// PolicyOnSuccess leaves a block in place, due again next cycle, unless
	// every member change succeeded.
	PolicyOnSuccess Policy = "on-success"
)

var (
	ErrUnknownAction = errors.New("unknown lifecycle action")
	ErrUnknownPolicy = errors.New("unknown status policy")
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAlways, PolicyOnSuccess:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Store is the subset of the block store a cycle reads and writes.
type Store interface {
	FindDue(ctx context.Context, status models.Status, field store.DueField, now localtime.Time) ([]models.Block, error)
	Transition(ctx context.Context, id string, from, to models.Status) error
}

type Reconciler interface {
	ReconcileAdd(ctx context.Context, groupID string, desired []models.Member) (*models.MemberDiffResult, error)
	ReconcileRemove(ctx context.Context, groupID string, members []models.Member) (*models.MemberDiffResult, error)
}

type StatsSink interface {
	Create(ctx context.Context, block *models.Block, action string) (json.RawMessage, error)
}

type Options struct {
	Location        *time.Location
	InterBlockDelay time.Duration
	Policy          Policy
	Clock           clock.Clock
	Stats           StatsSink
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// BlockOutcome is what happened to one block during a cycle.
type BlockOutcome struct {
	BlockID  string                   `json:"blockId"`
	GroupID  string                   `json:"groupId"`
	Diff     *models.MemberDiffResult `json:"diff,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Advanced bool                     `json:"advanced"`
	Status   models.Status            `json:"status"`
}

type CycleResult struct {
	Action  Action         `json:"action"`
	Now     string         `json:"now"`
	Message string         `json:"message,omitempty"`
	Blocks  []BlockOutcome `json:"blocks"`
}

type Engine struct {
	store      Store
	reconciler Reconciler
	stats      StatsSink
	clock      clock.Clock
	loc        *time.Location
	delay      time.Duration
	policy     Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// running holds one lock per action; a cycle that finds it taken
	// returns without work.
	running map[Action]*sync.Mutex
}

func New(s Store, r Reconciler, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAlways
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:      s,
		reconciler: r,
		stats:      opts.Stats,
		clock:      opts.Clock,
		loc:        opts.Location,
		delay:      opts.InterBlockDelay,
		policy:     opts.Policy,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "lifecycle"),
		running:    map[Action]*sync.Mutex{Activate: {}, Deactivate: {}},
	}
}

type transition struct {
	from  models.Status
	field store.DueField
	to    models.Status
}

var transitions = map[Action]transition{
	Activate:   {from: models.StatusPending, field: store.DueOnStart, to: models.StatusActive},
	Deactivate: {from: models.StatusActive, field: store.DueOnEnd, to: models.StatusExpired},
}

// RunCycle processes every block due for action, one at a time. Only a
// failure to read due blocks or a cancelled context returns an error; per
// block problems are reported in the result. A cycle started while another
// of the same action is running returns at once with a message.
func (e *Engine) RunCycle(ctx context.Context, action Action) (*CycleResult, error) {
	tr, ok := transitions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	started := time.Now()
	now := localtime.In(e.clock.Now(), e.loc)
	result := &CycleResult{Action: action, Now: now.String(), Blocks: []BlockOutcome{}}
	log := e.logger.With("action", string(action))

	mu := e.running[action]
	if !mu.TryLock() {
		log.Warn("cycle already running, skipping")
		result.Message = string(action) + " cycle already running"
		e.observeCycle(action, "busy", started)
		return result, nil
	}
	defer mu.Unlock()

	blocks, err := e.store.FindDue(ctx, tr.from, tr.field, now)
	if err != nil {
		e.observeCycle(action, "error", started)
		return nil, fmt.Errorf("failed to find blocks to %s: %w", action, err)
	}
	log.Info("found due blocks", "count", len(blocks), "now", now.String())

	if len(blocks) == 0 {
		result.Message = "No blocks to " + string(action)
		e.observeCycle(action, "empty", started)
		return result, nil
	}

	for i := range blocks {
		if i > 0 && e.delay > 0 {
			select {
			case <-ctx.Done():
				e.observeCycle(action, "cancelled", started)
				return result, ctx.Err()
			case <-e.clock.After(e.delay):
			}
		}
		result.Blocks = append(result.Blocks, e.processBlock(ctx, action, tr, &blocks[i]))
	}

	e.observeCycle(action, "ok", started)
	return result, nil
}

func (e *Engine) processBlock(ctx context.Context, action Action, tr transition, b *models.Block) BlockOutcome {
	groupID := b.TypeBlock.GroupID
	out := BlockOutcome{BlockID: b.ID, GroupID: groupID, Status: b.Status}
	log := e.logger.With("action", string(action), "block_id", b.ID, "group_id", groupID)

	var diff *models.MemberDiffResult
	var err error
	if action == Activate {
		log.Info("adding students to group", "count", len(b.Students))
		diff, err = e.reconciler.ReconcileAdd(ctx, groupID, b.Students)
	} else {
		log.Info("removing students from group", "count", len(b.Students))
		diff, err = e.reconciler.ReconcileRemove(ctx, groupID, b.Students)
	}
	out.Diff = diff
	if err != nil {
		log.Error("membership change failed", "error", err)
		out.Error = err.Error()
	}

	complete := err == nil && diff != nil && diff.Complete()
	if e.policy == PolicyOnSuccess && !complete {
		log.Warn("block left in place until membership change succeeds", "status", string(b.Status))
		e.observeBlock(action, false)
		return out
	}

	if err := e.store.Transition(ctx, b.ID, tr.from, tr.to); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			log.Warn("block changed during cycle, left as is", "error", err)
			e.observeBlock(action, false)
			return out
		}
		log.Error("failed to update block status", "status", string(tr.to), "error", err)
		out.Error = joinError(out.Error, err)
		e.observeBlock(action, false)
		return out
	}
	out.Advanced = true
	out.Status = tr.to
	b.Status = tr.to
	e.observeBlock(action, true)

	if e.stats != nil {
		if _, err := e.stats.Create(ctx, b, string(action)); err != nil {
			log.Error("failed to create statistics", "error", err)
			if e.metrics != nil {
				e.metrics.StatsFailures.Inc()
			}
		}
	}
	return out
}

func joinError(existing string, err error) string {
	if existing == "" {
		return err.Error()
	}
	return existing + "; " + err.Error()
}

func (e *Engine) observeCycle(action Action, result string, started time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.CyclesTotal.WithLabelValues(string(action), result).Inc()
	e.metrics.CycleDuration.WithLabelValues(string(action)).Observe(time.Since(started).Seconds())
}

func (e *Engine) observeBlock(action Action, advanced bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.BlocksProcessed.WithLabelValues(string(action), strconv.FormatBool(advanced)).Inc()
}
