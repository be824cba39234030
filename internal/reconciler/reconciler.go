// Package reconciler drives a directory group towards a desired membership
// and reports what happened per member.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vestfoldfylke/azf-nettsperre/internal/graph"
	"github.com/vestfoldfylke/azf-nettsperre/internal/metrics"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
)

var ErrMissingGroupID = errors.New("group id is required")

// Directory is the part of the directory client the reconciler writes
// through.
type Directory interface {
	ListMembers(ctx context.Context, groupID string, studentsOnly bool) ([]models.Member, error)
	AddMembers(ctx context.Context, groupID string, memberIDs []string) error
	RemoveMember(ctx context.Context, groupID, memberID string) error
}

type Options struct {
	// MaxRetries is the number of extra attempts for a throttled write.
	MaxRetries int
	// RetryDelay is the first backoff interval; later ones grow exponentially.
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Reconciler struct {
	dir        Directory
	maxRetries int
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(dir Directory, opts Options) *Reconciler {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{
		dir:        dir,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "reconciler"),
	}
}

// Chunk splits s into consecutive slices of at most n elements.
func Chunk[T any](s []T, n int) [][]T {
	if n <= 0 {
		n = 1
	}
	chunks := make([][]T, 0, (len(s)+n-1)/n)
	for start := 0; start < len(s); start += n {
		end := min(start+n, len(s))
		chunks = append(chunks, s[start:end])
	}
	return chunks
}

// ReconcileAdd makes every desired member a member of the group. Members
// already present are reported unchanged; the rest are added in chunks of
// graph.MaxMembersPerRequest. A failed chunk fails all of its members and the
// remaining chunks are still submitted.
func (r *Reconciler) ReconcileAdd(ctx context.Context, groupID string, desired []models.Member) (*models.MemberDiffResult, error) {
	if groupID == "" {
		return nil, ErrMissingGroupID
	}
	result := models.NewMemberDiffResult()
	desired = models.DedupeByID(desired)
	if len(desired) == 0 {
		return result, nil
	}

	present, err := r.currentMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(desired))
	for _, m := range desired {
		if _, ok := present[m.ID]; ok {
			result.AddUnchanged(groupID, m.ID)
			continue
		}
		pending = append(pending, m.ID)
	}

	for i, chunk := range Chunk(pending, graph.MaxMembersPerRequest) {
		err := r.retry(ctx, func() error {
			return r.dir.AddMembers(ctx, groupID, chunk)
		})
		if err != nil {
			r.logger.Error("failed to add member chunk",
				"group_id", groupID, "chunk", i, "size", len(chunk), "error", err)
			for _, id := range chunk {
				result.AddFailure(groupID, id, err)
			}
			continue
		}
		for _, id := range chunk {
			result.AddSuccess(groupID, id)
		}
	}

	r.logger.Info("reconciled group additions", "group_id", groupID,
		"succeeded", result.Succeeded, "failed", len(result.Failed), "unchanged", len(result.Unchanged))
	r.metrics.ObserveDiff("add", result.Succeeded, len(result.Failed), len(result.Unchanged))
	return result, nil
}

// ReconcileRemove takes every listed member out of the group. Members that
// are not in the group are reported unchanged, never failed.
func (r *Reconciler) ReconcileRemove(ctx context.Context, groupID string, members []models.Member) (*models.MemberDiffResult, error) {
	if groupID == "" {
		return nil, ErrMissingGroupID
	}
	result := models.NewMemberDiffResult()
	members = models.DedupeByID(members)
	if len(members) == 0 {
		return result, nil
	}

	present, err := r.currentMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for _, m := range members {
		if _, ok := present[m.ID]; !ok {
			result.AddUnchanged(groupID, m.ID)
			continue
		}
		err := r.retry(ctx, func() error {
			return r.dir.RemoveMember(ctx, groupID, m.ID)
		})
		if err != nil {
			r.logger.Error("failed to remove member", "group_id", groupID, "member_id", m.ID, "error", err)
			result.AddFailure(groupID, m.ID, err)
			continue
		}
		result.AddSuccess(groupID, m.ID)
	}

	r.logger.Info("reconciled group removals", "group_id", groupID,
		"succeeded", result.Succeeded, "failed", len(result.Failed), "unchanged", len(result.Unchanged))
	r.metrics.ObserveDiff("remove", result.Succeeded, len(result.Failed), len(result.Unchanged))
	return result, nil
}

func (r *Reconciler) currentMembers(ctx context.Context, groupID string) (map[string]struct{}, error) {
	current, err := r.dir.ListMembers(ctx, groupID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read current members of %s: %w", groupID, err)
	}
	present := make(map[string]struct{}, len(current))
	for _, m := range current {
		present[m.ID] = struct{}{}
	}
	return present, nil
}

// maxRetryAfter caps how long a Retry-After hint can hold a write back.
const maxRetryAfter = time.Minute

// retry runs op again only while the directory reports throttling. A
// Retry-After hint lengthens the wait before the next attempt.
func (r *Reconciler) retry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.retryDelay
	exp.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(r.maxRetries))}
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if graph.IsThrottled(err) {
			r.logger.Warn("directory throttled request", "error", err)
			var apiErr *graph.APIError
			if errors.As(err, &apiErr) {
				hinted.hint = min(apiErr.RetryAfter, maxRetryAfter)
			}
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(hinted, ctx))
}

// hintedBackOff waits at least hint before the next attempt, then forgets it.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}
