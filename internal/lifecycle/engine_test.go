package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/clock"
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/metrics"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/reconciler"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/gormstore"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/storetest"
)

type memberDirectory struct {
	mu      sync.Mutex
	groups  map[string]map[string]bool
	failAdd error

	// When gate is set, ListMembers signals entered and waits for gate to
	// close.
	gate    chan struct{}
	entered chan struct{}
}

func newMemberDirectory() *memberDirectory {
	return &memberDirectory{groups: make(map[string]map[string]bool)}
}

func (d *memberDirectory) ListMembers(_ context.Context, groupID string, _ bool) ([]models.Member, error) {
	if d.gate != nil {
		select {
		case d.entered <- struct{}{}:
		default:
		}
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Member
	for id := range d.groups[groupID] {
		out = append(out, models.Member{ID: id})
	}
	return out, nil
}

func (d *memberDirectory) AddMembers(_ context.Context, groupID string, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAdd != nil {
		return d.failAdd
	}
	if d.groups[groupID] == nil {
		d.groups[groupID] = make(map[string]bool)
	}
	for _, id := range ids {
		d.groups[groupID][id] = true
	}
	return nil
}

func (d *memberDirectory) RemoveMember(_ context.Context, groupID, memberID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups[groupID], memberID)
	return nil
}

func (d *memberDirectory) members(groupID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups[groupID])
}

type recordingStats struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (s *recordingStats) Create(_ context.Context, b *models.Block, action string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, b.ID+":"+action)
	return nil, s.err
}

type fixture struct {
	active  *gormstore.Store
	dir     *memberDirectory
	clock   *clock.Fake
	stats   *recordingStats
	metrics *metrics.Metrics
	oslo    *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	oslo, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	active, _, _ := storetest.NewStores(t)
	return &fixture{
		active:  active,
		dir:     newMemberDirectory(),
		clock:   clock.NewFake(time.Date(2024, 1, 1, 7, 5, 0, 0, time.UTC)), // 08:05 in Oslo
		stats:   &recordingStats{},
		metrics: metrics.New(prometheus.NewRegistry()),
		oslo:    oslo,
	}
}

func (f *fixture) engine(policy Policy) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconciler.New(f.dir, reconciler.Options{RetryDelay: time.Millisecond, Logger: logger})
	return New(f.active, rec, Options{
		Location:        f.oslo,
		InterBlockDelay: time.Second,
		Policy:          policy,
		Clock:           f.clock,
		Stats:           f.stats,
		Metrics:         f.metrics,
		Logger:          logger,
	})
}

func (f *fixture) addBlock(t *testing.T, start, end string, status models.Status) *models.Block {
	t.Helper()
	b := &models.Block{
		Students: []models.Member{
			{ID: "s1", DisplayName: "Kari"},
			{ID: "s2", DisplayName: "Ola"},
		},
		Teacher:    models.Owner{UserPrincipalName: "teacher@example.no"},
		TypeBlock:  models.TypeBlock{Type: "eksamen", GroupID: "g-eksamen"},
		StartBlock: localtime.MustParse(start),
		EndBlock:   localtime.MustParse(end),
		Status:     status,
	}
	require.NoError(t, f.active.Create(testContext(t), b))
	return b
}

func (f *fixture) status(t *testing.T, id string) models.Status {
	t.Helper()
	b, err := f.active.Get(testContext(t), id)
	require.NoError(t, err)
	return b.Status
}

func TestActivateThenDeactivate(t *testing.T) {
	f := newFixture(t)
	e := f.engine(PolicyAlways)
	b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	future := f.addBlock(t, "2024-01-01T09:00", "2024-01-01T10:00", models.StatusPending)

	res, err := e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T08:05", res.Now)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, b.ID, res.Blocks[0].BlockID)
	assert.True(t, res.Blocks[0].Advanced)
	assert.Equal(t, 2, res.Blocks[0].Diff.Succeeded)

	assert.Equal(t, 2, f.dir.members("g-eksamen"))
	assert.Equal(t, models.StatusActive, f.status(t, b.ID))
	assert.Equal(t, models.StatusPending, f.status(t, future.ID))

	again, err := e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to activate", again.Message)
	assert.Empty(t, again.Blocks)

	f.clock.Set(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)) // 10:00 in Oslo
	res, err = e.RunCycle(testContext(t), Deactivate)
	require.NoError(t, err)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, models.StatusExpired, f.status(t, b.ID))
	assert.Equal(t, 0, f.dir.members("g-eksamen"))

	assert.Equal(t, []string{b.ID + ":activate", b.ID + ":deactivate"}, f.stats.actions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BlocksProcessed.WithLabelValues("activate", "true")))
}

func TestStatusPolicyOnFailure(t *testing.T) {
	for _, tc := range []struct {
		policy Policy
		want   models.Status
	}{
		{PolicyAlways, models.StatusActive},
		{PolicyOnSuccess, models.StatusPending},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newFixture(t)
			f.dir.failAdd = errors.New("bad request")
			b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)

			res, err := f.engine(tc.policy).RunCycle(testContext(t), Activate)
			require.NoError(t, err)
			require.Len(t, res.Blocks, 1)
			assert.Len(t, res.Blocks[0].Diff.Failed, 2)
			assert.Equal(t, tc.want, f.status(t, b.ID))
			assert.Equal(t, tc.want, res.Blocks[0].Status)
		})
	}
}

func TestOnSuccessRetriesNextCycle(t *testing.T) {
	f := newFixture(t)
	f.dir.failAdd = errors.New("bad request")
	b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	e := f.engine(PolicyOnSuccess)

	_, err := e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, f.status(t, b.ID))
	assert.Empty(t, f.stats.actions)

	f.dir.failAdd = nil
	_, err = e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, f.status(t, b.ID))
}

func TestDelayBetweenBlocks(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	}

	res, err := f.engine(PolicyAlways).RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Len(t, res.Blocks, 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.clock.Waits())
}

func TestStatsFailureDoesNotFailBlock(t *testing.T) {
	f := newFixture(t)
	f.stats.err = errors.New("stats down")
	b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)

	res, err := f.engine(PolicyAlways).RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.True(t, res.Blocks[0].Advanced)
	assert.Empty(t, res.Blocks[0].Error)
	assert.Equal(t, models.StatusActive, f.status(t, b.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StatsFailures))
}

type failingStore struct{}

func (failingStore) FindDue(context.Context, models.Status, store.DueField, localtime.Time) ([]models.Block, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Transition(context.Context, string, models.Status, models.Status) error {
	return nil
}

func TestStoreFailureAbortsCycle(t *testing.T) {
	e := New(failingStore{}, nil, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := e.RunCycle(testContext(t), Deactivate)
	assert.Error(t, err)

	_, err = e.RunCycle(testContext(t), Action("archive"))
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// holdCycle starts an activation cycle that stops inside its first
// membership lookup until release is called.
func (f *fixture) holdCycle(t *testing.T, e *Engine) (release func() *CycleResult) {
	t.Helper()
	f.dir.gate = make(chan struct{})
	f.dir.entered = make(chan struct{}, 1)
	done := make(chan *CycleResult, 1)
	go func() {
		res, err := e.RunCycle(context.Background(), Activate)
		assert.NoError(t, err)
		done <- res
	}()
	select {
	case <-f.dir.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never reached the directory")
	}
	return func() *CycleResult {
		close(f.dir.gate)
		return <-done
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	f := newFixture(t)
	b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	e := f.engine(PolicyAlways)

	release := f.holdCycle(t, e)

	res, err := e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, "activate cycle already running", res.Message)
	assert.Empty(t, res.Blocks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesTotal.WithLabelValues("activate", "busy")))

	// Deactivation is not blocked by a running activation.
	res, err = e.RunCycle(testContext(t), Deactivate)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to deactivate", res.Message)

	first := release()
	require.Len(t, first.Blocks, 1)
	assert.True(t, first.Blocks[0].Advanced)
	assert.Equal(t, []string{b.ID + ":activate"}, f.stats.actions)

	// The lock is released once the cycle ends.
	res, err = e.RunCycle(testContext(t), Activate)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to activate", res.Message)
}

func TestStatusChangedDuringCycleIsKept(t *testing.T) {
	f := newFixture(t)
	b := f.addBlock(t, "2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)

	release := f.holdCycle(t, f.engine(PolicyAlways))
	require.NoError(t, f.active.SetStatus(testContext(t), b.ID, models.StatusDeleted))

	res := release()
	require.Len(t, res.Blocks, 1)
	assert.False(t, res.Blocks[0].Advanced)
	assert.Empty(t, res.Blocks[0].Error)
	assert.Equal(t, models.StatusDeleted, f.status(t, b.ID))
	assert.Empty(t, f.stats.actions)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("on-success")
	require.NoError(t, err)
	assert.Equal(t, PolicyOnSuccess, p)
	_, err = ParsePolicy("sometimes")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}
