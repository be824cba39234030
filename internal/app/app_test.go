package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/archive"
	"github.com/vestfoldfylke/azf-nettsperre/internal/config"
	"github.com/vestfoldfylke/azf-nettsperre/internal/lifecycle"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:        config.StoreBackendSQLite,
		SQLitePath:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		TenantID:            "tenant",
		ClientID:            "client",
		ClientSecret:        "secret",
		Scope:               "https://graph.microsoft.com/.default",
		GraphBaseURL:        "http://127.0.0.1:1",
		GraphPageSize:       100,
		GraphTimeout:        time.Second,
		EmailDomain:         "example.no",
		EksamenGroupID:      "g-eksamen",
		TimeZone:            "Europe/Oslo",
		StatusPolicy:        "always",
		ReconcileMaxRetries: 2,
		ReconcileRetryDelay: time.Millisecond,
		ActivateInterval:    time.Minute,
		ArchiveLimit:        25,
		LogRetention:        24 * time.Hour,
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	a, err := New(testContext(t), testConfig(), slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewWiresRelationalStore(t *testing.T) {
	a := newTestApp(t)

	require.NotNil(t, a.DB)
	assert.Nil(t, a.Mongo)
	assert.NoError(t, a.Ping())

	groupID, err := a.BlockTypes.GroupID("eksamen")
	require.NoError(t, err)
	assert.Equal(t, "g-eksamen", groupID)
}

func TestRunJobWithNothingDue(t *testing.T) {
	a := newTestApp(t)
	ctx := testContext(t)

	res, err := a.RunJob(ctx, JobActivate)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to activate", res.(*lifecycle.CycleResult).Message)

	res, err = a.RunJob(ctx, JobDeactivate)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to deactivate", res.(*lifecycle.CycleResult).Message)

	res, err = a.RunJob(ctx, JobArchive)
	require.NoError(t, err)
	assert.Equal(t, "No blocks to archive", res.(*archive.Result).Message)

	_, err = a.RunJob(ctx, "purge")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestJobsUseConfiguredIntervals(t *testing.T) {
	a := newTestApp(t)

	jobs := a.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobActivate, jobs[0].Name)
	assert.Equal(t, time.Minute, jobs[0].Interval)
	assert.Equal(t, JobDeactivate, jobs[1].Name)
	assert.Zero(t, jobs[1].Interval)
	assert.Equal(t, JobArchive, jobs[2].Name)
}

func TestNewRejectsBadPolicy(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := testConfig()
	cfg.StatusPolicy = "sometimes"
	_, err := New(testContext(t), cfg, slog.NewTextHandler(io.Discard, nil))
	assert.ErrorIs(t, err, lifecycle.ErrUnknownPolicy)
}
