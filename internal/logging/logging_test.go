package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/storetest"
)

func TestSetupFiltersByLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	_, err := Setup(&out, "warn")
	require.NoError(t, err)

	slog.Info("cycle started")
	slog.Warn("directory throttled request")
	assert.NotContains(t, out.String(), "cycle started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "directory throttled request", line["msg"])

	_, err = Setup(&out, "loud")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestDBHandlerStoresErrors(t *testing.T) {
	db := storetest.NewDB(t)
	dbHandler := NewDBHandler(db, time.Hour)

	var out bytes.Buffer
	logger := slog.New(NewMultiHandler(slog.NewJSONHandler(&out, nil), dbHandler)).
		With("component", "lifecycle", "block_id", "b1")

	logger.Info("block activated")
	logger.Error("failed to add member", "group_id", "g1", "member_id", "s1", "action", "activate", "error", "throttled")
	dbHandler.Stop()
	dbHandler.Stop()

	assert.Contains(t, out.String(), "block activated")
	assert.Contains(t, out.String(), "failed to add member")

	var logs []models.SystemLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "failed to add member", entry.Message)
	assert.Equal(t, "b1", entry.BlockID)
	assert.Equal(t, "g1", entry.GroupID)
	assert.Equal(t, "s1", entry.MemberID)
	assert.Equal(t, "activate", entry.Action)
	assert.Equal(t, "throttled", entry.Error)

	var extra map[string]any
	require.NoError(t, json.Unmarshal(entry.Extra, &extra))
	assert.Equal(t, "lifecycle", extra["component"])
}

func TestDBHandlerFlushesFullBatch(t *testing.T) {
	db := storetest.NewDB(t)
	dbHandler := NewDBHandler(db, time.Hour)
	defer dbHandler.Stop()

	logger := slog.New(dbHandler)
	for i := 0; i < batchSize; i++ {
		logger.Error("cycle failed", "action", "archive")
	}

	var count int64
	require.NoError(t, db.Model(&models.SystemLog{}).Count(&count).Error)
	assert.Equal(t, int64(batchSize), count)
}

func TestCleanup(t *testing.T) {
	db := storetest.NewDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&[]models.SystemLog{
		{ID: uuid.New(), Timestamp: now.Add(-40 * 24 * time.Hour), Level: "ERROR", Message: "old"},
		{ID: uuid.New(), Timestamp: now.Add(-time.Hour), Level: "ERROR", Message: "recent"},
	}).Error)

	deleted, err := Cleanup(db, 30*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var logs []models.SystemLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "recent", logs[0].Message)
}
