package gormstore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store/storetest"
)

func newBlock(start, end string, status models.Status) *models.Block {
	return &models.Block{
		Students: []models.Member{
			{ID: "s1", DisplayName: "Kari", UserPrincipalName: "kari@skole.example.no"},
			{ID: "s2", DisplayName: "Ola", UserPrincipalName: "ola@skole.example.no"},
		},
		Teacher:      models.Owner{TeacherID: "t1", UserPrincipalName: "teacher@example.no", OfficeLocation: "Skolen"},
		BlockedGroup: models.BlockedGroup{ID: "class-1", DisplayName: "2STA Norsk"},
		TypeBlock:    models.TypeBlock{Type: "eksamen", GroupID: "g-eksamen"},
		StartBlock:   localtime.MustParse(start),
		EndBlock:     localtime.MustParse(end),
		Status:       status,
		Updated:      []models.UpdateRecord{},
	}
}

func TestCreateAndGet(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	b := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	require.NoError(t, active.Create(ctx, b))
	require.NotEmpty(t, b.ID)

	got, err := active.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T08:00", got.StartBlock.String())
	assert.Equal(t, "teacher@example.no", got.Teacher.UserPrincipalName)
	assert.Equal(t, "g-eksamen", got.TypeBlock.GroupID)
	assert.Len(t, got.Students, 2)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = active.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindDue(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	due := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	later := newBlock("2024-01-01T09:00", "2024-01-01T10:00", models.StatusPending)
	running := newBlock("2024-01-01T07:00", "2024-01-01T08:05", models.StatusActive)
	for _, b := range []*models.Block{due, later, running} {
		require.NoError(t, active.Create(ctx, b))
	}
	now := localtime.MustParse("2024-01-01T08:05")

	starting, err := active.FindDue(ctx, models.StatusPending, store.DueOnStart, now)
	require.NoError(t, err)
	require.Len(t, starting, 1)
	assert.Equal(t, due.ID, starting[0].ID)

	ending, err := active.FindDue(ctx, models.StatusActive, store.DueOnEnd, now)
	require.NoError(t, err)
	require.Len(t, ending, 1)
	assert.Equal(t, running.ID, ending[0].ID)
}

func TestFind(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	a := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	b := newBlock("2024-01-02T08:00", "2024-01-02T10:00", models.StatusActive)
	c := newBlock("2024-01-03T08:00", "2024-01-03T10:00", models.StatusExpired)
	c.Teacher.UserPrincipalName = "other@example.no"
	c.Teacher.OfficeLocation = "Annen skole"
	for _, blk := range []*models.Block{a, b, c} {
		require.NoError(t, active.Create(ctx, blk))
	}

	got, err := active.Find(ctx, store.Query{Statuses: []models.Status{models.StatusPending, models.StatusActive}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = active.Find(ctx, store.Query{School: "Annen skole"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)

	got, err = active.Find(ctx, store.Query{TeacherUPN: "teacher@example.no", Course: "2STA Norsk", NewestFirst: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
}

func TestSetStatusAndDelete(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	b := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	require.NoError(t, active.Create(ctx, b))

	require.NoError(t, active.SetStatus(ctx, b.ID, models.StatusActive))
	got, err := active.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	assert.ErrorIs(t, active.SetStatus(ctx, "missing", models.StatusActive), store.ErrNotFound)

	require.NoError(t, active.Delete(ctx, b.ID))
	assert.ErrorIs(t, active.Delete(ctx, b.ID), store.ErrNotFound)
}

func TestTransitionRequiresFromStatus(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	b := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	require.NoError(t, active.Create(ctx, b))

	require.NoError(t, active.Transition(ctx, b.ID, models.StatusPending, models.StatusActive))
	assert.ErrorIs(t, active.Transition(ctx, b.ID, models.StatusPending, models.StatusActive), store.ErrConflict)

	require.NoError(t, active.SetStatus(ctx, b.ID, models.StatusDeleted))
	assert.ErrorIs(t, active.Transition(ctx, b.ID, models.StatusActive, models.StatusExpired), store.ErrConflict)
	got, err := active.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)

	assert.ErrorIs(t, active.Transition(ctx, "missing", models.StatusActive, models.StatusExpired), store.ErrNotFound)
}

func TestMutate(t *testing.T) {
	active, _, _ := storetest.NewStores(t)
	ctx := testContext(t)

	b := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusPending)
	require.NoError(t, active.Create(ctx, b))

	updated, err := active.Mutate(ctx, b.ID, func(blk *models.Block) error {
		blk.Students = append(blk.Students, models.Member{ID: "s3"})
		blk.Updated = append(blk.Updated, models.UpdateRecord{StudentsToAdd: []models.Member{{ID: "s3"}}})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.Students, 3)

	got, err := active.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Students, 3)
	require.Len(t, got.Updated, 1)
	assert.Equal(t, "s3", got.Updated[0].StudentsToAdd[0].ID)

	boom := errors.New("rejected")
	_, err = active.Mutate(ctx, b.ID, func(blk *models.Block) error {
		blk.Students = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = active.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Students, 3)

	_, err = active.Mutate(ctx, "missing", func(*models.Block) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertManyIntoHistoryIsRepeatable(t *testing.T) {
	active, history, _ := storetest.NewStores(t)
	ctx := testContext(t)

	var blocks []models.Block
	for i := 0; i < 3; i++ {
		b := newBlock("2024-01-01T08:00", "2024-01-01T10:00", models.StatusExpired)
		require.NoError(t, active.Create(ctx, b))
		blocks = append(blocks, *b)
	}

	require.NoError(t, history.InsertMany(ctx, blocks))
	require.NoError(t, history.InsertMany(ctx, blocks))
	require.NoError(t, history.InsertMany(ctx, nil))

	archived, err := history.Find(ctx, store.Query{})
	require.NoError(t, err)
	assert.Len(t, archived, 3)

	stillActive, err := active.Find(ctx, store.Query{})
	require.NoError(t, err)
	assert.Len(t, stillActive, 3)
}
