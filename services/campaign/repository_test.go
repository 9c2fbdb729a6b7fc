package campaign

import (
	"context"
	"testing"
	"time"

	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestRepositoryTransitionsAreConditional(t *testing.T) {
	db := testutil.NewTestDB(t, Models...)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &Campaign{ID: "r1", Name: "n", AccountMode: AccountModeNormal, DurationHours: 1, Status: StatusPending, CurrentStep: WaitingStep, CreatedAt: now}
	require.NoError(t, repo.Create(ctx, c, &LogEntry{Level: LogLevelInfo, Message: "Campaign created", Timestamp: now}))

	applied, err := repo.SaveStep(ctx, "r1", "too early", 10, nil)
	require.NoError(t, err)
	require.False(t, applied, "steps only apply to running campaigns")

	applied, err = repo.MarkRunning(ctx, "r1", now, &LogEntry{Level: LogLevelInfo, Message: "Campaign started", Timestamp: now})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.MarkRunning(ctx, "r1", now, nil)
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = repo.SaveStep(ctx, "r1", "Monitoring activity...", 50, nil)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.SaveStep(ctx, "r1", "backwards", 16.67, nil)
	require.NoError(t, err)
	require.False(t, applied, "progress must not decrease")

	full := 100.0
	applied, err = repo.Finish(ctx, "r1", Finish{Status: StatusCompleted, Progress: &full, CurrentStep: CompletedStep, At: now}, nil)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.Finish(ctx, "r1", Finish{Status: StatusFailed, ErrorMessage: "late", At: now}, nil)
	require.NoError(t, err)
	require.False(t, applied, "terminal rows are never rewritten")

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100.0, got.Progress)
	require.Nil(t, got.ErrorMessage)

	logs, err := repo.Logs(ctx, "r1", LogQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestRepositoryDeleteRemovesLogs(t *testing.T) {
	db := testutil.NewTestDB(t, Models...)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"keep", "drop"} {
		require.NoError(t, repo.Create(ctx, &Campaign{ID: id, Name: id, AccountMode: AccountModeNormal, DurationHours: 1, Status: StatusPending, CreatedAt: now},
			&LogEntry{Level: LogLevelInfo, Message: "Campaign created", Timestamp: now}))
	}

	found, err := repo.Delete(ctx, "drop")
	require.NoError(t, err)
	require.True(t, found)

	found, err = repo.Delete(ctx, "drop")
	require.NoError(t, err)
	require.False(t, found)

	var orphans int64
	require.NoError(t, db.Model(&LogEntry{}).Where("campaign_id = ?", "drop").Count(&orphans).Error)
	require.Zero(t, orphans)

	_, err = repo.Get(ctx, "drop")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	logs, err := repo.Logs(ctx, "keep", LogQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestRepositoryStorageErrors(t *testing.T) {
	db := testutil.NewTestDB(t, Models...)
	repo := NewRepository(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.Get(context.Background(), "any")
	require.True(t, errutil.Is(err, errutil.StatusStorage), "%v", err)

	_, err = repo.SaveStep(context.Background(), "any", "step", 1, nil)
	require.True(t, errutil.Is(err, errutil.StatusStorage), "%v", err)
}
