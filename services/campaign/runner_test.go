package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/services/event"

	"github.com/stretchr/testify/require"
)

func TestRunToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, CreateParams{Name: "T1", DurationHours: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, StatusPending, c.Status)
	require.Equal(t, 0.0, c.Progress)

	require.NoError(t, f.svc.Start(ctx, c.ID))
	done := f.waitStatus(t, c.ID, StatusCompleted)

	require.Equal(t, 100.0, done.Progress)
	require.Equal(t, CompletedStep, done.CurrentStep)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.False(t, done.StartedAt.Before(done.CreatedAt))
	require.False(t, done.CompletedAt.Before(*done.StartedAt))
	require.Nil(t, done.ErrorMessage)

	require.Eventually(t, func() bool { return !f.runner.IsActive(c.ID) }, time.Second, time.Millisecond)

	events := f.events.forCampaign(c.ID)
	kinds := make([]event.Kind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []event.Kind{
		event.KindCreated, event.KindStarted,
		event.KindProgress, event.KindProgress, event.KindProgress,
		event.KindProgress, event.KindProgress, event.KindProgress,
		event.KindCompleted,
	}, kinds)

	var last float64
	for _, e := range events {
		require.GreaterOrEqual(t, e.Progress, last)
		if e.Kind != event.KindCompleted {
			require.Less(t, e.Progress, 100.0)
		}
		last = e.Progress
	}
	require.Equal(t, 100.0, last)
	require.Equal(t, "Collecting data...", events[6].CurrentStep)
	require.Equal(t, 66.67, events[6].Progress)
}

func TestStartRejectsNonPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, st := range []Status{StatusRunning, StatusCompleted, StatusFailed, StatusCancelled} {
		c := f.insert(t, Campaign{ID: "s-" + string(st), Name: "n", Status: st, Progress: 42})

		err := f.svc.Start(ctx, c.ID)
		require.True(t, errutil.Is(err, errutil.StatusInvalidState), "%s: %v", st, err)

		got, err := f.svc.Get(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, st, got.Status)
		require.Equal(t, 42.0, got.Progress)
		require.Zero(t, f.logCount(t, c.ID, ""))
	}

	err := f.svc.Start(ctx, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestConcurrentStartRunsOnce(t *testing.T) {
	f := newFixture(t, withInterval(20*time.Millisecond))
	c := f.create(t, "race")

	const callers = 16
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.Start(context.Background(), c.ID)
		}()
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		if err == nil {
			started++
			continue
		}
		require.True(t, errutil.Is(err, errutil.StatusInvalidState), "%v", err)
	}
	require.Equal(t, 1, started)

	f.waitStatus(t, c.ID, StatusCompleted)
	require.Equal(t, int64(1), f.logCount(t, c.ID, "message = ?", "Campaign started"))
	require.Equal(t, int64(len(DefaultSteps())), f.logCount(t, c.ID, "details IS NOT NULL AND message LIKE ?", "%..."))
	require.Equal(t, 1, f.events.count(c.ID, event.KindStarted))
	require.Equal(t, 1, f.events.count(c.ID, event.KindCompleted))
}

func TestStopRunningCampaign(t *testing.T) {
	interval := time.Hour
	f := newFixture(t, withInterval(interval))
	c := f.create(t, "stop me")
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, c.ID))
	require.Eventually(t, func() bool { return f.events.count(c.ID, event.KindProgress) == 1 }, time.Second, time.Millisecond)

	begin := time.Now()
	require.NoError(t, f.svc.Stop(ctx, c.ID))
	require.Less(t, time.Since(begin), time.Second)

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Less(t, got.Progress, 100.0)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, ErrStopped.Error(), *got.ErrorMessage)
	require.False(t, f.runner.IsActive(c.ID))
	require.Equal(t, int64(1), f.logCount(t, c.ID, "level = ?", LogLevelWarning))

	time.Sleep(20 * time.Millisecond)
	events := f.events.forCampaign(c.ID)
	require.Equal(t, event.KindCancelled, events[len(events)-1].Kind)
	require.Equal(t, 1, f.events.count(c.ID, event.KindProgress))

	// Stopping again and starting a cancelled campaign are both well defined.
	require.NoError(t, f.svc.Stop(ctx, c.ID))
	require.True(t, errutil.Is(f.svc.Start(ctx, c.ID), errutil.StatusInvalidState))
}

func TestStopPendingAndUnknown(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, "idle")
	ctx := context.Background()

	err := f.svc.Stop(ctx, c.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidState))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	require.True(t, errutil.Is(f.svc.Stop(ctx, "missing"), errutil.StatusNotFound))
}

func TestStopCompletedIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, "done")
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, c.ID))
	f.waitStatus(t, c.ID, StatusCompleted)
	require.Eventually(t, func() bool { return !f.runner.IsActive(c.ID) }, time.Second, time.Millisecond)

	require.NoError(t, f.svc.Stop(ctx, c.ID))
	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100.0, got.Progress)
}

func TestStopOrphanedRun(t *testing.T) {
	f := newFixture(t)
	started := time.Now().UTC().Add(-time.Minute)
	c := f.insert(t, Campaign{ID: "orphan", Name: "n", Status: StatusRunning, StartedAt: &started, Progress: 33.33})

	require.NoError(t, f.svc.Stop(context.Background(), c.ID))

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, 33.33, got.Progress)
	require.Equal(t, 1, f.events.count(c.ID, event.KindCancelled))
}

func TestStepErrorFailsCampaign(t *testing.T) {
	boom := errors.New("gps signal lost")
	f := newFixture(t, withSteps(
		Step{Name: "Initializing GPS tracking..."},
		Step{Name: "Connecting to device...", Run: func(context.Context, *Campaign) error { return boom }},
		Step{Name: "Never reached"},
	))
	c := f.create(t, "faulty")

	require.NoError(t, f.svc.Start(context.Background(), c.ID))
	got := f.waitStatus(t, c.ID, StatusFailed)

	require.NotNil(t, got.ErrorMessage)
	require.Contains(t, *got.ErrorMessage, "gps signal lost")
	require.Contains(t, *got.ErrorMessage, "Connecting to device...")
	require.Equal(t, "Connecting to device...", got.CurrentStep)
	require.Equal(t, 33.33, got.Progress)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, int64(1), f.logCount(t, c.ID, "level = ?", LogLevelError))
	require.Equal(t, 1, f.events.count(c.ID, event.KindFailed))
	require.Zero(t, f.events.count(c.ID, event.KindCompleted))
}

func TestStepPanicIsContained(t *testing.T) {
	f := newFixture(t, withSteps(
		Step{Name: "explode", Run: func(context.Context, *Campaign) error { panic("nil device handle") }},
	))
	bad := f.create(t, "panics")
	good := f.create(t, "unaffected")
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, bad.ID))
	got := f.waitStatus(t, bad.ID, StatusFailed)
	require.Contains(t, *got.ErrorMessage, "step panicked: nil device handle")
	require.Equal(t, 1, f.events.count(bad.ID, event.KindFailed))

	// The runner keeps serving other campaigns.
	require.NoError(t, f.svc.Start(ctx, good.ID))
	f.waitStatus(t, good.ID, StatusFailed)
}

type flakyRepo struct {
	Repository
	mu     sync.Mutex
	calls  int
	failAt int
}

func (r *flakyRepo) SaveStep(ctx context.Context, id, step string, progress float64, entry *LogEntry) (bool, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failAt
	r.mu.Unlock()
	if fail {
		return false, errutil.Storage("failed to persist campaign transition", errors.New("database is locked"))
	}
	return r.Repository.SaveStep(ctx, id, step, progress, entry)
}

func TestStorageFailureFailsCampaign(t *testing.T) {
	f := newFixture(t, withRepo(func(r Repository) Repository { return &flakyRepo{Repository: r, failAt: 3} }))
	c := f.create(t, "storage")

	require.NoError(t, f.svc.Start(context.Background(), c.ID))
	got := f.waitStatus(t, c.ID, StatusFailed)

	require.Contains(t, *got.ErrorMessage, "database is locked")
	require.Equal(t, 2, f.events.count(c.ID, event.KindProgress))
	require.Equal(t, 1, f.events.count(c.ID, event.KindFailed))
	require.Equal(t, int64(1), f.logCount(t, c.ID, "level = ?", LogLevelError))
}

func TestMaxRuntimeFailsCampaign(t *testing.T) {
	f := newFixture(t, withInterval(time.Hour), withMaxRuntime(30*time.Millisecond))
	c := f.create(t, "slow")

	require.NoError(t, f.svc.Start(context.Background(), c.ID))
	got := f.waitStatus(t, c.ID, StatusFailed)
	require.Contains(t, *got.ErrorMessage, ErrMaxRuntime.Error())
}

func TestShutdownInterruptsRuns(t *testing.T) {
	f := newFixture(t, withInterval(time.Hour))
	c := f.create(t, "interrupted")
	next := f.create(t, "too late")
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, c.ID))
	require.Eventually(t, func() bool { return f.events.count(c.ID, event.KindProgress) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.runner.Shutdown(ctx))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ErrShutdown.Error(), *got.ErrorMessage)

	require.True(t, errutil.Is(f.svc.Start(ctx, next.ID), errutil.StatusInvalidState))
}

func TestRecoverFailsOrphanedRuns(t *testing.T) {
	f := newFixture(t)
	started := time.Now().UTC().Add(-time.Hour)
	f.insert(t, Campaign{ID: "r1", Name: "n", Status: StatusRunning, StartedAt: &started, Progress: 50})
	f.insert(t, Campaign{ID: "r2", Name: "n", Status: StatusPending})
	ctx := context.Background()

	n, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, ErrRestarted.Error(), *got.ErrorMessage)
	require.Equal(t, 50.0, got.Progress)

	pending, err := f.svc.Get(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)

	n, err = f.svc.Recover(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStepProgress(t *testing.T) {
	var got []float64
	for i := 0; i <= 6; i++ {
		got = append(got, StepProgress(i, 6))
	}
	require.Equal(t, []float64{0, 16.67, 33.33, 50, 66.67, 83.33, 100}, got)
	require.Zero(t, StepProgress(3, 0))
}

func TestPacing(t *testing.T) {
	c := &Campaign{DurationHours: 3}
	require.Equal(t, 30*time.Minute, DurationPacing{}.Interval(c, 6))
	require.Equal(t, 2*time.Second, FixedPacing{Step: 2 * time.Second}.Interval(c, 6))
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	inside := map[string]int{}
	overlapped := false
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			defer unlock()

			mu.Lock()
			inside[key]++
			if inside[key] > 1 {
				overlapped = true
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.False(t, overlapped)
	require.Zero(t, k.size())
}

type finishFailRepo struct {
	Repository
	mu       sync.Mutex
	calls    int
	failures int
}

func (r *finishFailRepo) Finish(ctx context.Context, id string, f Finish, entry *LogEntry) (bool, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return false, errutil.Storage("failed to persist campaign transition", errors.New("database is locked"))
	}
	return r.Repository.Finish(ctx, id, f, entry)
}

func (r *finishFailRepo) finishCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestFinishRetriesStorageErrors(t *testing.T) {
	repo := &finishFailRepo{failures: 2}
	f := newFixture(t, withRepo(func(r Repository) Repository {
		repo.Repository = r
		return repo
	}))
	c := f.create(t, "retried")

	require.NoError(t, f.svc.Start(context.Background(), c.ID))
	got := f.waitStatus(t, c.ID, StatusCompleted)

	require.Equal(t, 100.0, got.Progress)
	require.Equal(t, 3, repo.finishCalls())
	require.Eventually(t, func() bool { return !f.runner.IsActive(c.ID) }, time.Second, time.Millisecond)
	require.Equal(t, 1, f.events.count(c.ID, event.KindCompleted))
	require.Equal(t, int64(1), f.logCount(t, c.ID, "message = ?", "Campaign completed successfully"))
}

func TestStartRacingShutdownLeavesNoRunningRows(t *testing.T) {
	f := newFixture(t, withInterval(time.Hour))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, f.create(t, "racer").ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = f.svc.Start(ctx, id)
		}(id)
	}
	require.NoError(t, f.runner.Shutdown(ctx))
	wg.Wait()

	var running int64
	require.NoError(t, f.db.Model(&Campaign{}).Where("status = ?", StatusRunning).Count(&running).Error)
	require.Zero(t, running)
	for _, id := range ids {
		require.False(t, f.runner.IsActive(id))
	}
}
