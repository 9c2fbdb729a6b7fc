package campaign

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gps-campaign-dashboard/services/event"
	"gps-campaign-dashboard/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) forCampaign(id string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.CampaignID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(id string, kind event.Kind) int {
	n := 0
	for _, e := range r.forCampaign(id) {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() string {
	return fmt.Sprintf("c%06d", s.n.Add(1))
}

type fixture struct {
	db     *gorm.DB
	repo   Repository
	runner *Runner
	svc    *Service
	events *recorder
}

type fixtureOption func(*RunnerConfig, *Repository)

func withInterval(d time.Duration) fixtureOption {
	return func(cfg *RunnerConfig, _ *Repository) { cfg.Pacing = FixedPacing{Step: d} }
}

func withSteps(steps ...Step) fixtureOption {
	return func(cfg *RunnerConfig, _ *Repository) { cfg.Steps = steps }
}

func withMaxRuntime(d time.Duration) fixtureOption {
	return func(cfg *RunnerConfig, _ *Repository) { cfg.MaxRuntime = d }
}

func withRepo(wrap func(Repository) Repository) fixtureOption {
	return func(_ *RunnerConfig, repo *Repository) { *repo = wrap(*repo) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, Models...)
	repo := NewRepository(db)
	cfg := RunnerConfig{Pacing: FixedPacing{Step: 5 * time.Millisecond}, FinishBackoff: time.Millisecond}
	for _, opt := range opts {
		opt(&cfg, &repo)
	}

	rec := &recorder{}
	runner := NewRunner(repo, rec, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	svc := NewService(ServiceParams{Repo: repo, Runner: runner, IDs: &seqIDs{}})
	return &fixture{db: db, repo: repo, runner: runner, svc: svc, events: rec}
}

func (f *fixture) create(t *testing.T, name string) *Campaign {
	t.Helper()
	c, err := f.svc.Create(context.Background(), CreateParams{Name: name})
	require.NoError(t, err)
	return c
}

func (f *fixture) waitStatus(t *testing.T, id string, want Status) *Campaign {
	t.Helper()
	var got *Campaign
	require.Eventually(t, func() bool {
		c, err := f.svc.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = c
		return c.Status == want
	}, 3*time.Second, 5*time.Millisecond, "campaign %s never reached %s", id, want)
	return got
}

func (f *fixture) logCount(t *testing.T, id string, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(&LogEntry{}).Where("campaign_id = ?", id)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// insert stores a campaign row directly, bypassing the service.
func (f *fixture) insert(t *testing.T, c Campaign) *Campaign {
	t.Helper()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.AccountMode == "" {
		c.AccountMode = AccountModeNormal
	}
	if c.DurationHours == 0 {
		c.DurationHours = 1
	}
	require.NoError(t, f.db.Create(&c).Error)
	return &c
}
