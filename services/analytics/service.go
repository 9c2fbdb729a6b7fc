package analytics

import (
	"context"
	"math"
	"time"

	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/services/campaign"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Service computes dashboard aggregates from the campaigns table. It never
// writes.
type Service struct {
	db    *gorm.DB
	group singleflight.Group
	now   func() time.Time
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:  p.DB,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type labelCount struct {
	Label string
	Count int64
}

func (s *Service) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []labelCount
	err := s.db.WithContext(ctx).
		Model(&campaign.Campaign{}).
		Select(column + " AS label, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, errutil.Storage("failed to aggregate campaigns by "+column, err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}

// Stats returns campaign counts per status and the completed share in whole
// percent. Concurrent callers share one query, which runs detached from any
// single caller's cancellation.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan("stats", func() (any, error) {
		byStatus, err := s.countBy(shared, "status")
		if err != nil {
			return nil, err
		}

		st := &Stats{
			Completed: byStatus[string(campaign.StatusCompleted)],
			Running:   byStatus[string(campaign.StatusRunning)],
			Pending:   byStatus[string(campaign.StatusPending)],
			Failed:    byStatus[string(campaign.StatusFailed)],
			Cancelled: byStatus[string(campaign.StatusCancelled)],
		}
		for _, n := range byStatus {
			st.Total += n
		}
		st.SuccessRate = SuccessRate(st.Completed, st.Total)
		return st, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		zap.L().Error("failed to compute stats", zap.Error(res.Err))
		return nil, res.Err
	}

	st := *res.Val.(*Stats)
	return &st, nil
}

func SuccessRate(completed, total int64) int64 {
	if total == 0 {
		return 0
	}
	return int64(math.Round(100 * float64(completed) / float64(total)))
}

// Charts computes the four dashboard series concurrently.
func (s *Service) Charts(ctx context.Context) (*Charts, error) {
	out := &Charts{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := s.countBy(gctx, "status")
		if err != nil {
			return err
		}
		labels := make([]string, 0, len(campaign.Statuses))
		for _, st := range campaign.Statuses {
			labels = append(labels, string(st))
		}
		out.ByStatus = fill(labels, counts)
		return nil
	})

	g.Go(func() error {
		counts, err := s.countBy(gctx, "account_mode")
		if err != nil {
			return err
		}
		labels := make([]string, 0, len(campaign.AccountModes))
		for _, m := range campaign.AccountModes {
			labels = append(labels, string(m))
		}
		out.ByMode = fill(labels, counts)
		return nil
	})

	g.Go(func() error {
		series, err := s.durationDistribution(gctx)
		out.DurationDistribution = series
		return err
	})

	g.Go(func() error {
		series, err := s.trend(gctx)
		out.Trend = series
		return err
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("failed to compute charts", zap.Error(err))
		return nil, err
	}
	return out, nil
}

// fill orders counts by labels, zero filling missing ones. Labels found in
// the table but not in labels are appended.
func fill(labels []string, counts map[string]int64) []Count {
	out := make([]Count, 0, len(labels))
	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l] = struct{}{}
		out = append(out, Count{Label: l, Count: counts[l]})
	}
	for l, n := range counts {
		if _, ok := known[l]; !ok {
			out = append(out, Count{Label: l, Count: n})
		}
	}
	return out
}

func (s *Service) durationDistribution(ctx context.Context) ([]Count, error) {
	var rows []struct {
		Hours float64
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&campaign.Campaign{}).
		Select("duration_hours AS hours, COUNT(*) AS count").
		Group("duration_hours").
		Scan(&rows).Error
	if err != nil {
		return nil, errutil.Storage("failed to aggregate campaign durations", err)
	}

	counts := make(map[string]int64, len(DurationBuckets))
	for _, r := range rows {
		counts[DurationBucket(r.Hours)] += r.Count
	}
	return fill(DurationBuckets, counts), nil
}

// trend counts creations per UTC day over the trailing window ending today.
func (s *Service) trend(ctx context.Context) ([]DayCount, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(TrendDays - 1))

	var created []time.Time
	err := s.db.WithContext(ctx).
		Model(&campaign.Campaign{}).
		Where("created_at >= ?", start).
		Pluck("created_at", &created).Error
	if err != nil {
		return nil, errutil.Storage("failed to load campaign creation times", err)
	}

	perDay := make(map[string]int64, TrendDays)
	for _, t := range created {
		perDay[t.UTC().Format(time.DateOnly)]++
	}

	out := make([]DayCount, 0, TrendDays)
	for i := 0; i < TrendDays; i++ {
		day := start.AddDate(0, 0, i).Format(time.DateOnly)
		out = append(out, DayCount{Date: day, Count: perDay[day]})
	}
	return out, nil
}
