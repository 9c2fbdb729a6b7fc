package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gps-campaign-dashboard/pkg/db/pagination"
	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/pkg/gen"
	"gps-campaign-dashboard/services/event"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultActiveLimit = 10
	DefaultLogLimit    = 100
	MaxLogLimit        = 1000
)

// Service is the entry point for everything that touches campaigns.
type Service struct {
	repo   Repository
	runner *Runner
	ids    gen.IDGenerator
	now    func() time.Time
}

type ServiceParams struct {
	fx.In

	Repo   Repository
	Runner *Runner
	IDs    gen.IDGenerator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:   p.Repo,
		runner: p.Runner,
		ids:    p.IDs,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type CreateParams struct {
	Name          string  `json:"name"`
	DeviceID      *string `json:"device_id"`
	AccountMode   string  `json:"account_mode"`
	DurationHours *int    `json:"duration_hours"`
}

// Create validates p and stores a pending campaign.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Campaign, error) {
	c, err := s.build(p)
	if err != nil {
		return nil, err
	}

	err = s.runner.withLock(c.ID, func() error {
		entry := s.runner.entry(LogLevelInfo, "Campaign created", map[string]any{
			"account_mode":   c.AccountMode,
			"duration_hours": c.DurationHours,
		})
		if err := s.repo.Create(ctx, c, entry); err != nil {
			return err
		}
		s.runner.publish(event.KindCreated, c)
		return nil
	})
	if err != nil {
		zap.L().Error("failed to create campaign", zap.String("name", c.Name), zap.Error(err))
		return nil, err
	}

	zap.L().Info("campaign created", zap.String("campaign_id", c.ID), zap.String("account_mode", string(c.AccountMode)))
	return c, nil
}

func (s *Service) build(p CreateParams) (*Campaign, error) {
	var details []errutil.Detail

	name := strings.TrimSpace(p.Name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		details = append(details, errutil.Detail{Field: "name", Message: "is required"})
	case n > MaxNameLength:
		details = append(details, errutil.Detail{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxNameLength)})
	}

	var deviceID *string
	if p.DeviceID != nil {
		d := strings.TrimSpace(*p.DeviceID)
		if utf8.RuneCountInString(d) > MaxDeviceIDLength {
			details = append(details, errutil.Detail{Field: "device_id", Message: fmt.Sprintf("must be at most %d characters", MaxDeviceIDLength)})
		} else if d != "" {
			deviceID = &d
		}
	}

	mode := AccountModeNormal
	if m := strings.ToLower(strings.TrimSpace(p.AccountMode)); m != "" {
		mode = AccountMode(m)
		if !mode.Valid() {
			details = append(details, errutil.Detail{Field: "account_mode", Message: "must be one of normal, aggressive, stealth"})
		}
	}

	duration := DefaultDuration
	if p.DurationHours != nil {
		duration = *p.DurationHours
		if duration < MinDurationHours || duration > MaxDurationHours {
			details = append(details, errutil.Detail{Field: "duration_hours", Message: fmt.Sprintf("must be between %d and %d", MinDurationHours, MaxDurationHours)})
		}
	}

	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid campaign", nil, errutil.WithDetails(details...))
	}

	return &Campaign{
		ID:            s.ids.NewID(),
		Name:          name,
		DeviceID:      deviceID,
		AccountMode:   mode,
		DurationHours: duration,
		Status:        StatusPending,
		CurrentStep:   WaitingStep,
		Progress:      0,
		CreatedAt:     s.now(),
	}, nil
}

// Start hands a pending campaign to the runner and returns without waiting
// for any step.
func (s *Service) Start(ctx context.Context, id string) error {
	return s.runner.Start(ctx, id)
}

// Stop cancels a running campaign, leaving it cancelled. Stopping a finished
// campaign succeeds without change.
func (s *Service) Stop(ctx context.Context, id string) error {
	return s.runner.Stop(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.runner.Remove(ctx, id)
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns pending and running campaigns, newest first.
func (s *Service) ListActive(ctx context.Context, limit int) ([]Campaign, error) {
	p := pagination.Pagination{Limit: limit}.Normalize(DefaultActiveLimit, pagination.MaxLimit)
	return s.repo.ListActive(ctx, p.Limit)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Campaign, pagination.PageInfo, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, pagination.PageInfo{}, errutil.ValidationFailed("invalid filter", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: "unknown status"}))
	}

	f.Pagination = f.Pagination.Normalize(pagination.DefaultLimit, pagination.MaxLimit)
	probe := f
	probe.Limit++

	rows, err := s.repo.List(ctx, probe)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	rows, info := pagination.Trim(rows, f.Pagination)
	return rows, info, nil
}

// Logs returns the newest log entries of a campaign first.
func (s *Service) Logs(ctx context.Context, id string, q LogQuery) ([]LogEntry, error) {
	if q.Level != "" && !q.Level.Valid() {
		return nil, errutil.ValidationFailed("invalid log query", nil,
			errutil.WithDetails(errutil.Detail{Field: "level", Message: "must be one of info, warning, error"}))
	}
	q.Limit = pagination.Pagination{Limit: q.Limit}.Normalize(DefaultLogLimit, MaxLogLimit).Limit

	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Logs(ctx, id, q)
}

// Recover fails campaigns that a previous process left running.
func (s *Service) Recover(ctx context.Context) (int, error) {
	return s.runner.Recover(ctx)
}
