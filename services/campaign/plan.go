package campaign

import (
	"context"
	"time"

	"gps-campaign-dashboard/pkg/config"
)

// StepFunc performs the work of a step. It must return promptly once ctx is done.
type StepFunc func(ctx context.Context, c *Campaign) error

type Step struct {
	Name string
	Run  StepFunc
}

// DefaultSteps are the simulated phases every campaign walks through.
func DefaultSteps() []Step {
	return []Step{
		{Name: "Initializing GPS tracking..."},
		{Name: "Connecting to device..."},
		{Name: "Starting location tracking..."},
		{Name: "Monitoring activity..."},
		{Name: "Collecting data..."},
		{Name: "Finalizing campaign..."},
	}
}

// Pacing decides how long a campaign waits after each step.
type Pacing interface {
	Interval(c *Campaign, steps int) time.Duration
	Name() string
}

// FixedPacing waits the same interval after every step regardless of the
// campaign's duration_hours.
type FixedPacing struct {
	Step time.Duration
}

func (p FixedPacing) Interval(*Campaign, int) time.Duration { return p.Step }
func (p FixedPacing) Name() string                          { return config.PacingFixed }

// DurationPacing spreads the steps evenly over duration_hours.
type DurationPacing struct{}

func (DurationPacing) Interval(c *Campaign, steps int) time.Duration {
	if steps <= 0 {
		return 0
	}
	return time.Duration(c.DurationHours) * time.Hour / time.Duration(steps)
}

func (DurationPacing) Name() string { return config.PacingDuration }

func PacingFromConfig(cfg *config.Config) Pacing {
	if cfg.Runner.Pacing == config.PacingDuration {
		return DurationPacing{}
	}
	return FixedPacing{Step: cfg.Runner.StepInterval}
}
