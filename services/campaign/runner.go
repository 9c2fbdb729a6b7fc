package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gps-campaign-dashboard/pkg/errutil"
	"gps-campaign-dashboard/services/event"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrStopped    = errors.New("stopped by request")
	ErrShutdown   = errors.New("interrupted: service shutting down")
	ErrMaxRuntime = errors.New("exceeded maximum runtime")
	ErrRestarted  = errors.New("interrupted: service restarted")

	errLostOwnership = errors.New("campaign left running state")
)

var tracer = otel.Tracer("gps-campaign-dashboard/services/campaign")

const (
	defaultFinishAttempts = 5
	defaultFinishBackoff  = 200 * time.Millisecond
)

type RunnerConfig struct {
	Steps      []Step
	Pacing     Pacing
	MaxRuntime time.Duration

	// FinishAttempts bounds the retries of a terminal write; the delay
	// starts at FinishBackoff and doubles.
	FinishAttempts int
	FinishBackoff  time.Duration
}

// Runner drives campaigns through their steps, one goroutine per running
// campaign. Every state change of a given id goes through the id's lock or
// through the goroutine that owns the run.
type Runner struct {
	repo  Repository
	pub   event.Publisher
	steps []Step
	pace  Pacing
	limit time.Duration
	now   func() time.Time

	finishAttempts int
	finishBackoff  time.Duration

	locks *keyedMutex

	mu     sync.Mutex
	active map[string]*run
	closed bool
	wg     sync.WaitGroup

	base     context.Context
	shutdown context.CancelCauseFunc
}

type run struct {
	id     string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewRunner(repo Repository, pub event.Publisher, cfg RunnerConfig) *Runner {
	steps := cfg.Steps
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	pace := cfg.Pacing
	if pace == nil {
		pace = FixedPacing{Step: 2 * time.Second}
	}

	attempts := cfg.FinishAttempts
	if attempts <= 0 {
		attempts = defaultFinishAttempts
	}
	backoff := cfg.FinishBackoff
	if backoff <= 0 {
		backoff = defaultFinishBackoff
	}

	base, shutdown := context.WithCancelCause(context.Background())
	return &Runner{
		repo:           repo,
		pub:            pub,
		steps:          steps,
		pace:           pace,
		limit:          cfg.MaxRuntime,
		now:            func() time.Time { return time.Now().UTC() },
		finishAttempts: attempts,
		finishBackoff:  backoff,
		locks:          newKeyedMutex(),
		active:         make(map[string]*run),
		base:           base,
		shutdown:       shutdown,
	}
}

// withLock runs fn while holding id's lock.
func (r *Runner) withLock(id string, fn func() error) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return fn()
}

func (r *Runner) lookup(id string) *run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

// IsActive reports whether this process owns a live run for id.
func (r *Runner) IsActive(id string) bool {
	return r.lookup(id) != nil
}

// Start moves a pending campaign to running and launches its goroutine.
// It returns as soon as the transition is persisted.
func (r *Runner) Start(ctx context.Context, id string) error {
	return r.withLock(id, func() error {
		if r.IsActive(id) {
			return errutil.InvalidState("campaign is already running", nil)
		}

		c, err := r.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != StatusPending {
			return errutil.InvalidState(fmt.Sprintf("campaign is %s, only pending campaigns can be started", c.Status), nil)
		}

		if !r.reserve() {
			return errutil.InvalidState("runner is shutting down", nil)
		}

		now := r.now()
		applied, err := r.repo.MarkRunning(ctx, id, now, r.entry(LogLevelInfo, "Campaign started", nil))
		if err != nil {
			r.wg.Done()
			return err
		}
		if !applied {
			r.wg.Done()
			return errutil.InvalidState("campaign is no longer pending", nil)
		}

		c.Status = StatusRunning
		c.StartedAt = &now
		c.Progress = 0
		c.CurrentStep = StartingStep
		r.publish(event.KindStarted, c)

		r.launch(c)
		return nil
	})
}

// reserve counts a run against the shutdown barrier. It fails once Shutdown
// has begun, so no run can start after Shutdown waits.
func (r *Runner) reserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

// launch starts a run reserved with reserve.
func (r *Runner) launch(c *Campaign) {
	ctx, cancel := context.WithCancelCause(r.base)
	rn := &run{id: c.ID, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.active[c.ID] = rn
	r.mu.Unlock()

	runsStarted.Inc()
	runsActive.Inc()

	go r.execute(ctx, rn, c)
}

func (r *Runner) execute(ctx context.Context, rn *run, c *Campaign) {
	defer func() {
		r.mu.Lock()
		delete(r.active, rn.id)
		r.mu.Unlock()
		rn.cancel(nil)
		close(rn.done)
		runsActive.Dec()
		r.wg.Done()
	}()

	if r.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.limit, ErrMaxRuntime)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "campaign.run", trace.WithAttributes(
		attribute.String("campaign.id", c.ID),
		attribute.String("campaign.account_mode", string(c.AccountMode)),
	))
	defer span.End()

	zap.L().Info("campaign run started",
		zap.String("campaign_id", c.ID),
		zap.String("pacing", r.pace.Name()),
		zap.Duration("interval", r.pace.Interval(c, len(r.steps))))

	err := r.drive(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	_ = r.finish(ctx, c, err)
}

// drive walks the steps. Each tick persists the step, publishes it, runs the
// step's work and then waits for the pacing interval or cancellation.
func (r *Runner) drive(ctx context.Context, c *Campaign) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errutil.RuntimeFault(fmt.Sprintf("step panicked: %v", p), nil)
		}
	}()

	persistCtx := context.WithoutCancel(ctx)
	interval := r.pace.Interval(c, len(r.steps))
	total := len(r.steps)

	for i, step := range r.steps {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		begin := time.Now()
		progress := StepProgress(i, total)
		details := map[string]any{"step": i + 1, "total": total, "progress": progress}

		applied, err := r.repo.SaveStep(persistCtx, c.ID, step.Name, progress, r.entry(LogLevelInfo, step.Name, details))
		if err != nil {
			return err
		}
		if !applied {
			return errLostOwnership
		}
		c.CurrentStep = step.Name
		c.Progress = progress
		r.publish(event.KindProgress, c)

		if step.Run != nil {
			if err := r.runStep(ctx, step, c); err != nil {
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return errutil.RuntimeFault(fmt.Sprintf("step %q failed", step.Name), err)
			}
		}
		stepDuration.Observe(time.Since(begin).Seconds())

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step Step, c *Campaign) error {
	ctx, span := tracer.Start(ctx, "campaign.step", trace.WithAttributes(attribute.String("step", step.Name)))
	defer span.End()

	err := step.Run(ctx, c)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// finish writes the terminal state of a run. The write is detached from the
// run's context so it lands even after cancellation.
func (r *Runner) finish(ctx context.Context, c *Campaign, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("campaign_id", c.ID))

	if errors.Is(runErr, errLostOwnership) {
		log.Warn("campaign left running state during run, abandoning")
		return nil
	}

	f, kind, entry := r.outcome(runErr)
	applied, err := r.store(ctx, c.ID, f, entry)
	if err != nil {
		log.Error("failed to persist campaign outcome",
			zap.String("status", string(f.Status)), zap.NamedError("run_error", runErr), zap.Error(err))
		return err
	}
	if !applied {
		log.Warn("campaign outcome not applied, row no longer running", zap.String("status", string(f.Status)))
		return nil
	}

	c.Status = f.Status
	c.CompletedAt = &f.At
	if f.Progress != nil {
		c.Progress = *f.Progress
	}
	if f.CurrentStep != "" {
		c.CurrentStep = f.CurrentStep
	}
	if f.ErrorMessage != "" {
		msg := f.ErrorMessage
		c.ErrorMessage = &msg
	}
	runsFinished.WithLabelValues(string(f.Status)).Inc()
	r.publish(kind, c)

	switch f.Status {
	case StatusCompleted:
		log.Info("campaign completed")
	case StatusCancelled:
		log.Info("campaign cancelled")
	default:
		log.Error("campaign failed", zap.Error(runErr))
	}
	return nil
}

// store writes the terminal state, retrying storage errors with doubling
// backoff. The caller still owns the run, so no other writer races it.
func (r *Runner) store(ctx context.Context, id string, f Finish, entry *LogEntry) (bool, error) {
	delay := r.finishBackoff
	for attempt := 1; ; attempt++ {
		applied, err := r.repo.Finish(ctx, id, f, entry)
		if err == nil {
			return applied, nil
		}
		if attempt >= r.finishAttempts {
			return false, err
		}
		zap.L().Warn("campaign outcome not stored, retrying",
			zap.String("campaign_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.Sleep(delay)
		delay *= 2
	}
}

func (r *Runner) outcome(runErr error) (Finish, event.Kind, *LogEntry) {
	f := Finish{At: r.now()}

	switch {
	case runErr == nil:
		full := 100.0
		f.Status = StatusCompleted
		f.Progress = &full
		f.CurrentStep = CompletedStep
		return f, event.KindCompleted, r.entry(LogLevelInfo, "Campaign completed successfully", nil)
	case errors.Is(runErr, ErrStopped):
		f.Status = StatusCancelled
		f.ErrorMessage = ErrStopped.Error()
		return f, event.KindCancelled, r.entry(LogLevelWarning, "Campaign stopped by request", nil)
	case errors.Is(runErr, ErrMaxRuntime):
		f.Status = StatusFailed
		f.ErrorMessage = fmt.Sprintf("%s of %s", ErrMaxRuntime, r.limit)
	default:
		f.Status = StatusFailed
		f.ErrorMessage = reason(runErr)
	}
	return f, event.KindFailed, r.entry(LogLevelError, "Campaign failed: "+f.ErrorMessage, map[string]any{
		"code": string(errutil.CodeOf(runErr)),
	})
}

// Stop cancels a running campaign and waits until its terminal state is
// stored. Stopping a finished campaign is a no-op.
func (r *Runner) Stop(ctx context.Context, id string) error {
	return r.withLock(id, func() error {
		if rn := r.lookup(id); rn != nil {
			rn.cancel(ErrStopped)
			return r.wait(ctx, rn)
		}

		c, err := r.repo.Get(ctx, id)
		if err != nil {
			return err
		}

		switch {
		case c.Status.Terminal():
			return nil
		case c.Status == StatusPending:
			return errutil.InvalidState("campaign has not been started", nil)
		}

		// Running row without a live run in this process.
		return r.finish(ctx, c, ErrStopped)
	})
}

// Remove deletes a campaign and its logs, first stopping any live run.
func (r *Runner) Remove(ctx context.Context, id string) error {
	return r.withLock(id, func() error {
		if rn := r.lookup(id); rn != nil {
			rn.cancel(ErrStopped)
			if err := r.wait(ctx, rn); err != nil {
				return err
			}
		}

		found, err := r.repo.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return errutil.NotFound("campaign not found", nil,
				errutil.WithDetails(errutil.Detail{Field: "id", Message: id}))
		}

		r.pub.Publish(event.Event{Kind: event.KindDeleted, CampaignID: id, Timestamp: r.now()})
		zap.L().Info("campaign deleted", zap.String("campaign_id", id))
		return nil
	})
}

func (r *Runner) wait(ctx context.Context, rn *run) error {
	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		return errutil.Internal("gave up waiting for campaign run to stop", ctx.Err())
	}
}

// Recover fails campaigns left running by a previous process.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	running, err := r.repo.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range running {
		c := &running[i]
		err := r.withLock(c.ID, func() error {
			if r.IsActive(c.ID) {
				return nil
			}
			if err := r.finish(ctx, c, ErrRestarted); err != nil {
				return err
			}
			recovered++
			return nil
		})
		if err != nil {
			return recovered, err
		}
	}

	if recovered > 0 {
		zap.L().Warn("failed campaigns interrupted by restart", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Shutdown cancels every live run and waits for them to record their outcome.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	n := len(r.active)
	r.mu.Unlock()

	r.shutdown(ErrShutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("campaign runner stopped", zap.Int("interrupted", n))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) publish(kind event.Kind, c *Campaign) {
	e := event.Event{
		Kind:        kind,
		CampaignID:  c.ID,
		Name:        c.Name,
		Status:      string(c.Status),
		CurrentStep: c.CurrentStep,
		Progress:    c.Progress,
		Timestamp:   r.now(),
	}
	if c.ErrorMessage != nil {
		e.Error = *c.ErrorMessage
	}
	r.pub.Publish(e)
}

// reason renders err for error_message without the code prefix.
func reason(err error) string {
	var be errutil.BaseError
	if errors.As(err, &be) {
		if be.Err != nil {
			return be.Message + ": " + be.Err.Error()
		}
		return be.Message
	}
	return err.Error()
}

func (r *Runner) entry(level LogLevel, msg string, details map[string]any) *LogEntry {
	e := &LogEntry{Level: level, Message: msg, Timestamp: r.now()}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			e.Details = datatypes.JSON(b)
		}
	}
	return e
}
