package campaign

import (
	"context"
	"errors"
	"time"

	"gps-campaign-dashboard/pkg/db/pagination"
	"gps-campaign-dashboard/pkg/errutil"

	"gorm.io/gorm"
)

// Repository is the durable store for campaigns and their logs. Run-state
// writes are conditional on the current status so a stale writer never
// overwrites a newer transition.
type Repository interface {
	Create(ctx context.Context, c *Campaign, entry *LogEntry) error
	Get(ctx context.Context, id string) (*Campaign, error)
	ListActive(ctx context.Context, limit int) ([]Campaign, error)
	List(ctx context.Context, f ListFilter) ([]Campaign, error)
	ListByStatus(ctx context.Context, status Status) ([]Campaign, error)
	MarkRunning(ctx context.Context, id string, at time.Time, entry *LogEntry) (bool, error)
	SaveStep(ctx context.Context, id, step string, progress float64, entry *LogEntry) (bool, error)
	Finish(ctx context.Context, id string, f Finish, entry *LogEntry) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	Logs(ctx context.Context, id string, q LogQuery) ([]LogEntry, error)
}

type ListFilter struct {
	Status Status
	pagination.Pagination
}

type LogQuery struct {
	Limit int
	Level LogLevel
}

// Finish describes the terminal write of a run.
type Finish struct {
	Status       Status
	CurrentStep  string
	Progress     *float64
	ErrorMessage string
	At           time.Time
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func storageErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return errutil.Storage(msg, err)
}

func (r *gormRepository) Create(ctx context.Context, c *Campaign, entry *LogEntry) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		entry.CampaignID = c.ID
		return tx.Create(entry).Error
	})
	return storageErr("failed to create campaign", err)
}

func (r *gormRepository) Get(ctx context.Context, id string) (*Campaign, error) {
	var c Campaign
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("campaign not found", nil,
				errutil.WithDetails(errutil.Detail{Field: "id", Message: id}))
		}
		return nil, storageErr("failed to load campaign", err)
	}
	return &c, nil
}

func (r *gormRepository) ListActive(ctx context.Context, limit int) ([]Campaign, error) {
	var out []Campaign
	err := r.db.WithContext(ctx).
		Where("status IN ?", []Status{StatusPending, StatusRunning}).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, storageErr("failed to list active campaigns", err)
}

func (r *gormRepository) List(ctx context.Context, f ListFilter) ([]Campaign, error) {
	q := r.db.WithContext(ctx).Model(&Campaign{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var out []Campaign
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(f.Limit).Offset(f.Offset).
		Find(&out).Error
	return out, storageErr("failed to list campaigns", err)
}

func (r *gormRepository) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	var out []Campaign
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error
	return out, storageErr("failed to list campaigns by status", err)
}

// transition applies updates to id when cond holds and appends entry in the
// same transaction. It reports whether the row matched.
func (r *gormRepository) transition(ctx context.Context, id string, updates map[string]any, entry *LogEntry, cond string, args ...any) (bool, error) {
	var applied bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Campaign{}).Where("id = ?", id).Where(cond, args...).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		if entry == nil {
			return nil
		}
		// A retried entry may still hold the id of a rolled-back insert.
		entry.ID = 0
		entry.CampaignID = id
		return tx.Create(entry).Error
	})
	if err != nil {
		return false, storageErr("failed to persist campaign transition", err)
	}
	return applied, nil
}

func (r *gormRepository) MarkRunning(ctx context.Context, id string, at time.Time, entry *LogEntry) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"status":       StatusRunning,
		"started_at":   at,
		"progress":     0,
		"current_step": StartingStep,
	}, entry, "status = ?", StatusPending)
}

func (r *gormRepository) SaveStep(ctx context.Context, id, step string, progress float64, entry *LogEntry) (bool, error) {
	return r.transition(ctx, id, map[string]any{
		"current_step": step,
		"progress":     progress,
	}, entry, "status = ? AND progress <= ?", StatusRunning, progress)
}

func (r *gormRepository) Finish(ctx context.Context, id string, f Finish, entry *LogEntry) (bool, error) {
	updates := map[string]any{
		"status":       f.Status,
		"completed_at": f.At,
	}
	if f.CurrentStep != "" {
		updates["current_step"] = f.CurrentStep
	}
	if f.Progress != nil {
		updates["progress"] = *f.Progress
	}
	if f.ErrorMessage != "" {
		updates["error_message"] = f.ErrorMessage
	}
	return r.transition(ctx, id, updates, entry, "status = ?", StatusRunning)
}

// Delete removes the campaign and its log rows together.
func (r *gormRepository) Delete(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", id).Delete(&LogEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Campaign{})
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, storageErr("failed to delete campaign", err)
	}
	return found, nil
}

func (r *gormRepository) Logs(ctx context.Context, id string, q LogQuery) ([]LogEntry, error) {
	tx := r.db.WithContext(ctx).Where("campaign_id = ?", id)
	if q.Level != "" {
		tx = tx.Where("level = ?", q.Level)
	}

	var out []LogEntry
	err := tx.Order("id DESC").Limit(q.Limit).Find(&out).Error
	return out, storageErr("failed to load campaign logs", err)
}
