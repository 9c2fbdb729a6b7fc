package campaign

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

type AccountMode string

const (
	AccountModeNormal     AccountMode = "normal"
	AccountModeAggressive AccountMode = "aggressive"
	AccountModeStealth    AccountMode = "stealth"
)

var AccountModes = []AccountMode{AccountModeNormal, AccountModeAggressive, AccountModeStealth}

func (m AccountMode) Valid() bool {
	for _, v := range AccountModes {
		if v == m {
			return true
		}
	}
	return false
}

const (
	MaxNameLength     = 100
	MaxDeviceIDLength = 50
	MinDurationHours  = 1
	MaxDurationHours  = 24
	DefaultDuration   = 1

	WaitingStep   = "Waiting to start..."
	StartingStep  = "Starting..."
	CompletedStep = "Campaign completed!"
)

// Campaign is one simulated run through the step plan.
type Campaign struct {
	ID            string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Name          string      `gorm:"column:name;type:varchar(100);not null" json:"name"`
	DeviceID      *string     `gorm:"column:device_id;type:varchar(50)" json:"device_id"`
	AccountMode   AccountMode `gorm:"column:account_mode;type:varchar(20);not null;default:'normal';index" json:"account_mode"`
	DurationHours int         `gorm:"column:duration_hours;not null;default:1" json:"duration_hours"`
	Status        Status      `gorm:"column:status;type:varchar(20);not null;default:'pending';index" json:"status"`
	CurrentStep   string      `gorm:"column:current_step;type:varchar(255)" json:"current_step"`
	Progress      float64     `gorm:"column:progress;not null;default:0" json:"progress"`
	CreatedAt     time.Time   `gorm:"column:created_at;not null;index" json:"created_at"`
	StartedAt     *time.Time  `gorm:"column:started_at" json:"started_at"`
	CompletedAt   *time.Time  `gorm:"column:completed_at" json:"completed_at"`
	ErrorMessage  *string     `gorm:"column:error_message;type:text" json:"error_message"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	return l == LogLevelInfo || l == LogLevelWarning || l == LogLevelError
}

// LogEntry is an append-only record of something that happened to a campaign.
type LogEntry struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CampaignID string         `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	Campaign   *Campaign      `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Level      LogLevel       `gorm:"column:level;type:varchar(10);not null" json:"level"`
	Message    string         `gorm:"column:message;type:text;not null" json:"message"`
	Details    datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	Timestamp  time.Time      `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

func (LogEntry) TableName() string {
	return "campaign_logs"
}

// Models is the migration set of the package.
var Models = []any{&Campaign{}, &LogEntry{}}

// StepProgress is the percentage reached once done of total steps have
// finished, rounded to two decimals.
func StepProgress(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*10000) / 100
}
