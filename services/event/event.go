package event

import "time"

type Kind string

const (
	KindCreated   Kind = "created"
	KindStarted   Kind = "started"
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
	KindDeleted   Kind = "deleted"
)

// Event is a lifecycle notification for one campaign. Seq increases by one
// for every event of the same campaign.
type Event struct {
	Kind        Kind      `json:"type"`
	CampaignID  string    `json:"campaign_id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status,omitempty"`
	CurrentStep string    `json:"current_step,omitempty"`
	Progress    float64   `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(e Event)
}
