package notifier

import "time"

// Config controls delivery.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	DedupWindow   time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At     time.Time
	TaskID string
	ChatID int64
	Text   string
	Error  string
}

// DeliveryEvent is emitted on the event bus as notifier.sent,
// notifier.deduped or notifier.failed.
type DeliveryEvent struct {
	TaskID   string    `json:"task_id"`
	ChatID   int64     `json:"chat_id"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
