package entity

import "time"

type ProcessorEventType string

const (
	EventHoldSucceeded    ProcessorEventType = "hold.succeeded"
	EventHoldFailed       ProcessorEventType = "hold.failed"
	EventCaptureSucceeded ProcessorEventType = "capture.succeeded"
	EventChargeRefunded   ProcessorEventType = "charge.refunded"
	// EventHoldReleased - удержание снято целиком (intent отменён).
	EventHoldReleased   ProcessorEventType = "hold.released"
	EventDisputeCreated ProcessorEventType = "dispute.created"
)

// ProcessorEvent - проверенное и нормализованное событие платёжного процессора.
type ProcessorEvent struct {
	ID            string             `json:"id"`
	Type          ProcessorEventType `json:"type"`
	IntentID      string             `json:"intent_id"`
	Amount        int64              `json:"amount,omitempty"`
	Currency      string             `json:"currency,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Dispute       *DisputeInfo       `json:"dispute,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

type DisputeInfo struct {
	ExternalID    string     `json:"external_id"`
	Reason        string     `json:"reason"`
	EvidenceDueBy *time.Time `json:"evidence_due_by,omitempty"`
}

type ProcessedEventStatus string

const (
	ProcessedEventProcessing ProcessedEventStatus = "processing"
	ProcessedEventRetrying   ProcessedEventStatus = "retrying"
	ProcessedEventDone       ProcessedEventStatus = "done"
	ProcessedEventSkipped    ProcessedEventStatus = "skipped"
	ProcessedEventFailed     ProcessedEventStatus = "failed"
)

// ProcessedEvent - запись журнала дедупликации входящих событий.
type ProcessedEvent struct {
	EventID   string
	Type      ProcessorEventType
	Status    ProcessedEventStatus
	Attempts  int
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
