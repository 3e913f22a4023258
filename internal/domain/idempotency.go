package domain

import "time"

// Idempotency records the outcome of a confirmed submission, keyed by
// (user_id, draft_id, key). A retried confirm with the same key is answered
// from this row instead of publishing the map twice.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    int64     `gorm:"not null;uniqueIndex:ux_user_draft_key,priority:1"`
	DraftID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_draft_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_draft_key,priority:3"`
	MapCode   string    `gorm:"type:TEXT NOT NULL"`
	State     string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// ProcessedMessage marks a queue delivery as handled so redelivery after a
// crash between side effects and ack is skipped.
type ProcessedMessage struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	MessageKey string    `gorm:"type:TEXT NOT NULL;uniqueIndex"`
	Tag        string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (ProcessedMessage) TableName() string { return "processed_messages" }
