package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dead-letter entry statuses. Replayed entries are kept for audit,
// never deleted by the replay path.
const (
	DeadLetterFailed   = "failed"
	DeadLetterReplayed = "replayed"
)

// DeadLetterEntry parks a notification whose retries were exhausted.
// Payload is the marshaled ChangeNotification, opaque to this layer.
type DeadLetterEntry struct {
	ID        uuid.UUID `db:"id"`
	Payload   []byte    `db:"payload"`
	Reason    string    `db:"reason"`
	LastError *string   `db:"last_error"`
	Retries   int       `db:"retries"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
