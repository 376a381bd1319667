package domain

import "errors"

var (
	// ErrMissingFields marks a notification without the identifying fields
	// the reconciler needs. Input errors are terminal and never retried.
	ErrMissingFields = errors.New("missing required fields")

	// ErrUnknownProvider marks a notification from a provider this relay
	// has no payload shape for.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEventExists is returned when a pending SyncEvent with the same
	// event_id already exists; the row-level uniqueness constraint is the
	// backstop behind the entity lock.
	ErrEventExists = errors.New("sync event already recorded")
)
