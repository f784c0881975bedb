package bunx

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered id for primary keys. Generated in Go so
// both dialects share one id format.
// It panics only if the system entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
