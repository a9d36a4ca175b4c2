package bastion

import "github.com/google/uuid"

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Incident references in error replies use the first segment.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
