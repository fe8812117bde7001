package domain

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7. IDs generated by one process sort in
// creation order, which the bid history uses as its tie-break.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
