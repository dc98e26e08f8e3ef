package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by transactional repository operations so services
// can map them onto the API error taxonomy.
var (
	// ErrStateConflict signals that a guarded status transition found the row
	// in a state the transition does not allow.
	ErrStateConflict = errors.New("state conflict")
)

// IsUniqueViolation reports whether the error chain contains a PostgreSQL
// unique constraint violation. Number allocators retry on it.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
