package engine

import "github.com/google/uuid"

// RunIDGenerator generates the id that tags one run's diagnostics.
// Implemented by UUIDv7Generator; tests use testutil.FixedRunIDGenerator.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids, so ids in a log
// sort by start time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
