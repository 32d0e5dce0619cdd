package store

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt is returned by Load when persisted state exists but cannot be parsed.
var ErrCorrupt = errors.New("store: corrupt state")

// Entry is the last counted sighting of one fingerprint.
type Entry struct {
	Fingerprint string
	LastSeen    time.Time
}

// State is everything the ledger persists.
type State struct {
	TotalViews int64
	Entries    map[string]time.Time
}

// Empty returns a zero state with an allocated entry map.
func Empty() State {
	return State{Entries: make(map[string]time.Time)}
}

// Store is the durable side of the visit ledger. Commit records one counted
// view: the new total and the entry that caused it. Implementations must
// apply both or neither.
type Store interface {
	Load(ctx context.Context) (State, error)
	Commit(ctx context.Context, total int64, e Entry) error
	Ping(ctx context.Context) error
	Close() error
}
