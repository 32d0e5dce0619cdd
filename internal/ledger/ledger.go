// Package ledger decides whether a visit counts as a new page view.
//
// The ledger remembers when each visitor fingerprint was last counted. A
// fingerprint counts again only once strictly more than the window has passed
// since its previous counted view. Every counted view is committed to the
// injected store before it becomes visible in memory.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-views/internal/store"
)

const (
	DefaultWindow         = time.Hour
	DefaultPersistTimeout = 2 * time.Second
)

var (
	// ErrNotDurable wraps store failures on the increment path. The view was
	// not counted and the returned total is the pre-increment value.
	ErrNotDurable = errors.New("ledger: view not persisted")

	ErrEmptyFingerprint = errors.New("ledger: empty fingerprint")
)

// Visit is the outcome of one RecordVisit call.
type Visit struct {
	TotalViews int64 `json:"total_views"`
	IsNew      bool  `json:"is_new"`
}

type Stats struct {
	TotalViews int64 `json:"total_views"`
	Visitors   int   `json:"visitors"`
}

type Ledger struct {
	store   store.Store
	window  time.Duration
	timeout time.Duration

	// mu guards total and seen, and is held across the store commit
	mu    sync.Mutex
	total int64
	seen  map[string]time.Time
}

type Option func(*Ledger)

// WithWindow sets how long a fingerprint stays "already counted".
func WithWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d >= 0 {
			l.window = d
		}
	}
}

// WithPersistTimeout bounds each store commit.
func WithPersistTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// Open loads persisted state from s. A store that cannot be read or holds
// corrupt data is logged and treated as empty.
func Open(ctx context.Context, s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		window:  DefaultWindow,
		timeout: DefaultPersistTimeout,
		seen:    make(map[string]time.Time),
	}
	for _, o := range opts {
		o(l)
	}

	st, err := s.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Bool("corrupt", errors.Is(err, store.ErrCorrupt)).Msg("ledger load failed, starting empty")
		return l
	}
	l.total = st.TotalViews
	for fp, t := range st.Entries {
		l.seen[fp] = t
	}
	log.Info().Int64("total_views", l.total).Int("visitors", len(l.seen)).Dur("window", l.window).Msg("ledger loaded")
	return l
}

// RecordVisit counts a view for fingerprint at now unless the same
// fingerprint was counted within the window. An elapsed time equal to the
// window is still inside it.
func (l *Ledger) RecordVisit(ctx context.Context, fingerprint string, now time.Time) (Visit, error) {
	if fingerprint == "" {
		return Visit{}, ErrEmptyFingerprint
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.seen[fingerprint]; ok && now.Sub(last) <= l.window {
		return Visit{TotalViews: l.total}, nil
	}

	next := l.total + 1
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.Commit(cctx, next, store.Entry{Fingerprint: fingerprint, LastSeen: now}); err != nil {
		return Visit{TotalViews: l.total}, fmt.Errorf("%w: %w", ErrNotDurable, err)
	}

	l.total = next
	l.seen[fingerprint] = now
	return Visit{TotalViews: next, IsNew: true}, nil
}

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{TotalViews: l.total, Visitors: len(l.seen)}
}

// LastSeen reports when fingerprint was last counted.
func (l *Ledger) LastSeen(fingerprint string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.seen[fingerprint]
	return t, ok
}

func (l *Ledger) Window() time.Duration { return l.window }

// Ping checks the underlying store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
