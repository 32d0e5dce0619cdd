// Package geo resolves a client IP to a coarse location. Lookups are best
// effort: any failure yields an empty Location and ok=false, never an error.
package geo

import (
	"context"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-views/internal/metrics"
)

type Location struct {
	City    string
	Country string
}

type Locator interface {
	Locate(ctx context.Context, ip string) (Location, bool)
}

// Nop never finds anything. Used when no database is configured.
type Nop struct{}

func (Nop) Locate(context.Context, string) (Location, bool) { return Location{}, false }

// routable reports whether ip can have a public location at all.
func routable(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast())
}

type result struct {
	loc Location
	ok  bool
}

// Chain wraps next with a cache and a deadline. The cache sits inside the
// deadline so a lookup abandoned by the timeout sees its context expire and
// is never cached. Zero ttl or timeout leaves that layer out.
func Chain(next Locator, timeout, ttl time.Duration) Locator {
	loc := next
	if ttl > 0 {
		loc = NewCached(loc, ttl)
	}
	if timeout > 0 {
		loc = NewTimeout(loc, timeout)
	}
	return loc
}

// Cached remembers lookups, misses included, for ttl. It only sees
// cancellation through ctx, so any deadline must be applied outside it.
type Cached struct {
	next  Locator
	cache *cache.Cache
}

func NewCached(next Locator, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Locate(ctx context.Context, ip string) (Location, bool) {
	if x, found := c.cache.Get(ip); found {
		metrics.GeoLookups.WithLabelValues("cached").Inc()
		r := x.(result)
		return r.loc, r.ok
	}
	loc, ok := c.next.Locate(ctx, ip)
	// a lookup cut short by the caller says nothing about the ip
	if ctx.Err() == nil {
		c.cache.Set(ip, result{loc: loc, ok: ok}, cache.DefaultExpiration)
	}
	return loc, ok
}

// Timeout bounds every lookup of next by d.
type Timeout struct {
	next Locator
	d    time.Duration
}

func NewTimeout(next Locator, d time.Duration) *Timeout {
	return &Timeout{next: next, d: d}
}

func (t *Timeout) Locate(ctx context.Context, ip string) (Location, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		loc, ok := t.next.Locate(ctx, ip)
		ch <- result{loc: loc, ok: ok}
	}()
	select {
	case r := <-ch:
		return r.loc, r.ok
	case <-ctx.Done():
		metrics.GeoLookups.WithLabelValues("timeout").Inc()
		log.Debug().Str("ip", ip).Dur("timeout", t.d).Msg("geo lookup timed out")
		return Location{}, false
	}
}
