package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-views/internal/events"
	"github.com/roniherschmann/go-views/internal/fingerprint"
	"github.com/roniherschmann/go-views/internal/geo"
	"github.com/roniherschmann/go-views/internal/ledger"
	"github.com/roniherschmann/go-views/internal/metrics"
)

// Broadcaster receives the new total after every counted view.
type Broadcaster interface {
	BroadcastTotal(total int64)
}

type Service struct {
	ledger    *ledger.Ledger
	locator   geo.Locator
	publisher events.Publisher
	live      Broadcaster
	uaMaxLen  int
	now       func() time.Time

	eventsCh chan events.ViewEvent
}

type Option func(*Service)

func WithLocator(l geo.Locator) Option        { return func(s *Service) { s.locator = l } }
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithBroadcaster(b Broadcaster) Option    { return func(s *Service) { s.live = b } }
func WithUserAgentLimit(n int) Option         { return func(s *Service) { s.uaMaxLen = n } }
func WithClock(now func() time.Time) Option   { return func(s *Service) { s.now = now } }
func WithEventBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.eventsCh = make(chan events.ViewEvent, n)
		}
	}
}

func NewService(l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger:    l,
		locator:   geo.Nop{},
		publisher: events.Nop{},
		uaMaxLen:  200,
		now:       time.Now,
		eventsCh:  make(chan events.ViewEvent, 1024),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// View records a page view from ip with user agent ua. When the ledger could
// not persist the view the returned Visit still carries the current total and
// the error matches ledger.ErrNotDurable.
func (s *Service) View(ctx context.Context, ip, ua string) (ledger.Visit, error) {
	loc, _ := s.locator.Locate(ctx, ip)
	fp := fingerprint.Derive(fingerprint.Input{
		IP:        ip,
		City:      loc.City,
		Country:   loc.Country,
		UserAgent: ua,
	}, s.uaMaxLen)

	now := s.now()
	v, err := s.ledger.RecordVisit(ctx, fp, now)
	if err != nil {
		metrics.Visits.WithLabelValues("error").Inc()
		if errors.Is(err, ledger.ErrNotDurable) {
			metrics.PersistErrors.Inc()
		}
		return v, err
	}
	if !v.IsNew {
		metrics.Visits.WithLabelValues("repeat").Inc()
		return v, nil
	}

	metrics.Visits.WithLabelValues("new").Inc()
	metrics.ViewsCounted.Inc()
	s.enqueue(events.ViewEvent{TotalViews: v.TotalViews, Fingerprint: fp, Country: loc.Country, At: now.UTC()})
	return v, nil
}

func (s *Service) enqueue(ev events.ViewEvent) {
	select {
	case s.eventsCh <- ev:
	default:
		// Drop if buffer full to keep the page fast
		metrics.EventsDropped.Inc()
	}
}

// RunDispatcher publishes counted views and pushes totals to live clients
// until ctx is done.
func (s *Service) RunDispatcher(ctx context.Context) {
	for {
		select {
		case ev := <-s.eventsCh:
			s.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) dispatch(ctx context.Context, ev events.ViewEvent) {
	if s.live != nil {
		s.live.BroadcastTotal(ev.TotalViews)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pctx, ev); err != nil {
		metrics.EventsPublishErrors.Inc()
		log.Error().Err(err).Int64("total_views", ev.TotalViews).Msg("publish view event")
	}
}

func (s *Service) Stats() ledger.Stats {
	return s.ledger.Stats()
}

func (s *Service) Ready(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}
