package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ViewsCounted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "views_counted_total",
		Help: "Page views that incremented the counter.",
	})
	Visits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visits_total",
		Help: "Visits seen by the ledger, by outcome (new, repeat, error).",
	}, []string{"result"})
	PersistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_persist_errors_total",
		Help: "Counted views whose commit to the store failed.",
	})
	GeoLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_lookups_total",
		Help: "Geolocation lookups by result.",
	}, []string{"result"})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "View events dropped due to full buffer.",
	})
	EventsPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "events_publish_errors_total",
		Help: "View events that failed to publish.",
	})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by the per-ip rate limiter.",
	})
	LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_clients",
		Help: "Connected websocket clients.",
	})
)

func init() {
	prometheus.MustRegister(ViewsCounted, Visits, PersistErrors, GeoLookups,
		EventsDropped, EventsPublishErrors, RateLimited, LiveClients)
}

func Handler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
