package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/roniherschmann/go-views/internal/metrics"
)

// MaxMind looks addresses up in a local GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(cityDBPath string) (*MaxMind, error) {
	r, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}
	return &MaxMind{reader: r}, nil
}

func (m *MaxMind) Close() error {
	if m.reader == nil {
		return nil
	}
	return m.reader.Close()
}

func (m *MaxMind) Locate(ctx context.Context, ipAddress string) (Location, bool) {
	ip := net.ParseIP(ipAddress)
	if !routable(ip) {
		metrics.GeoLookups.WithLabelValues("skipped").Inc()
		return Location{}, false
	}
	record, err := m.reader.City(ip)
	if err != nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		return Location{}, false
	}
	loc := Location{
		City:    record.City.Names["en"],
		Country: record.Country.IsoCode,
	}
	if loc == (Location{}) {
		metrics.GeoLookups.WithLabelValues("miss").Inc()
		return loc, false
	}
	metrics.GeoLookups.WithLabelValues("hit").Inc()
	return loc, true
}
