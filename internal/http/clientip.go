package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// trustedProxies lists the networks whose forwarding headers are believed.
// Empty means no proxy is trusted and the socket peer is the client.
type trustedProxies []*net.IPNet

// parseTrustedProxies accepts CIDRs and bare addresses. Bad entries are
// logged and skipped.
func parseTrustedProxies(list []string) trustedProxies {
	var out trustedProxies
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				log.Warn().Str("entry", s).Msg("ignoring invalid trusted proxy")
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			log.Warn().Err(err).Str("entry", s).Msg("ignoring invalid trusted proxy")
			continue
		}
		out = append(out, n)
	}
	return out
}

func (tp trustedProxies) trusts(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range tp {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the address of the visitor. Forwarding headers are only
// read when the socket peer is a trusted proxy; X-Forwarded-For is walked
// from the right and the first hop that is not a trusted proxy wins.
func (tp trustedProxies) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !tp.trusts(net.ParseIP(peer)) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			hop := net.ParseIP(strings.TrimSpace(parts[i]))
			if hop == nil {
				// garbage in the chain, stop trusting it
				break
			}
			if !tp.trusts(hop) {
				return hop.String()
			}
		}
	}
	if rip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); rip != nil {
		return rip.String()
	}
	return peer
}
