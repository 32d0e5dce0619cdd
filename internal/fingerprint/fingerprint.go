// Package fingerprint derives the opaque visitor identifier used by the ledger.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Size is the length of a derived fingerprint in characters.
const Size = sha256.Size * 2

type Input struct {
	IP        string
	City      string
	Country   string
	UserAgent string
}

// Derive hashes the visitor attributes into a fixed-length hex string. The
// user agent is cut to maxUA runes first; maxUA <= 0 keeps it whole.
func Derive(in Input, maxUA int) string {
	ua := truncate(in.UserAgent, maxUA)
	data := strings.Join([]string{in.IP, in.City, in.Country, ua}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
