package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port  int
	Store string // sqlite, file, mongo or memory

	DBDSN     string
	StateFile string
	MongoURI  string
	MongoDB   string

	ViewWindow     time.Duration
	PersistTimeout time.Duration
	UAMaxLen       int

	GeoIPCityDB string
	GeoTimeout  time.Duration
	GeoCacheTTL time.Duration

	RateRPS        float64
	RateBurst      int
	TrustedProxies []string

	NATSURL      string
	NATSSubject  string
	KafkaBrokers []string
	KafkaTopic   string
	EventBuffer  int
}

var durationDefaults = map[string]time.Duration{
	"VIEW_WINDOW":     time.Hour,
	"PERSIST_TIMEOUT": 2 * time.Second,
	"GEO_TIMEOUT":     250 * time.Millisecond,
	"GEO_CACHE_TTL":   10 * time.Minute,
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("STORE", "sqlite")
	v.SetDefault("DB_DSN", "file:views.db?_busy_timeout=5000")
	v.SetDefault("STATE_FILE", "view_count.json")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB", "views")
	for k, d := range durationDefaults {
		v.SetDefault(k, d.String())
	}
	v.SetDefault("UA_MAX_LEN", 200)
	v.SetDefault("GEOIP_CITY_DB", "")
	v.SetDefault("RATE_RPS", 2.0)
	v.SetDefault("RATE_BURST", 10)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_SUBJECT", "views.counted")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "views")
	v.SetDefault("EVENT_BUFFER", 1024)
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory. Durations take Go syntax ("1h",
// "90s") or a bare number of seconds ("3600").
func Load() Config {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	return Config{
		Port:           v.GetInt("PORT"),
		Store:          strings.ToLower(strings.TrimSpace(v.GetString("STORE"))),
		DBDSN:          v.GetString("DB_DSN"),
		StateFile:      v.GetString("STATE_FILE"),
		MongoURI:       v.GetString("MONGO_URI"),
		MongoDB:        v.GetString("MONGO_DB"),
		ViewWindow:     getDuration(v, "VIEW_WINDOW"),
		PersistTimeout: getDuration(v, "PERSIST_TIMEOUT"),
		UAMaxLen:       v.GetInt("UA_MAX_LEN"),
		GeoIPCityDB:    v.GetString("GEOIP_CITY_DB"),
		GeoTimeout:     getDuration(v, "GEO_TIMEOUT"),
		GeoCacheTTL:    getDuration(v, "GEO_CACHE_TTL"),
		RateRPS:        v.GetFloat64("RATE_RPS"),
		RateBurst:      v.GetInt("RATE_BURST"),
		TrustedProxies: splitList(v.GetString("TRUSTED_PROXIES")),
		NATSURL:        v.GetString("NATS_URL"),
		NATSSubject:    v.GetString("NATS_SUBJECT"),
		KafkaBrokers:   splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:     v.GetString("KAFKA_TOPIC"),
		EventBuffer:    v.GetInt("EVENT_BUFFER"),
	}
}

// getDuration reads key as whole seconds when it is a bare integer and as a
// Go duration otherwise. Unparseable values fall back to the default.
func getDuration(v *viper.Viper, key string) time.Duration {
	s := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	log.Warn().Str("key", key).Str("value", s).Msg("invalid duration, using default")
	return durationDefaults[key]
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
