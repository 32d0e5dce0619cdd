package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-views/internal/config"
	"github.com/roniherschmann/go-views/internal/core"
	"github.com/roniherschmann/go-views/internal/events"
	"github.com/roniherschmann/go-views/internal/geo"
	httpapi "github.com/roniherschmann/go-views/internal/http"
	"github.com/roniherschmann/go-views/internal/ledger"
	"github.com/roniherschmann/go-views/internal/live"
	"github.com/roniherschmann/go-views/internal/store"
)

func main() {
	// Fast JSON logs by default; pretty if running in a TTY/dev
	if isatty() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	cfg := config.Load()

	var dsnFlag, storeFlag string
	flag.StringVar(&dsnFlag, "dsn", "", "SQLite DSN (overrides env DB_DSN)")
	flag.StringVar(&storeFlag, "store", "", "ledger store: sqlite, file, mongo or memory (overrides env STORE)")
	flag.Parse()
	if dsnFlag != "" {
		cfg.DBDSN = dsnFlag
	}
	if storeFlag != "" {
		cfg.Store = storeFlag
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	ldg := ledger.Open(ctx, st,
		ledger.WithWindow(cfg.ViewWindow),
		ledger.WithPersistTimeout(cfg.PersistTimeout),
	)

	locator, closeLocator := openLocator(cfg)
	defer closeLocator()

	pub := openPublisher(cfg)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	hub := live.NewHub()
	go hub.Run(ctx)

	svc := core.NewService(ldg,
		core.WithLocator(locator),
		core.WithPublisher(pub),
		core.WithBroadcaster(hub),
		core.WithUserAgentLimit(cfg.UAMaxLen),
		core.WithEventBuffer(cfg.EventBuffer),
	)

	// Start async event dispatcher
	go svc.RunDispatcher(ctx)

	// HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(cfg, svc, hub.ServeWS),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.Port).Str("store", cfg.Store).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal")
	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	cancel()
	log.Info().Msg("bye")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case "sqlite", "":
		db, err := sql.Open("sqlite3", cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		// one writer at a time keeps sqlite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := store.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		return store.NewSQLite(db), nil
	case "file":
		return store.NewFile(cfg.StateFile), nil
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is required for the mongo store")
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		m, err := store.OpenMongo(cctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		log.Warn().Msg("memory store: views are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openLocator never fails: without a usable database visits are fingerprinted
// with an empty location.
func openLocator(cfg config.Config) (geo.Locator, func()) {
	if cfg.GeoIPCityDB == "" {
		return geo.Nop{}, func() {}
	}
	mm, err := geo.OpenMaxMind(cfg.GeoIPCityDB)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.GeoIPCityDB).Msg("geoip disabled")
		return geo.Nop{}, func() {}
	}
	return geo.Chain(mm, cfg.GeoTimeout, cfg.GeoCacheTTL), func() { mm.Close() }
}

func openPublisher(cfg config.Config) events.Publisher {
	var pubs events.Fanout
	if cfg.NATSURL != "" {
		n, err := events.NewNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Warn().Err(err).Msg("nats publishing disabled")
		} else {
			pubs = append(pubs, n)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if len(pubs) == 0 {
		return events.Nop{}
	}
	return pubs
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
