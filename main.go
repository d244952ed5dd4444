package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"skywatchcore/internal/acars"
	"skywatchcore/internal/alerts"
	"skywatchcore/internal/config"
	"skywatchcore/internal/coverage"
	"skywatchcore/internal/fanout"
	"skywatchcore/internal/health"
	"skywatchcore/internal/notify"
	"skywatchcore/internal/pipeline"
	"skywatchcore/internal/poller"
	"skywatchcore/internal/safety"
	"skywatchcore/internal/sessions"
	"skywatchcore/internal/store"
	"skywatchcore/pkg/models"
)

func main() {
	logHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	stdLogger := slog.NewLogLogger(logHandler, slog.LevelInfo)
	log.SetOutput(stdLogger.Writer())
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] Failed to load config: %v", err)
	}

	logger.Info("starting Skywatch core",
		"feeder_lat", cfg.FeederLat, "feeder_lon", cfg.FeederLon,
		"polling_interval", cfg.PollingInterval, "http_addr", cfg.HTTPAddr)

	db, err := store.Connect(store.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, DBName: cfg.Database.DBName, SSLMode: cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("[MAIN] database connection failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		log.Fatalf("[MAIN] database migration failed: %v", err)
	}

	hub := fanout.NewHub()
	var publisher fanout.Publisher = hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("[MAIN] invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		publisher = fanout.NewRedisPublisher(rdb, "", hub)
		logger.Info("fan-out using Redis-backed publisher")
	} else {
		logger.Info("fan-out using in-process hub")
	}

	notifier := notify.New(notify.Options{
		Enabled:         len(cfg.Notification.AppriseURLs) > 0,
		URLs:            cfg.Notification.AppriseURLs,
		CooldownSeconds: cfg.Notification.CooldownSeconds,
		Logger:          db,
	})

	safetyMon := safety.New(safety.Thresholds{
		VSChangeFpm:    cfg.Safety.VSChangeFpm,
		VSExtremeFpm:   cfg.Safety.VSExtremeFpm,
		TCASVSFpm:      cfg.Safety.TCASVSFpm,
		ProximityNM:    cfg.Safety.ProximityNM,
		AltitudeDiffFt: cfg.Safety.AltitudeDiffFt,
	}, db, publisher, notifier)

	rx := models.ReceiverLocation{Lat: cfg.FeederLat, Lon: cfg.FeederLon}

	alertEngine := alerts.New(db, publisher, notifier, rx)
	if err := alertEngine.Invalidate(); err != nil {
		logger.Warn("initial alert rule load failed", "error", err)
	}

	sessionTrk := sessions.New(db)
	coverageTrk := coverage.New(&coverageRepoAdapter{store: db})

	pipe := pipeline.New(rx, sessionTrk, db, safetyMon, alertEngine, publisher, coverageTrk)

	pollr := poller.New(poller.Options{
		PrimaryURL:   cfg.UltrafeederURL,
		SecondaryURL: cfg.Dump978URL,
		Interval:     cfg.PollingInterval,
		StoreEvery:   cfg.DBStoreInterval,
		Pipeline:     pipe,
	})

	var acarsSvc *acars.Service
	if cfg.AcarsEnabled {
		acarsSvc = acars.New(acars.Options{AcarsPort: cfg.AcarsPort, Vdlm2Port: cfg.Vdlm2Port}, db, publisher)
	}

	statsMon := health.New(config.HealthThresholds{
		CPUPercent:    cfg.Health.CPUPercent,
		MemoryPercent: cfg.Health.MemoryPercent,
		TempCelsius:   cfg.Health.TempCelsius,
	}, publisher, notifier)

	readiness := health.NewReadiness()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if readiness.Ready() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	groupCtx, groupCancel := context.WithCancel(ctx)
	defer groupCancel()

	var wg sync.WaitGroup
	var groupErr error
	var groupErrMu sync.Mutex
	setGroupErr := func(err error) {
		groupErrMu.Lock()
		if groupErr == nil {
			groupErr = err
		}
		groupErrMu.Unlock()
	}

	runComponent := func(name string, fn func(context.Context) error) {
		readiness.MarkNotReady(name, "starting")
		wg.Add(1)
		go func() {
			defer wg.Done()
			readiness.MarkReady(name)
			logger.Info("component running", "component", name)
			defer readiness.MarkNotReady(name, "stopped")
			defer func() {
				if r := recover(); r != nil {
					logger.Error("component panicked", "component", name, "panic", r)
				}
			}()
			if err := fn(groupCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Error("component exited", "component", name, "error", err)
				setGroupErr(err)
				groupCancel()
				return
			}
			logger.Info("component exited", "component", name)
		}()
	}

	runComponent("fanout_hub", func(ctx context.Context) error {
		stopCh := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stopCh)
		}()
		hub.Run(stopCh)
		return ctx.Err()
	})

	runComponent("notifier", func(ctx context.Context) error {
		notifier.Run(ctx)
		return ctx.Err()
	})

	runComponent("alert_engine", func(ctx context.Context) error {
		alertEngine.Run(ctx)
		return ctx.Err()
	})

	runComponent("session_sweeper", func(ctx context.Context) error {
		ticker := time.NewTicker(sessions.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				sessionTrk.Sweep(time.Now().UTC())
			}
		}
	})

	runComponent("poller", func(ctx context.Context) error {
		return pollr.Run(ctx)
	})

	runComponent("stats_monitor", statsMon.Run)

	if acarsSvc != nil {
		runComponent("acars_listener", func(ctx context.Context) error {
			return acarsSvc.Run(ctx)
		})
	}

	runComponent("http_server", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				return err
			}
			if err := <-errCh; err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	wg.Wait()
	if err := groupErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}

	logger.Info("shutdown complete")
}

// coverageRepoAdapter adapts internal/store.Store's RangeBucket shape to
// internal/coverage.RangeBucket, the same adapter-struct idiom the teacher
// used to bridge its range tracker to internal/database.Repository.
type coverageRepoAdapter struct {
	store *store.Store
}

func (a *coverageRepoAdapter) SaveRangeCoverage(bucket int, maxNM float64, icao string, count int64) error {
	return a.store.SaveRangeCoverage(bucket, maxNM, icao, count)
}

func (a *coverageRepoAdapter) LoadRangeCoverage() ([]coverage.RangeBucket, error) {
	rows, err := a.store.LoadRangeCoverage()
	if err != nil {
		return nil, err
	}
	out := make([]coverage.RangeBucket, len(rows))
	for i, r := range rows {
		out[i] = coverage.RangeBucket{
			Bearing: r.Bearing, MaxRangeNM: r.MaxRangeNM,
			MaxRangeICAO: r.MaxRangeICAO, ContactCount: r.ContactCount,
		}
	}
	return out, nil
}
