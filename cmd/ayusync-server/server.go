package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ayusync/ayusync/internal/config"
	"github.com/ayusync/ayusync/internal/domain/problem"
	"github.com/ayusync/ayusync/internal/domain/terminology"
	"github.com/ayusync/ayusync/internal/platform/cache"
	"github.com/ayusync/ayusync/internal/platform/db"
	"github.com/ayusync/ayusync/internal/platform/icd11"
	"github.com/ayusync/ayusync/internal/platform/middleware"
	"github.com/ayusync/ayusync/internal/platform/telemetry"
)

const version = "0.1.0"

func runServer(schema string) error {
	cfg, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return err
	}
	defer st.close()
	logger.Info().Str("driver", st.driver).Msg("connected to database")

	applied, err := st.migrate(ctx, schema)
	if err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return err
	}
	logger.Info().Int("applied", applied).Msg("schema up to date")

	if res, seeded, err := st.seedIfEmpty(ctx, cfg.SeedFile); err != nil {
		logger.Error().Err(err).Msg("seeding failed")
		return err
	} else if seeded {
		logger.Info().Int("concepts", res.Concepts).Int("edges", res.Edges).Msg("seeded reference data")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; crosswalk lookups go straight to the database")
			rdb = nil
		} else {
			defer rdb.Close()
			logger.Info().Msg("connected to redis")
		}
	}

	e := newServer(cfg, st, rdb, logger)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("remote", cfg.RemoteEnabled()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires services and routes. rdb may be nil.
func newServer(cfg *config.Config, st *store, rdb *redis.Client, logger zerolog.Logger) *echo.Echo {
	metrics := telemetry.NewRegistry("ayusync")

	var crosswalk terminology.CrosswalkRepository = st.crosswalk
	if rdb != nil {
		cached := terminology.NewCachedCrosswalkRepository(st.crosswalk, rdb, cfg.CrosswalkCacheTTL, logger)
		cached.SetCounter(metrics.Counter("crosswalk_cache_lookups_total",
			"Crosswalk cache lookups by result.", "result"))
		crosswalk = cached
	}

	var remote terminology.RemoteSearcher
	if cfg.RemoteEnabled() {
		creds := icd11.NewCredentialCache(icd11.CredentialConfig{
			TokenURL:     cfg.WHOTokenURL,
			ClientID:     cfg.WHOClientID,
			ClientSecret: cfg.WHOClientSecret,
			Scope:        cfg.WHOScope,
			Timeout:      cfg.WHOTimeout,
		}, logger)
		remote = icd11.NewClient(icd11.ClientConfig{
			SearchURL: cfg.WHOSearchURL,
			Language:  cfg.WHOLanguage,
			Timeout:   cfg.WHOTimeout,
			Retries:   cfg.WHORetries,
		}, creds, terminology.NewTermSink(st.terms), logger)
	}

	termSvc := terminology.NewService(st.terms, crosswalk, st.namaste, remote, terminology.Limits{
		Remote:  cfg.ICDRemoteLimit,
		Local:   cfg.ICDLocalLimit,
		Sample:  cfg.ICDSampleLimit,
		Namaste: cfg.NamasteSearchLimit,
	}, logger)
	termSvc.SetSearchCounter(metrics.Counter("icd_search_total",
		"ICD-11 searches by answering source and remote status.", "source", "remote_status"))
	problemSvc := problem.NewService(st.problems, st.namaste, st.terms)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	api := e.Group("/api", middleware.RequestTimeout(cfg.RequestTimeout), middleware.BodyLimit("64K"))
	var debug *echo.Group
	if cfg.IsDev() {
		debug = api.Group("/debug")
	}
	termHandler := terminology.NewHandler(termSvc)
	termHandler.RegisterRoutes(api, debug)
	termHandler.RegisterFHIRRoutes(e.Group("/fhir", middleware.RequestTimeout(cfg.RequestTimeout), middleware.BodyLimit("64K")))
	problem.NewHandler(problemSvc).RegisterRoutes(api, debug)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version,
			"remote":  cfg.RemoteEnabled(),
		})
	})
	e.GET("/health/db", db.HealthHandler(st.driver, st.pinger(), st.stats))
	e.GET("/metrics", metrics.Handler())

	return e
}
