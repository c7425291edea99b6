package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsight/internal/anomaly"
	"callsight/internal/auth"
	"callsight/internal/coaching"
	"callsight/internal/config"
	"callsight/internal/gateway"
	"callsight/internal/hub"
	"callsight/internal/ingest"
	"callsight/internal/observability"
	"callsight/internal/records"
	"callsight/internal/registry"
	"callsight/internal/reporting"
	"callsight/internal/strategy"
	"callsight/internal/telephony"
	"callsight/pkg/logger"
	"callsight/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics("callsight")

	// Live state and fanout.
	broadcast := hub.New(log, metrics)

	store := records.NewPostgresStore(db)

	// Call control is optional outside production; without credentials the
	// pipeline still tracks state, it just cannot stop transcriptions.
	var control ingest.CallControl
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		provider, err := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		if err != nil {
			log.Error("twilio init failed", "err", err)
			os.Exit(1)
		}
		control = provider
	} else {
		log.Warn("twilio credentials absent, call control disabled")
	}

	coach := coaching.New(
		coaching.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
		broadcast,
		metrics,
		log,
		coaching.WithMinDelta(cfg.Pipeline.CoachingMinDelta),
	)
	strategist := strategy.New(
		strategy.NewOpenAIExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
		broadcast,
		metrics,
		log,
	)

	// Evicted calls release their analysis state; without this the coaching
	// windows and strategy maps grow for the life of the process.
	reg := registry.New(log,
		registry.WithRetention(cfg.Pipeline.RetentionWindow),
		registry.WithEvictionHook(func(callID string) {
			coach.Forget(callID)
			strategist.Forget(callID)
		}),
	)
	reg.StartJanitor(rootCtx, time.Minute)

	limiter := ingest.NewRedisLimiter(rdb, "", cfg.Pipeline.AnalysisConcurrency, 2*cfg.Pipeline.AnalysisTimeout)

	anomalyRepo := anomaly.NewMemoryRepo(1024)

	pipeline := ingest.NewService(ingest.ServiceConfig{
		Registry:        reg,
		Publisher:       broadcast,
		Coach:           coach,
		Strategist:      strategist,
		Limiter:         limiter,
		Records:         store,
		Control:         control,
		Anomalies:       anomaly.NewService(anomalyRepo),
		Metrics:         metrics,
		Logger:          log,
		AnalysisTimeout: cfg.Pipeline.AnalysisTimeout,
	})

	gw := gateway.New(
		gateway.AccessTokenVerifier{Manager: authManager},
		broadcast,
		log,
		metrics,
		cfg.Pipeline.HubSendBuffer,
	)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:      authManager,
		Registry:  reg,
		Strategy:  strategist,
		Records:   store,
		Reporting: reporting.NewService(store),
		Ingest:    ingest.Handlers{Service: pipeline},
		Gateway:   gw,
		Anomalies: anomalyRepo,
		DB:        db,
		Redis:     rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
