package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"signalcollector/internal/cache"
	"signalcollector/internal/classifier"
	"signalcollector/internal/config"
	cronrunner "signalcollector/internal/cron"
	"signalcollector/internal/db"
	"signalcollector/internal/events"
	"signalcollector/internal/gate"
	"signalcollector/internal/handler"
	"signalcollector/internal/logger"
	gormrepository "signalcollector/internal/repository/gorm"
	"signalcollector/internal/service"
	"signalcollector/internal/source"

	_ "signalcollector/docs"
)

func main() {
	cfgPath := os.Getenv("SC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	cacheStore, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		logger.Warn("cache init failed, falling back to memory", zap.Error(err))
		cacheStore = cache.NewMemoryStore()
	}

	var sinks []events.Sink
	var natsSink *events.NATSSink
	if url := strings.TrimSpace(cfg.Events.NATSURL); url != "" {
		natsSink, err = events.ConnectNATS(url, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("nats connect failed (events stay in-process)", zap.Error(err))
		} else {
			sinks = append(sinks, natsSink)
		}
	}
	hub := events.NewHub(logger, sinks...)

	statsSvc := &service.StatsService{
		Repo:   store,
		Cache:  cacheStore,
		TTL:    cfg.Cache.StatsTTL,
		Logger: logger,
	}

	var clf classifier.Classifier
	if strings.TrimSpace(cfg.Classifier.APIKey) != "" {
		openaiClf, err := classifier.NewOpenAI(cfg.Classifier, logger)
		if err != nil {
			logger.Fatal("classifier init failed", zap.Error(err))
		}
		clf = classifier.NewLimited(openaiClf, cfg.Classifier.RateLimitPerMinute, cfg.Classifier.Concurrency)
	} else {
		logger.Warn("classifier api key missing, ingestion disabled")
	}

	pipeline := &service.Pipeline{
		Repo:       store,
		Gate:       gate.New(cfg.Gate.Threshold),
		Classifier: clf,
		Flags:      settingsSvc,
		Events:     hub,
		Logger:     logger,
	}

	var discord *source.Discord
	if strings.TrimSpace(cfg.Discord.Token) != "" {
		discord, err = source.NewDiscord(cfg.Discord, logger)
		if err != nil {
			logger.Fatal("discord init failed", zap.Error(err))
		}
	} else {
		logger.Warn("discord token missing, source disabled")
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(handler.RequestLogger(logger))
	engine.Use(handler.CORS(cfg.Server.CORSOrigins))

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)
	signalsHandler := &handler.SignalsHandler{Repo: store}
	signalsHandler.Register(engine)
	statsHandler := &handler.StatsHandler{Stats: statsSvc}
	statsHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Settings: settingsSvc}
	settingsHandler.Register(engine)
	eventsHandler := &handler.EventsHandler{Hub: hub, AllowedOrigins: cfg.Server.CORSOrigins, Logger: logger}
	eventsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	if discord != nil && clf != nil {
		if err := discord.Start(ctx, pipeline); err != nil {
			logger.Fatal("discord start failed", zap.Error(err))
		}
	} else if discord != nil {
		// Still connect so the checker can fetch messages.
		if err := discord.Start(ctx, source.HandlerFunc(func(context.Context, source.Envelope) error { return nil })); err != nil {
			logger.Fatal("discord start failed", zap.Error(err))
		}
	}

	checkerDone := make(chan struct{})
	if cfg.Checker.Enabled && discord != nil {
		checker := &service.Checker{
			Repo:    store,
			Fetcher: discord,
			Config:  cfg.Checker,
			Flags:   settingsSvc,
			Events:  hub,
			Logger:  logger,
		}
		go func() {
			defer close(checkerDone)
			if err := checker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("consistency checker stopped", zap.Error(err))
			}
		}()
	} else {
		close(checkerDone)
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		heartbeat := &service.Heartbeat{Repo: store, Hub: hub, Flags: settingsSvc, Logger: logger}
		if _, err := cronRunner.Add("heartbeat", cfg.Cron.Heartbeat, heartbeat.Run); err != nil {
			logger.Warn("cron register heartbeat failed", zap.Error(err))
		}
	}
	cronRunner.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	// The checker must return before the deferred db.Close runs.
	if !waitDone(shutdownCtx, checkerDone) {
		logger.Warn("checker did not stop before shutdown timeout")
	}
	cronRunner.Stop()
	if discord != nil {
		if err := discord.Stop(); err != nil {
			logger.Warn("discord close failed", zap.Error(err))
		}
	}
	if natsSink != nil {
		_ = natsSink.Close()
	}
	if closer, ok := cacheStore.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// waitDone blocks until done is closed or ctx ends and reports which came first.
func waitDone(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
