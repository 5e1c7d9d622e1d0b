package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/api"
	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/cacheloader"
	"pos-sync-service/internal/config"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/netmode"
	"pos-sync-service/internal/outbox"
	"pos-sync-service/internal/realtime"
	"pos-sync-service/internal/replicator"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting POS sync service")

	// Table registry
	specs := make([]backend.TableSpec, 0, len(cfg.Replication.Tables))
	for _, t := range cfg.Replication.Tables {
		specs = append(specs, backend.TableSpec{
			Name:            t.Name,
			PrimaryKey:      t.PrimaryKey,
			TimestampColumn: t.TimestampColumn,
		})
	}
	registry, err := backend.NewRegistry(specs)
	if err != nil {
		logger.Log.Fatal("Invalid table configuration", zap.Error(err))
	}

	// Local store
	local, err := localstore.Open(cfg.LocalStore.Path)
	if err != nil {
		logger.Log.Fatal("Failed to open local store", zap.Error(err))
	}
	defer local.Close()

	// Backend clients
	probeTimeout := cfg.Replication.GetProbeTimeout()
	primary, err := backend.NewClient(cfg.Backends.Primary, registry, probeTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to create primary backend client", zap.Error(err))
	}
	defer primary.Close()

	cloud, err := backend.NewClient(cfg.Backends.Cloud, registry, probeTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to create cloud backend client", zap.Error(err))
	}
	defer cloud.Close()

	// Connectivity + mode
	prober := netmode.NewProber(primary.Reachable, 10*time.Second)
	prober.Start(context.Background())
	defer prober.Stop()

	detector := netmode.NewDetector(func() bool {
		return cfg.Backends.Primary.Local
	}, prober)

	// Query cache
	var queryCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		if err != nil {
			logger.Log.Fatal("Failed to connect to redis cache", zap.Error(err))
		}
		defer rc.Close()
		queryCache = rc
	default:
		mc := cache.NewMemoryCache()
		defer mc.Stop()
		queryCache = mc
	}

	// Services
	loader := cacheloader.NewLoader(local, primary, queryCache, detector, registry, cfg.Cache.GetTTL())

	outboxSvc := outbox.NewService(local, primary, prober, cfg.Outbox.Table,
		cfg.Outbox.GetSettleDelay(), cfg.Outbox.GetPurgeAfter())
	outboxSvc.StartAutoSync(cfg.Outbox.GetInterval())
	defer outboxSvc.StopAutoSync()

	replicatorSvc := replicator.NewService(local, primary, cloud, registry, prober, cfg.LocalStore.BackupDir)
	if cfg.Replication.Enabled {
		replicatorSvc.StartAutoSync(cfg.Replication.GetInterval())
		defer replicatorSvc.StopAutoSync()
	}

	if cfg.Realtime.Enabled {
		listener, err := realtime.NewListener(cfg.Backends.Primary, cfg.Realtime, loader, func(table string, event realtime.EventType) {
			logger.Log.Info("Table changed on another device",
				zap.String("table", table),
				zap.String("event", string(event)),
			)
		})
		if err != nil {
			logger.Log.Fatal("Failed to create realtime listener", zap.Error(err))
		}
		if err := listener.Start(); err != nil {
			logger.Log.Fatal("Failed to start realtime listener", zap.Error(err))
		}
		defer listener.Stop()
	}

	// Init API
	handler := api.NewHandler(loader, outboxSvc, replicatorSvc, cfg.Server.CorsOrigins)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
}
