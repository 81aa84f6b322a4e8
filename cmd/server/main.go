package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"context-sync-server/internal/config"
	"context-sync-server/internal/discovery"
	"context-sync-server/internal/domain"
	"context-sync-server/internal/handler"
	"context-sync-server/internal/middleware"
	"context-sync-server/internal/repository"
	"context-sync-server/internal/service"
	"context-sync-server/internal/store"
	"context-sync-server/internal/telemetry"
	"context-sync-server/internal/websocket"
	"context-sync-server/pkg/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}

	persistence, err := buildPersistence(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer persistence.Close()

	states := store.New()
	broadcaster := service.NewBroadcaster(cfg.Sync.SubscriberBuffer, logger)
	changeLog := service.NewChangeLog(broadcaster)
	conflicts := service.NewConflictService(logger)
	snapshots := service.NewSnapshotService(persistence, cfg.Sync.MaxSnapshots, logger)

	wsManager := websocket.NewManager(
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.MaxMessageSize,
		logger,
	)

	syncService := service.NewSyncService(
		nodeID,
		states,
		changeLog,
		broadcaster,
		conflicts,
		persistence,
		wsManager,
		logger,
	)
	syncService.SetResolutionStrategy(domain.ResolutionStrategy(cfg.Sync.Resolution))
	syncService.SetCleanupAge(cfg.Sync.CleanupOlderThan)

	contextService := service.NewContextService(states, syncService, logger)
	syncService.SetContexts(contextService)

	wsManager.SetSink(syncService)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncService.Init(rootCtx); err != nil {
		logger.Fatal("failed to initialize sync coordinator", zap.Error(err))
	}

	go wsManager.Run(rootCtx)
	go syncService.Run(rootCtx)
	go runSyncSchedule(rootCtx, cfg, syncService, logger)

	if cfg.Discovery.Enabled {
		if err := startDiscovery(rootCtx, cfg, nodeID, wsManager, logger); err != nil {
			logger.Error("discovery disabled after error", zap.Error(err))
		}
	}

	contextHandler := handler.NewContextHandler(contextService)
	snapshotHandler := handler.NewSnapshotHandler(snapshots, syncService, states)
	syncHandler := handler.NewSyncHandler(syncService, wsManager)
	wsHandler := handler.NewWebSocketHandler(
		wsManager,
		cfg.Node.PeerSecret,
		cfg.WebSocket.ReadBufferSize,
		cfg.WebSocket.WriteBufferSize,
		logger,
	)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware(logger))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.Handle("/contexts", telemetry.Instrument("/contexts", http.HandlerFunc(contextHandler.Create))).Methods("POST")
	api.Handle("/contexts", telemetry.Instrument("/contexts", http.HandlerFunc(contextHandler.List))).Methods("GET")
	api.Handle("/contexts/{id}", telemetry.Instrument("/contexts/{id}", http.HandlerFunc(contextHandler.Get))).Methods("GET")
	api.Handle("/contexts/{id}", telemetry.Instrument("/contexts/{id}", http.HandlerFunc(contextHandler.Update))).Methods("PUT")
	api.Handle("/contexts/{id}", telemetry.Instrument("/contexts/{id}", http.HandlerFunc(contextHandler.Delete))).Methods("DELETE")
	api.Handle("/contexts/{id}/children", telemetry.Instrument("/contexts/{id}/children", http.HandlerFunc(contextHandler.Children))).Methods("GET")
	api.Handle("/validations/{type}", telemetry.Instrument("/validations/{type}", http.HandlerFunc(contextHandler.RegisterValidation))).Methods("POST")

	api.Handle("/contexts/{id}/snapshots", telemetry.Instrument("/contexts/{id}/snapshots", http.HandlerFunc(snapshotHandler.Create))).Methods("POST")
	api.Handle("/contexts/{id}/snapshots", telemetry.Instrument("/contexts/{id}/snapshots", http.HandlerFunc(snapshotHandler.List))).Methods("GET")
	api.Handle("/contexts/{id}/recover", telemetry.Instrument("/contexts/{id}/recover", http.HandlerFunc(snapshotHandler.Recover))).Methods("POST")
	api.Handle("/snapshots/{id}/restore", telemetry.Instrument("/snapshots/{id}/restore", http.HandlerFunc(snapshotHandler.Restore))).Methods("POST")
	api.Handle("/snapshots/{id}", telemetry.Instrument("/snapshots/{id}", http.HandlerFunc(snapshotHandler.Delete))).Methods("DELETE")

	api.Handle("/sync", telemetry.Instrument("/sync", http.HandlerFunc(syncHandler.TriggerSync))).Methods("POST")
	api.Handle("/sync/status", telemetry.Instrument("/sync/status", http.HandlerFunc(syncHandler.Status))).Methods("GET")
	api.Handle("/sync/changes", telemetry.Instrument("/sync/changes", http.HandlerFunc(syncHandler.Changes))).Methods("GET")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods("GET")
	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting context sync server",
			zap.String("addr", addr),
			zap.String("node_id", nodeID),
			zap.String("env", cfg.Server.Env),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	syncService.Close()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Server.Env == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func buildPersistence(cfg *config.Config, logger *zap.Logger) (repository.Persistence, error) {
	switch cfg.Storage.Backend {
	case "bolt":
		return repository.NewBoltPersistence(cfg.Storage.BoltPath)

	case "couch":
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Storage.Couch.User,
			cfg.Storage.Couch.Password,
			cfg.Storage.Couch.Host,
			cfg.Storage.Couch.Port,
		)

		client, err := kivik.New("couch", couchURL)
		if err != nil {
			return nil, fmt.Errorf("connect couchdb: %w", err)
		}

		exists, err := client.DBExists(context.Background(), cfg.Storage.Couch.Name)
		if err != nil {
			return nil, fmt.Errorf("check database: %w", err)
		}
		if !exists {
			if err := client.CreateDB(context.Background(), cfg.Storage.Couch.Name); err != nil {
				return nil, fmt.Errorf("create database: %w", err)
			}
			logger.Info("created database", zap.String("name", cfg.Storage.Couch.Name))
		}
		return repository.NewCouchPersistence(client, cfg.Storage.Couch.Name), nil

	case "memory":
		return repository.NewMemoryPersistence(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// runSyncSchedule triggers a sync pass on every tick, retrying failed
// passes up to the configured limit.
func runSyncSchedule(ctx context.Context, cfg *config.Config, syncService *service.SyncService, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for attempt := 0; attempt <= cfg.Sync.MaxRetries; attempt++ {
				passCtx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
				result, err := syncService.Sync(passCtx)
				cancel()

				if err == nil && result.Success {
					break
				}
				if errors.Is(err, domain.ErrSyncInProgress) {
					// Another pass is running; wait for the next tick.
					break
				}
				if err != nil {
					logger.Warn("scheduled sync failed",
						zap.Int("attempt", attempt+1),
						zap.Error(err),
					)
				} else {
					logger.Warn("scheduled sync finished with failures",
						zap.Int("attempt", attempt+1),
						zap.Int("failed", result.Failed),
					)
				}
			}
		}
	}
}

// startDiscovery registers this node in etcd and dials every other node,
// present now or joining later.
func startDiscovery(ctx context.Context, cfg *config.Config, nodeID string, wsManager *websocket.Manager, logger *zap.Logger) error {
	registry, err := discovery.New(cfg.Discovery.Endpoints, cfg.Discovery.Prefix, logger)
	if err != nil {
		return err
	}

	peerURL := cfg.Discovery.PeerURL
	if peerURL == "" {
		peerURL = fmt.Sprintf("ws://%s:%s/ws", cfg.Server.Host, cfg.Server.Port)
	}

	if err := registry.Register(ctx, nodeID, peerURL); err != nil {
		return err
	}

	dial := func(id, url string) {
		if id == nodeID {
			return
		}
		peerToken, err := token.GenerateToken(nodeID, 24*time.Hour, cfg.Node.PeerSecret)
		if err != nil {
			logger.Error("failed to mint peer token", zap.Error(err))
			return
		}
		if err := wsManager.Connect(ctx, id, url+"?token="+peerToken, ""); err != nil {
			logger.Warn("failed to dial peer",
				zap.String("node_id", id),
				zap.Error(err),
			)
		}
	}

	nodes, err := registry.Nodes(ctx)
	if err != nil {
		return err
	}
	for id, url := range nodes {
		dial(id, url)
	}

	registry.Watch(ctx, dial, func(id string) {
		logger.Info("peer left discovery", zap.String("node_id", id))
	})

	go func() {
		<-ctx.Done()
		registry.Close()
	}()
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"context-sync-server"}`))
}
