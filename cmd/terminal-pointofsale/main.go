package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"terminal-pointofsale/internal/api"
	"terminal-pointofsale/internal/core"
	_ "terminal-pointofsale/internal/drivers/simulator"
	_ "terminal-pointofsale/internal/drivers/stripeterminal"
	"terminal-pointofsale/internal/payments"
	"terminal-pointofsale/internal/service"
	"terminal-pointofsale/internal/session"
	"terminal-pointofsale/internal/settings"
)

func main() {
	cfg, err := settings.Load(os.Getenv("TERMINAL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	root, err := core.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger := core.ComponentLogger(root, "terminal-pointofsale")
	logger.Infof("Starting Terminal POS application (mode=%s, driver=%s)...", cfg.Mode, cfg.Driver)

	dataDir := core.GetDataDirectory(cfg.DataDir)
	store, err := core.NewPaymentStore(filepath.Join(dataDir, "badger_db"), 2, core.ComponentLogger(root, "store"))
	if err != nil {
		logger.Fatalf("Failed to create payment store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close payment store: %v", err)
		}
	}()

	audit := core.NewAuditLogger(filepath.Join(dataDir, "audit"), 50, core.ComponentLogger(root, "audit"))
	defer audit.Close()

	var idem core.IdempotencyStore = core.NewMemoryIdempotencyStore()
	if cfg.RedisAddr != "" {
		redisStore := core.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warningf("Redis at %s unavailable, using in-process idempotency store: %v", cfg.RedisAddr, err)
			redisStore.Close()
		} else {
			logger.Infof("Using Redis idempotency store at %s", cfg.RedisAddr)
			idem = redisStore
			defer redisStore.Close()
		}
	}

	paymentService := payments.NewService(payments.Config{
		Backend:     payments.NewStripeBackend(cfg.SecretKey, cfg.APIURL),
		Idempotency: idem,
		Audit:       audit,
		Logger:      core.ComponentLogger(root, "payments"),
		Currency:    cfg.Currency,
	})

	driverManager := service.NewDriverManager(core.ComponentLogger(root, "drivers"))
	if err := driverManager.HandleConfigChange(cfg); err != nil {
		logger.Fatalf("Failed to start terminal driver: %v", err)
	}

	sess := session.New(session.Config{
		Loader:     driverManager.Load,
		Actions:    paymentService,
		Journal:    store,
		LocationID: cfg.LocationID,
		Currency:   cfg.Currency,
		Live:       cfg.Live(),
		Logger:     core.ComponentLogger(root, "session"),
	})

	settingsManager := settings.NewManager(cfg, core.ComponentLogger(root, "settings"))
	settingsManager.SetUpdateCallback(func(rt settings.Runtime) {
		sess.SetLocation(rt.LocationID)
		sess.SetCurrency(rt.Currency)
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	if st := sess.Initialize(initCtx); !st.Initialized {
		logger.Warningf("Terminal not initialized at start-up: %s", st.Error)
	}
	cancelInit()

	server := api.NewServer(fmt.Sprintf(":%d", cfg.Port), api.Deps{
		Logger:          core.ComponentLogger(root, "api"),
		SettingsManager: settingsManager,
		Session:         sess,
		Payments:        paymentService,
		Journal:         store,
		Audit:           audit,
		GetSimulation:   driverManager.Simulation,
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("API Server failed: %v", err)
		}
	}()

	go func() {
		for range settingsManager.Changes() {
			rt := settingsManager.Runtime()
			if err := audit.Log("update_settings", map[string]interface{}{"location_id": rt.LocationID, "currency": rt.Currency}, nil); err != nil {
				logger.Warningf("Failed to audit settings change: %v", err)
			}
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := server.Stop(ctx); err != nil {
		logger.Errorf("API Server stop failed: %v", err)
	}
	// the journal closes in a defer, so collections must have recorded first
	if err := sess.Shutdown(ctx); err != nil {
		logger.Errorf("Session shutdown incomplete: %v", err)
	}
	if err := driverManager.Stop(); err != nil {
		logger.Errorf("Driver stop failed: %v", err)
	}
	cancel()
	logger.Info("Terminal POS application stopped")
}
