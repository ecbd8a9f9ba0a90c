package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bestoffer/config"
	"bestoffer/core/state"
	"bestoffer/gateway"
	"bestoffer/native/settlement"
	"bestoffer/observability/logging"
	"bestoffer/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("bestofferd", cfg.Env, logging.ParseLevel(cfg.LogLevel))

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "settlement"))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	for _, token := range cfg.Tokens {
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			if errors.Is(err, state.ErrTokenExists) {
				continue
			}
			log.Fatalf("register token %s: %v", token.Symbol, err)
		}
		logger.Info("registered token", "symbol", token.Symbol, "decimals", token.Decimals)
	}

	engine := settlement.NewEngine()
	engine.SetState(manager)

	if admin, ok, err := cfg.Admin(); err != nil {
		log.Fatalf("parse admin address: %v", err)
	} else if ok {
		if _, err := engine.InitConfig(admin, cfg.FeeBps); err != nil && !errors.Is(err, settlement.ErrAlreadyExists) {
			log.Fatalf("initialise settlement config: %v", err)
		}
		if _, err := engine.InitTreasury(admin); err != nil && !errors.Is(err, settlement.ErrAlreadyExists) {
			log.Fatalf("initialise treasury: %v", err)
		}
		logger.Info("settlement records ensured", "admin", cfg.AdminAddress, "feeBps", cfg.FeeBps)
	}

	server := gateway.NewServer(engine, manager, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("settlement gateway listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down settlement gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
