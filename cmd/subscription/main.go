// Command subscription serves the public subscription endpoint. It only
// reads the store, so it can run under a read-only database credential.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorillaerror/xui-central/internal/admin/config"
	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
	"github.com/gorillaerror/xui-central/internal/subscription"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "subscription: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadWithPath(configPath)
	} else {
		cfg, err = config.NewLoader().Load()
	}
	if err != nil {
		return err
	}

	logCfg := cfg.Log
	logCfg.Component = "subscription"
	logCfg.Version = version
	log := logger.New(logCfg)

	store, err := db.NewStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	assembler := subscription.NewAssembler(store, log)
	server := subscription.NewServer(subscription.ServerConfig{
		Address: cfg.Subscription.Address,
		Version: version,
	}, assembler, metrics.New(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	log.InfoContext(ctx, "subscription service started", "address", cfg.Subscription.Address, "version", version)

	<-ctx.Done()
	log.Info("shutting down")
	return server.Stop(context.Background())
}
