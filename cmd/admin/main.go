// Command admin runs the administrative service: node and client
// management, sync fan-out and the spreadsheet import hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorillaerror/xui-central/internal/admin/api"
	"github.com/gorillaerror/xui-central/internal/admin/config"
	"github.com/gorillaerror/xui-central/internal/admin/db"
	"github.com/gorillaerror/xui-central/internal/admin/events"
	"github.com/gorillaerror/xui-central/internal/admin/keystore"
	"github.com/gorillaerror/xui-central/internal/admin/metrics"
	"github.com/gorillaerror/xui-central/internal/admin/node"
	"github.com/gorillaerror/xui-central/internal/admin/panel"
	"github.com/gorillaerror/xui-central/internal/admin/sheets"
	"github.com/gorillaerror/xui-central/internal/admin/sync"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
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
	logCfg.Component = "admin"
	logCfg.Version = version
	log := logger.New(logCfg)

	store, err := db.NewStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus(log)
	defer bus.Close()
	m := metrics.New()

	dir := node.NewDirectory(store, log)
	keys := keystore.New(store, log)
	connector := panel.NewXUIConnector(cfg.Panel, log)
	coord := sync.NewCoordinator(store, dir, keys, connector, bus, m, cfg.Sync, log)

	var importer api.Importer
	if cfg.Sheets.CSVURL != "" {
		importer = sheets.NewImporter(cfg.Sheets, store, coord, log)
	}

	bus.Subscribe(events.ClientSynced, func(ctx context.Context, ev events.Event) error {
		log.DebugContext(ctx, "sync event", "type", ev.Type, "email", ev.ClientEmail, "status", ev.Status)
		return nil
	})

	server := api.NewServer(api.ServerConfig{
		Address:         cfg.AdminAPI.Address,
		CORSOrigins:     cfg.AdminAPI.CORSOrigins,
		SubscriptionURL: cfg.Subscription.PublicURL,
		Version:         version,
	}, store, dir, keys, coord, importer, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	log.InfoContext(ctx, "admin service started", "address", cfg.AdminAPI.Address, "version", version)

	<-ctx.Done()
	log.Info("shutting down")
	return server.Stop(context.Background())
}
