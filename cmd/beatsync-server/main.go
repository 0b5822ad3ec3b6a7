// ABOUTME: Entry point for the beatsync coordinator server
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/beatsync/beatsync-go/internal/backup"
	"github.com/beatsync/beatsync-go/internal/clock"
	"github.com/beatsync/beatsync-go/internal/config"
	"github.com/beatsync/beatsync-go/internal/discovery"
	"github.com/beatsync/beatsync-go/internal/dispatch"
	"github.com/beatsync/beatsync-go/internal/httpapi"
	blog "github.com/beatsync/beatsync-go/internal/log"
	"github.com/beatsync/beatsync-go/internal/provider"
	"github.com/beatsync/beatsync-go/internal/room"
	"github.com/beatsync/beatsync-go/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.Host, "host", cfg.Host, "listen host (empty for all interfaces)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for audio blobs and backups")
	flag.StringVar(&cfg.ProviderURL, "provider-url", cfg.ProviderURL, "music provider base URL (empty disables)")
	flag.BoolVar(&cfg.EnableMDNS, "mdns", cfg.EnableMDNS, "advertise the server via mDNS")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	flag.Parse()

	blog.Configure(blog.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: "beatsync"})
	log := blog.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := storage.NewDiskStore(filepath.Join(cfg.DataDir, "audio"))
	if err != nil {
		log.Fatal().Err(err).Msg("init blob store")
	}
	backupStore, err := backup.NewDiskStore(filepath.Join(cfg.DataDir, "backups"))
	if err != nil {
		log.Fatal().Err(err).Msg("init backup store")
	}

	clk := clock.New()
	rooms := room.NewRegistry(room.DefaultConfig(), clk, store)
	prov := provider.New(cfg.ProviderURL)
	if prov == nil {
		log.Info().Msg("music provider disabled")
	}
	dispatcher := dispatch.New(clk, rooms, prov, cfg.DefaultTracks)
	server := httpapi.New(cfg, clk, rooms, dispatcher, store)

	backups := backup.NewManager(rooms, backupStore, backup.DefaultInterval)
	if err := backups.Restore(context.Background()); err != nil {
		log.Error().Err(err).Msg("backup restore failed, starting empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backupDone := make(chan struct{})
	go func() {
		backups.Run(ctx)
		close(backupDone)
	}()

	if cfg.EnableMDNS {
		adv, err := discovery.Advertise(cfg.Port)
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertisement failed")
		} else {
			defer adv.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	stop()
	<-backupDone // final backup flush
	log.Info().Msg("bye")
}
