// wabridge - WhatsApp session bridge
// Drives a linked WhatsApp device, streams its lifecycle to the browser
// over a WebSocket and sends text messages on POST /send-message.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sipeed/wabridge/pkg/api"
	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("wabridge", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "wabridge.yaml", "path to the YAML config file")
	host := flags.String("host", "", "address to bind (overrides config)")
	port := flags.IntP("port", "p", 0, "port to listen on (overrides config)")
	sessionDir := flags.String("session-dir", "", "directory for the stored login (overrides config)")
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("wabridge %s\n", version)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *sessionDir != "" {
		cfg.Session.Dir = *sessionDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if *verbose {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
	if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
		// A stale, still-locked log file must not keep the bridge down.
		logger.WarnCF("main", "File logging disabled", map[string]interface{}{
			"path":  cfg.Log.File,
			"error": err.Error(),
		})
	}
	defer logger.DisableFileLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := whatsapp.NewSessionStore(cfg.Session.DBPath())
	if err := store.Open(ctx); err != nil {
		return err
	}
	defer store.Close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	m := metrics.New()

	svc := session.NewService(func(emit func(whatsapp.Signal)) whatsapp.Client {
		return whatsapp.NewClient(store, whatsapp.Options{
			DeviceName:    cfg.WhatsApp.DeviceName,
			PrintQR:       cfg.WhatsApp.PrintQR,
			DebugProtocol: cfg.WhatsApp.DebugProtocol,
		}, emit)
	}, msgBus, session.RecoveryPolicy{
		Delay:         cfg.Recovery.Delay,
		MaxDelay:      cfg.Recovery.MaxDelay,
		MaxAttempts:   cfg.Recovery.MaxAttempts,
		BackoffFactor: cfg.Recovery.BackoffFactor,
		LockedMarkers: cfg.Recovery.LockedMarkers,
	}, m)

	server := api.NewServer(cfg, svc, msgBus, m)
	server.SetStore(store)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.InfoCF("main", "wabridge starting", map[string]interface{}{
		"version":     version,
		"session_dir": cfg.Session.Dir,
	})
	svc.Start(ctx)

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	if err := server.Stop(); err != nil {
		logger.ErrorCF("main", "HTTP shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.ErrorCF("main", "Session shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}
