// Command relay runs the wallet remote-signer relay server: session
// pairing, admission control, and WebSocket frame forwarding between a
// browser DApp and a mobile wallet. Grounded on the teacher's
// cmd/terminal-tunnel cobra command structure, generalized from a
// terminal-sharing CLI to this relay's single long-running server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/wallet-relay/internal/config"
	"github.com/artpar/wallet-relay/internal/logging"
	"github.com/artpar/wallet-relay/internal/metrics"
	"github.com/artpar/wallet-relay/internal/ratelimit"
	"github.com/artpar/wallet-relay/internal/relayserver"
	"github.com/artpar/wallet-relay/internal/session"
	"github.com/artpar/wallet-relay/internal/web"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "relay",
	Short:   "Self-hosted relay pairing a browser DApp and a mobile wallet",
	Version: version,
}

var servePort int
var serveHost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay's HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides PORT/config)")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "listen host (overrides HOST/config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer log.Sync() //nolint:errcheck

	store := session.New(session.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		PendingTTL:    cfg.Session.PendingTTL,
		ConnectedTTL:  cfg.Session.ConnectedTTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, log)
	defer store.Stop()

	limiter := ratelimit.New(ratelimit.Config{
		WindowMs:      cfg.RateLimit.WindowMs,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		SweepInterval: cfg.RateLimit.SweepInterval,
	})
	defer limiter.Stop()

	reg := metrics.New()
	renderer := web.New(cfg.ConfigDir, log)

	srv := relayserver.New(*cfg, log, store, limiter, reg, renderer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{Handler: srv.Router()}

	serveErr := make(chan error, 1)
	go func() {
		log.Sugar().Infof("relay listening on %s", addr)
		serveErr <- httpServer.Serve(listener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-sigCh:
		log.Sugar().Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store.CloseAll(session.CloseGoingAway, "Server shutting down")
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Sugar().Warnf("graceful shutdown failed: %v", err)
		}
	}

	return nil
}
