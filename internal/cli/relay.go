// Package cli implements the overlaysync commands: the relay server, the
// overlay watcher (consumer) and the one-shot publisher (producer).
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okdaichi/overlaysync/internal/observability"
	"github.com/okdaichi/overlaysync/internal/relay"
	"github.com/okdaichi/overlaysync/internal/store"
	"github.com/okdaichi/overlaysync/internal/version"
)

const shutdownTimeout = 10 * time.Second

// RunRelay starts the relay server and blocks until SIGINT or SIGTERM.
func RunRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	return serveRelay(ctx, cfg, ln)
}

// serveRelay runs the relay on ln until ctx is done, then shuts it down.
func serveRelay(ctx context.Context, cfg *config, ln net.Listener) error {
	if err := observability.Setup(ctx, cfg.Observability); err != nil {
		ln.Close()
		return fmt.Errorf("failed to setup observability: %w", err)
	}
	defer observability.Shutdown(context.Background())

	var opts []store.Option
	if cfg.SnapshotPath != "" {
		opts = append(opts, store.WithSnapshotter(store.NewFileSnapshot(cfg.SnapshotPath)))
		log.Printf("Snapshot enabled: %s", cfg.SnapshotPath)
	}

	relayConfig := cfg.RelayConfig
	server := &relay.Server{
		Addr:   ln.Addr().String(),
		Config: &relayConfig,
		Store:  store.New(opts...),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	log.Printf("%s relay listening on %s", version.Short(), ln.Addr())
	log.Println("  /ws, /         - WebSocket (live updates)")
	log.Println("  /config        - Current document (GET)")
	log.Println("  /update        - Publish document (POST)")
	log.Println("  /health        - Health check (?probe=live|ready)")
	if relayConfig.Metrics {
		log.Println("  /metrics       - Prometheus metrics")
	}
	log.Println("  /api/...       - Aliases of the routes above")
	log.Printf("Tracing export: %t, metrics collection: %t",
		observability.Enabled(), observability.MetricsEnabled())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay server error: %w", err)
		}
		return nil
	}

	log.Println("Shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Error during shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("relay server error: %w", err)
	}

	log.Println("Relay stopped")
	return nil
}
