package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/okdaichi/overlaysync/internal/client"
	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/render"
)

// RunWatch runs the overlay consumer: every received document is rendered
// into the output directory as a stylesheet and a state file.
func RunWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	relayURL := fs.String("relay", "", "relay URL (overrides config)")
	outputDir := fs.String("out", "", "output directory (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	setupLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return watch(ctx, cfg)
}

// overlay holds the rendered state between updates.
type overlay struct {
	mu    sync.Mutex
	dir   string
	state render.State
}

func newOverlay(dir string) *overlay {
	o := &overlay{dir: dir}
	// keep fonts registered by a previous run
	if prev, err := render.ReadState(dir); err == nil {
		o.state = prev
	}
	return o
}

func (o *overlay) apply(doc document.Document) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if doc.Fingerprint() == o.state.Fingerprint {
		return
	}

	next := render.Apply(o.state, doc)
	if err := render.WriteDir(o.dir, next); err != nil {
		slog.Error("failed to write overlay", "dir", o.dir, "error", err)
		return
	}
	o.state = next
	slog.Info("overlay updated", "text", next.Text, "fingerprint", next.Fingerprint[:12])
}

func watch(ctx context.Context, cfg *config) error {
	cc, slot, err := cfg.clientConfig()
	if err != nil {
		return err
	}
	if slot != nil {
		defer slot.Close()
	}

	c, err := client.NewClient(cc)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	out := newOverlay(cfg.OutputDir)
	sub := c.OnUpdate(out.apply)
	defer sub.Cancel()

	slog.Info("watching", "relay", cfg.RelayURL, "output", cfg.OutputDir)
	return c.Run(ctx)
}
