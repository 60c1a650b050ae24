package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/okdaichi/overlaysync/internal/client"
	"github.com/okdaichi/overlaysync/internal/document"
)

const defaultConnectTimeout = 3 * time.Second

// RunPublish sends one document, read from -file or stdin, and exits.
func RunPublish(args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	configFile := fs.String("config", "", "path to config file")
	relayURL := fs.String("relay", "", "relay URL (overrides config)")
	file := fs.String("file", "-", "document file, - for stdin")
	timeout := fs.Duration("timeout", defaultConnectTimeout, "how long to wait for the live connection")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
	}
	setupLogger(cfg.LogLevel)

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("failed to open document: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+10*time.Second)
	defer cancel()

	route, err := publish(ctx, cfg, in, *timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "published via %s\n", route)
	return nil
}

func readDocument(in io.Reader) (document.Document, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) == 0 {
		return document.Document{}, errNoDocument
	}
	return document.Parse(data)
}

// publish connects, waits up to wait for the live connection and sends the
// document. Without one it falls back like any other producer.
func publish(ctx context.Context, cfg *config, in io.Reader, wait time.Duration) (client.Route, error) {
	doc, err := readDocument(in)
	if err != nil {
		return client.RouteNone, err
	}

	cc, slot, err := cfg.clientConfig()
	if err != nil {
		return client.RouteNone, err
	}
	if slot != nil {
		defer slot.Close()
	}
	cc.MaxAttempts = 1

	c, err := client.NewClient(cc)
	if err != nil {
		return client.RouteNone, fmt.Errorf("failed to create client: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	if !waitConnected(ctx, c, wait) {
		slog.Warn("relay not connected, using fallback", "relay", cfg.RelayURL)
	}

	route, err := c.Publish(ctx, doc)
	if err != nil {
		if errors.Is(err, document.ErrInvalid) {
			return client.RouteNone, fmt.Errorf("document rejected: %w", err)
		}
		return client.RouteNone, err
	}
	if route.Degraded() {
		slog.Warn("published in degraded mode", "route", route.String())
	}
	return route, nil
}

func waitConnected(ctx context.Context, c *client.Client, wait time.Duration) bool {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for {
		if c.State() == client.Connected {
			return true
		}
		if c.Exhausted() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}
