// Package client is the Transport Client: it gives a presentation layer a
// single Publish / OnUpdate contract over a live relay connection, a
// request/response fallback and the same-machine fallback channel.
//
// A Client runs three loops once Run is called: the connection loop
// (dial, read, reconnect on a linear schedule), the shared-slot poll loop
// (active only while not CONNECTED) and the same-machine bus listener.
// Update handlers are called one at a time, never concurrently, and may
// call Publish.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/local"
	"github.com/okdaichi/overlaysync/internal/observability"
	"github.com/okdaichi/overlaysync/internal/protocol"
)

var (
	// ErrExhausted is reported once the reconnect budget is spent.
	ErrExhausted = errors.New("reconnect attempts exhausted")

	// ErrUndelivered is returned by Publish when no path accepted the
	// document.
	ErrUndelivered = errors.New("document not delivered")
)

const DefaultPollInterval = time.Second

// Config holds the settings for a Client.
type Config struct {
	// URL is the relay base URL (e.g. "http://localhost:3000"). ws:// and
	// wss:// are accepted too. Empty means local-only operation.
	URL string

	// ID identifies this client on the same-machine bus. Generated if empty.
	ID string

	// Fallback enables the same-machine channel: Bus and Slot.
	Fallback bool

	// Bus is the same-machine broadcast bus. Defaults to local.DefaultBus
	// when Fallback is set.
	Bus *local.Bus

	// Slot is the shared-storage slot. Publish writes it whenever it is
	// set; it is polled only with Fallback. Nil disables the
	// shared-storage path; the bus still works.
	Slot local.Slot

	// HTTPFallback makes Publish POST to the relay while not CONNECTED.
	HTTPFallback bool

	// PollInterval is the shared-slot poll period. Default: 1s.
	PollInterval time.Duration

	// MaxAttempts and RetryStep define the reconnect schedule: attempt n
	// waits n×RetryStep, at most MaxAttempts times. Defaults: 5, 2s.
	MaxAttempts int
	RetryStep   time.Duration

	// TLS configures https/wss relays. If nil, system roots are used.
	TLS *TLSConfig
}

// Route reports which path a publish took.
type Route int

const (
	RouteNone  Route = iota
	RouteLive        // live connection
	RouteHTTP        // request/response fallback
	RouteLocal       // same-machine fallback only
)

func (r Route) String() string {
	switch r {
	case RouteLive:
		return "live"
	case RouteHTTP:
		return "http"
	case RouteLocal:
		return "local"
	default:
		return "none"
	}
}

// Degraded reports whether the publish missed the live connection.
func (r Route) Degraded() bool { return r != RouteLive }

// Handler receives delivered documents.
type Handler func(doc document.Document)

// Subscription is returned by OnUpdate.
type Subscription struct {
	client *Client
	id     uint64
}

// Cancel stops further deliveries to the handler. Safe to call repeatedly.
func (s Subscription) Cancel() {
	if s.client == nil {
		return
	}
	s.client.mu.Lock()
	delete(s.client.handlers, s.id)
	s.client.mu.Unlock()
}

// Client is a Transport Client. It is safe for concurrent use.
type Client struct {
	config  Config
	httpURL string
	wsURL   string

	client *http.Client
	dialer *websocket.Dialer

	mu       sync.Mutex
	machine  *machine
	conn     *websocket.Conn
	handlers map[uint64]Handler
	nextID   uint64
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex

	// handlerMu serializes handler calls. Publish never takes it, so a
	// handler may publish.
	handlerMu sync.Mutex

	seenMu   sync.Mutex
	lastSeen string
}

// NewClient creates a client. Call Run to start it.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" && !cfg.Fallback {
		return nil, errors.New("client: URL or Fallback is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Fallback && cfg.Bus == nil {
		cfg.Bus = local.DefaultBus
	}

	c := &Client{
		config:   cfg,
		machine:  newMachine(newLinearBackOff(cfg.RetryStep, cfg.MaxAttempts)),
		handlers: make(map[uint64]Handler),
		done:     make(chan struct{}),
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := *websocket.DefaultDialer

	if cfg.TLS != nil {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("client TLS: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
		dialer.TLSClientConfig = tlsCfg
	}

	c.client = &http.Client{Transport: transport, Timeout: 10 * time.Second}
	c.dialer = &dialer

	if cfg.URL != "" {
		var err error
		c.httpURL, c.wsURL, err = endpoints(cfg.URL)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// endpoints derives the REST base URL and the WebSocket URL from raw.
func endpoints(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse relay URL: %w", err)
	}

	var httpScheme, wsScheme string
	switch u.Scheme {
	case "http", "ws":
		httpScheme, wsScheme = "http", "ws"
	case "https", "wss":
		httpScheme, wsScheme = "https", "wss"
	default:
		return "", "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("relay URL %q has no host", raw)
	}

	base := strings.TrimSuffix(u.Path, "/")
	base = strings.TrimSuffix(base, "/ws")

	httpURL := (&url.URL{Scheme: httpScheme, Host: u.Host, Path: base}).String()
	wsURL := (&url.URL{Scheme: wsScheme, Host: u.Host, Path: base + "/ws"}).String()
	return httpURL, wsURL, nil
}

// ID returns the client id.
func (c *Client) ID() string { return c.config.ID }

// State returns the live connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.machine.state
}

// Degraded reports whether the client is working without a live connection.
func (c *Client) Degraded() bool {
	return c.State() != Connected
}

// Exhausted reports whether the client has given up reconnecting.
func (c *Client) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.machine.exhausted
}

// OnUpdate registers h for every delivered document.
func (c *Client) OnUpdate(h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.handlers[c.nextID] = h
	return Subscription{client: c, id: c.nextID}
}

// Publish sends doc over the live connection when CONNECTED, otherwise
// over the request/response fallback if enabled. With fallback enabled the
// document is also written to the shared slot and posted on the bus.
func (c *Client) Publish(ctx context.Context, doc document.Document) (Route, error) {
	if doc.IsZero() {
		return RouteNone, fmt.Errorf("%w: empty document", document.ErrInvalid)
	}

	ctx, span := observability.StartWith(ctx, "client.publish",
		observability.Attrs(observability.Fingerprint(doc.Fingerprint())))
	defer span.End()

	// our own publish must not come back through the slot
	c.seenMu.Lock()
	c.lastSeen = doc.Fingerprint()
	c.seenMu.Unlock()

	stored := c.publishLocal(ctx, doc)

	route := RouteNone
	var err error
	if c.sendLive(doc) {
		route = RouteLive
	} else if c.config.HTTPFallback && c.httpURL != "" {
		err = c.postUpdate(ctx, doc)
		switch {
		case err == nil:
			route = RouteHTTP
		case errors.Is(err, document.ErrInvalid):
			span.Error(err, "rejected")
			return RouteNone, err
		default:
			slog.Warn("http publish failed", "error", err)
		}
	}

	if route == RouteNone && stored {
		route, err = RouteLocal, nil
	}
	if route == RouteNone {
		if err == nil {
			err = ErrUndelivered
		}
		span.Error(err, "undelivered")
		return RouteNone, err
	}

	span.Set(observability.Transport(route.String()))
	return route, nil
}

// publishLocal writes the shared slot, whenever one is configured, and
// posts on the bus when the fallback is enabled. It reports whether any
// path accepted the document.
func (c *Client) publishLocal(ctx context.Context, doc document.Document) bool {
	ok := false
	if c.config.Slot != nil {
		if err := c.config.Slot.Store(ctx, doc); err != nil {
			slog.Warn("failed to write shared slot", "error", err)
		} else {
			ok = true
		}
	}
	if c.config.Fallback && c.config.Bus != nil {
		c.config.Bus.Post(c.config.ID, doc)
		ok = true
	}
	return ok
}

// sendLive writes doc on the live connection if there is one.
func (c *Client) sendLive(doc document.Document) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.machine.state == Connected
	c.mu.Unlock()

	if conn == nil || !connected {
		return false
	}

	frame, err := protocol.EncodeUpdate(doc)
	if err != nil {
		slog.Error("failed to encode update", "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		slog.Warn("live publish failed", "error", err)
		return false
	}
	return true
}

// FetchCurrentOnce retrieves the relay's stored document.
func (c *Client) FetchCurrentOnce(ctx context.Context) (document.Document, bool, error) {
	if c.httpURL == "" {
		return document.Document{}, false, errors.New("no relay configured")
	}

	ctx, span := observability.Start(ctx, "client.fetch")
	defer span.End()

	u := c.httpURL + "/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return document.Document{}, false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		span.Error(err, "fetch failed")
		return document.Document{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return document.Document{}, false, fmt.Errorf("GET %s returned %d", u, resp.StatusCode)
	}

	var result struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return document.Document{}, false, fmt.Errorf("decode config response: %w", err)
	}
	if len(result.Config) == 0 || string(result.Config) == "null" {
		return document.Document{}, false, nil
	}

	doc, err := document.Parse(result.Config)
	if err != nil {
		return document.Document{}, false, err
	}
	return doc, true, nil
}

func (c *Client) postUpdate(ctx context.Context, doc document.Document) error {
	u := c.httpURL + "/update"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(doc.Raw()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("%w: relay: %s", document.ErrInvalid, body.Error)
	case resp.StatusCode >= 400:
		return fmt.Errorf("POST %s returned %d", u, resp.StatusCode)
	}
	return nil
}

// Run starts the client and blocks until ctx is cancelled or Close is
// called. The current document is fetched once before the connection loop
// starts, so a stale fetch can never overwrite a live update.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("client already running")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	defer close(c.done)

	slog.Info("transport client started",
		"id", c.config.ID,
		"relay", c.httpURL,
		"fallback", c.config.Fallback)

	var busCh chan local.Message
	if c.config.Fallback && c.config.Bus != nil {
		busCh = make(chan local.Message, 16)
		if err := c.config.Bus.Subscribe(c.config.ID, busCh); err != nil {
			return fmt.Errorf("subscribe to bus: %w", err)
		}
		defer c.config.Bus.Unsubscribe(c.config.ID)
	}

	if c.httpURL != "" {
		doc, ok, err := c.FetchCurrentOnce(ctx)
		switch {
		case err != nil:
			slog.Warn("initial fetch failed", "error", err)
		case ok:
			c.deliver(doc, "fetch", false)
		}
	}

	var wg sync.WaitGroup

	if c.wsURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.connectLoop(ctx)
		}()
	}

	if c.config.Fallback && c.config.Slot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pollLoop(ctx)
		}()
	}

	if busCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.busLoop(ctx, busCh)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if c.config.Fallback && c.config.Bus != nil {
		stats := c.config.Bus.Stats()
		slog.Debug("bus stats", "posted", stats.Posted, "sent", stats.Sent,
			"dropped", stats.Dropped, "subscribers", stats.Subscribers)
	}
	slog.Info("transport client stopped", "id", c.config.ID)
	return nil
}

// Close stops Run and waits for it to return.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-c.done
	}
	c.client.CloseIdleConnections()
}

func (c *Client) fire(ev event) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.machine.state
	wait, err := c.machine.fire(ev)
	if err == nil && from != c.machine.state {
		slog.Debug("connection state changed", "id", c.config.ID,
			"from", from, "to", c.machine.state, "event", ev)
	}
	return wait, err
}

func (c *Client) connectLoop(ctx context.Context) {
	for {
		if _, err := c.fire(eventDial); err != nil {
			slog.Warn("not dialing", "error", err)
			return
		}

		var wait time.Duration
		conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			wait, _ = c.fire(eventFailed)
			if ctx.Err() == nil {
				slog.Warn("failed to connect to relay", "url", c.wsURL, "error", err)
			}
		} else {
			c.fire(eventOpened)
			slog.Info("connected to relay", "url", c.wsURL)

			err = c.readLoop(ctx, conn)

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			wait, _ = c.fire(eventLost)

			if ctx.Err() == nil {
				slog.Warn("relay connection lost", "error", err)
			}
		}

		if ctx.Err() != nil {
			return
		}
		if wait == backoff.Stop {
			slog.Warn("giving up on relay; fallback only", "error", ErrExhausted)
			return
		}

		slog.Info("reconnecting", "in", wait)
		observability.ClientReconnect()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("malformed frame from relay", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.TypeUpdate:
			doc, err := frame.Document()
			if err != nil {
				slog.Warn("invalid document from relay", "error", err)
				continue
			}
			c.deliver(doc, "live", false)
		case protocol.TypeError:
			slog.Warn("relay rejected update", "error", frame.Error)
		}
	}
}

// pollLoop compares the shared slot with the last delivered document on
// every tick while not CONNECTED.
func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() == Connected {
				continue
			}
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	doc, ok, err := c.config.Slot.Load(ctx)
	if err != nil {
		slog.Debug("failed to read shared slot", "error", err)
		return
	}
	if !ok {
		return
	}

	c.deliver(doc, "poll", true)
}

func (c *Client) busLoop(ctx context.Context, ch <-chan local.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			c.deliver(msg.Document, "local", false)
		}
	}
}

// deliver hands doc to every handler. With changedOnly set it is skipped
// when doc matches the last delivered or published document.
func (c *Client) deliver(doc document.Document, path string, changedOnly bool) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	fp := doc.Fingerprint()
	c.seenMu.Lock()
	if changedOnly && fp == c.lastSeen {
		c.seenMu.Unlock()
		return
	}
	c.lastSeen = fp
	c.seenMu.Unlock()

	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	observability.ClientUpdate(path)
	for _, h := range handlers {
		h(doc)
	}
}
