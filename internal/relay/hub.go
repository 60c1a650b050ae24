package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/observability"
	"github.com/okdaichi/overlaysync/internal/protocol"
	"github.com/okdaichi/overlaysync/internal/store"
)

// Hub is the fan-out set. Join, Publish and Leave are serialized under one
// lock, so every peer sees publishes in the same order and a joining peer
// gets the current document before any later publish.
type Hub struct {
	mu       sync.Mutex
	store    *store.Store
	registry *peerRegistry
	config   *Config

	recorders map[string]*observability.Recorder
}

// NewHub creates a hub backed by st. A nil cfg uses defaults.
func NewHub(st *store.Store, cfg *Config) *Hub {
	if st == nil {
		st = store.New()
	}
	return &Hub{
		store:    st,
		registry: newPeerRegistry(),
		config:   cfg,
		recorders: map[string]*observability.Recorder{
			"ws":   observability.NewRecorder("ws"),
			"http": observability.NewRecorder("http"),
		},
	}
}

// Join registers p and queues the current document to it, if any.
func (h *Hub) Join(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.register(p)

	doc, ok := h.store.Current()
	if !ok {
		return
	}
	frame, err := protocol.EncodeUpdate(doc)
	if err != nil {
		slog.Error("failed to encode current document", "error", err)
		return
	}
	if !p.enqueue(frame) {
		slog.Warn("dropped initial document", "peer", p.id)
	}
}

// Leave removes p from the fan-out set and stops its writer.
func (h *Hub) Leave(p *Peer) {
	h.mu.Lock()
	h.registry.deregister(p.id)
	h.mu.Unlock()

	p.close()
}

// Current returns the stored document and whether one exists.
func (h *Hub) Current() (document.Document, bool) {
	return h.store.Current()
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	return h.registry.peerCount()
}

// Publish validates raw, stores it and queues it to every peer. from is the
// originating peer, nil for HTTP publishes. A malformed payload leaves the
// stored document untouched and is reported to from alone; the returned
// error wraps document.ErrInvalid.
func (h *Hub) Publish(ctx context.Context, from *Peer, raw []byte, transport string) (document.Document, error) {
	rec := h.recorder(transport)

	_, span := observability.StartWith(ctx, "relay.publish",
		observability.Attrs(observability.Transport(transport)))
	defer span.End()

	doc, err := document.Parse(raw)
	if err != nil {
		rec.Rejected()
		span.Error(err, "rejected")
		if from != nil {
			from.enqueue(protocol.EncodeError(err.Error()))
		}
		return document.Document{}, err
	}

	frame, err := protocol.EncodeUpdate(doc)
	if err != nil {
		span.Error(err, "encode failed")
		return document.Document{}, fmt.Errorf("encode update: %w", err)
	}

	start := time.Now()
	sent, dropped := 0, 0

	h.mu.Lock()
	version := h.store.Replace(doc)
	for _, p := range h.registry.snapshot() {
		if p == from && !h.config.echo() {
			continue
		}
		if p.enqueue(frame) {
			sent++
		} else {
			dropped++
			slog.Warn("dropped update for slow peer", "peer", p.id)
		}
	}
	h.mu.Unlock()

	if obs := rec.LatencyObs(); obs != nil {
		obs.Observe(time.Since(start).Seconds())
	}
	rec.Published()
	rec.Fanout(sent, dropped)
	span.Set(
		observability.Fingerprint(doc.Fingerprint()),
		observability.Receivers(sent),
		observability.Version(version),
	)

	slog.Debug("document published",
		"transport", transport,
		"version", version,
		"receivers", sent,
		"dropped", dropped,
	)

	return doc, nil
}

// CloseAll disconnects every peer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	peers := h.registry.snapshot()
	for _, p := range peers {
		h.registry.deregister(p.id)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (h *Hub) recorder(transport string) *observability.Recorder {
	if rec, ok := h.recorders[transport]; ok {
		return rec
	}
	return observability.NewRecorder(transport)
}
