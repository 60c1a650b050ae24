package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/observability"
	"github.com/okdaichi/overlaysync/internal/protocol"
)

type configResponse struct {
	Config document.Document `json:"config"`
}

// handleConfig returns the stored document, or null.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	doc, _ := s.hub.Current()
	writeJSON(w, http.StatusOK, configResponse{Config: doc})
}

// handleUpdate is the request/response publish path.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.Config.maxMessageBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		jsonError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if _, err := s.hub.Publish(r.Context(), nil, body, "http"); err != nil {
		if errors.Is(err, document.ErrInvalid) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to publish", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleWebSocket upgrades the request and serves one peer until it goes
// away. The session span counts toward the live connections gauge.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "error", err)
		return
	}

	p := newPeer(conn, r.RemoteAddr, s.Config.sendBuffer())
	slog.Info("client connected", "peer", p.id, "remote", p.remoteAddr)

	ctx, span := observability.StartWith(r.Context(), "relay.session",
		observability.Attrs(
			observability.PeerID(p.id),
			observability.Str("net.peer.addr", p.remoteAddr),
		),
		observability.OnStart(observability.IncConnections),
		observability.OnEnd(observability.DecConnections),
	)
	defer span.End()

	go p.writeLoop(s.Config)
	s.hub.Join(p)
	defer s.hub.Leave(p)
	span.Event("joined")

	handle := func(data []byte) {
		frame, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("malformed frame", "peer", p.id, "error", err)
			span.Event("malformed frame", observability.Num("overlay.bytes", int64(len(data))))
			p.enqueue(protocol.EncodeError("malformed frame"))
			return
		}
		if frame.Type != protocol.TypeUpdate {
			return
		}
		if _, err := s.hub.Publish(ctx, p, frame.Config, "ws"); err != nil {
			slog.Warn("rejected update", "peer", p.id, "error", err)
		}
	}
	// same answer as the 413 on POST /update, but the socket stays up
	tooLarge := func(size int64) {
		slog.Warn("frame too large", "peer", p.id, "bytes", size, "limit", s.Config.maxMessageBytes())
		span.Event("frame too large", observability.Num("overlay.bytes", size))
		s.hub.recorder("ws").Rejected()
		p.enqueue(protocol.EncodeError("payload too large"))
	}

	err = p.readLoop(s.Config, handle, tooLarge)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Warn("client connection lost", "peer", p.id, "error", err)
		span.Error(err, "connection lost")
		return
	}
	slog.Info("client disconnected", "peer", p.id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
