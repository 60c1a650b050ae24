package relay

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Peer is one live persistent connection. A Peer has exactly one writer
// goroutine; everything else hands it frames through enqueue.
type Peer struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, remoteAddr string, buffer int) *Peer {
	return &Peer{
		id:          uuid.NewString(),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the connection id.
func (p *Peer) ID() string { return p.id }

// enqueue hands frame to the writer. It never blocks: a full queue or a
// closed peer drops the frame and returns false.
func (p *Peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the writer and closes the socket. Safe to call repeatedly.
func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.conn == nil {
			return
		}
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		_ = p.conn.Close()
	})
}

// writeLoop drains the send queue to the socket and pings on idle.
func (p *Peer) writeLoop(cfg *Config) {
	ticker := time.NewTicker(cfg.pingInterval())
	defer ticker.Stop()
	defer p.close()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(cfg.writeTimeout()))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("write failed", "peer", p.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.writeTimeout())); err != nil {
				slog.Debug("ping failed", "peer", p.id, "error", err)
				return
			}
		}
	}
}

// readLoop passes every inbound text frame to handle until the connection
// fails or is closed. A text frame longer than the configured limit is
// drained and reported to tooLarge with its size; the connection stays open.
func (p *Peer) readLoop(cfg *Config, handle func(data []byte), tooLarge func(size int64)) error {
	limit := cfg.maxMessageBytes()
	pongWait := cfg.pingInterval() * 2
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, r, err := p.conn.NextReader()
		if err != nil {
			return err
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > limit {
			rest, err := io.Copy(io.Discard, r)
			if err != nil {
				return err
			}
			tooLarge(int64(len(data)) + rest)
			continue
		}
		handle(data)
	}
}
