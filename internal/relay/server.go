package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/okdaichi/overlaysync/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Addr   string
	Config *Config

	// Store holds the current document. If nil an in-memory store is used.
	Store *store.Store

	server *http.Server

	initOnce sync.Once

	hub           *Hub
	handler       http.Handler
	upgrader      websocket.Upgrader
	statusHandler *statusHandler
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Config == nil {
			s.Config = &Config{}
		}
		if s.Store == nil {
			s.Store = store.New()
		}

		s.hub = NewHub(s.Store, s.Config)
		s.statusHandler = newStatusHandler(s.hub)
		s.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		}
		if s.Config.AllowCORS {
			s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
		}
		s.handler = s.routes()
		s.server = &http.Server{Handler: s.handler}
	})
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(withLogging)

	mount := func(r *mux.Router) {
		r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWebSocket)
		r.Methods(http.MethodGet).Path("/config").HandlerFunc(s.handleConfig)
		r.Methods(http.MethodPost).Path("/update").HandlerFunc(s.handleUpdate)
		r.Methods(http.MethodGet, http.MethodHead).Path("/health").Handler(s.statusHandler)
		if s.Config.Metrics {
			r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
		}
	}
	mount(r)
	mount(r.PathPrefix("/api").Subrouter())

	// browsers connect to the page origin itself
	r.Methods(http.MethodGet).Path("/").
		HeadersRegexp("Upgrade", "(?i)websocket").
		HandlerFunc(s.handleWebSocket)

	if s.Config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.Config.StaticDir)))
	}

	if s.Config.AllowCORS {
		return withCORS(r)
	}
	return r
}

// Handler returns the relay's HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	s.init()

	return s.handler
}

// Hub returns the fan-out hub.
func (s *Server) Hub() *Hub {
	s.init()

	return s.hub
}

func (s *Server) Status() Status {
	s.init()

	return s.statusHandler.getStatus()
}

// Serve accepts connections on ln until Shutdown or Close. After either
// has been called Serve closes ln and returns nil at once.
func (s *Server) Serve(ln net.Listener) error {
	s.init()

	slog.Info("relay listening", "address", ln.Addr().String())

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe() error {
	s.init()

	addr := s.Addr
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Close() error {
	s.init()

	s.hub.CloseAll()
	return s.server.Close()
}

// Shutdown closes every persistent connection, then stops the HTTP server
// gracefully. Hijacked connections are not tracked by http.Server, so they
// are closed here first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.init()

	s.hub.CloseAll()
	return s.server.Shutdown(ctx)
}
