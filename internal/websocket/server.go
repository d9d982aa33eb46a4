package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"depthbook/internal/aggregation"
	"depthbook/internal/exchange"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/types"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var errMissingKey = errors.New("exchange and symbol are required")

// BookSource is the subscription registry as seen by the server
type BookSource interface {
	Subscribe(key feed.Key, sub feed.Subscriber) (func(), error)
	Latest(key feed.Key) (types.BookSnapshot, bool)
	IsConnected(key feed.Key) bool
	State(key feed.Key) feed.State
	Health(key feed.Key) (exchange.HealthStatus, bool)
	Reconnect(key feed.Key) error
	Keys() []feed.Key
}

// Options configures the server
type Options struct {
	Addr        string
	DefaultTick types.TickLevel
	Logger      *logrus.Entry
}

type Server struct {
	source      BookSource
	detector    *pressure.Detector
	addr        string
	defaultTick types.TickLevel
	router      *mux.Router
	upgrader    websocket.Upgrader
	logger      *logrus.Entry

	clientsMux sync.Mutex
	clients    map[*client]struct{}
}

func NewServer(source BookSource, detector *pressure.Detector, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if !types.IsValidTickLevel(opts.DefaultTick) {
		opts.DefaultTick = types.Tick1
	}
	if detector == nil {
		detector = pressure.NewDetector(pressure.DefaultConfig())
	}

	s := &Server{
		source:      source,
		detector:    detector,
		addr:        opts.Addr,
		defaultTick: opts.DefaultTick,
		logger:      opts.Logger.WithField("component", "server"),
		clients:     make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/books/{exchange}/{symbol}", s.handleBook).Methods(http.MethodGet)
	api.HandleFunc("/pressure/{exchange}/{symbol}", s.handlePressure).Methods(http.MethodGet)
	api.HandleFunc("/status/{exchange}/{symbol}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/reconnect/{exchange}/{symbol}", s.handleReconnect).Methods(http.MethodPost)
	return r
}

// Handler exposes the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("HTTP server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeClients()
	s.logger.Info("HTTP server stopped")
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	c := newClient(s, conn)
	s.clientsMux.Lock()
	s.clients[c] = struct{}{}
	s.clientsMux.Unlock()

	s.logger.WithField("remote", r.RemoteAddr).Info("New WebSocket client connected")

	go c.writePump()
	c.readPump()

	s.clientsMux.Lock()
	delete(s.clients, c)
	s.clientsMux.Unlock()
	s.logger.WithField("remote", r.RemoteAddr).Info("WebSocket client disconnected")
}

func (s *Server) closeClients() {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	return len(s.clients)
}

func keyFromRequest(r *http.Request) feed.Key {
	vars := mux.Vars(r)
	return feed.NewKey(exchange.ExchangeName(vars["exchange"]), vars["symbol"])
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	snap, ok := s.source.Latest(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for "+key.String())
		return
	}

	tick := s.defaultTick
	if raw := r.URL.Query().Get("tick"); raw != "" {
		parsed, ok := parseTick(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid tick "+raw)
			return
		}
		tick = parsed
	}

	snap = aggregation.New(tick).Apply(snap)
	writeJSON(w, http.StatusOK, struct {
		OrderbookMessage
		Stats StatsMessage `json:"stats"`
	}{
		OrderbookMessage: buildOrderbookMessage(snap, tick),
		Stats:            buildStatsMessage(snap),
	})
}

func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	snap, ok := s.source.Latest(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, s.detector.Report(snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	writeJSON(w, http.StatusOK, buildStatusMessage(key, s.source, nil))
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if err := s.source.Reconnect(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.WithField("key", key).Info("Reconnect requested over HTTP")
	writeJSON(w, http.StatusAccepted, buildStatusMessage(key, s.source, nil))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	keys := s.source.Keys()
	pipelines := make([]StatusMessage, 0, len(keys))
	for _, key := range keys {
		pipelines = append(pipelines, buildStatusMessage(key, s.source, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"clients":   s.ClientCount(),
		"pipelines": pipelines,
	})
}

func parseTick(raw string) (types.TickLevel, bool) {
	var tick float64
	if err := json.Unmarshal([]byte(raw), &tick); err != nil {
		return 0, false
	}
	level := types.TickLevel(tick)
	return level, types.IsValidTickLevel(level)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
