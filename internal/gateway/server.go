package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/voxd/internal/backend"
	"github.com/nextlevelbuilder/voxd/internal/bus"
	"github.com/nextlevelbuilder/voxd/internal/queue"
	"github.com/nextlevelbuilder/voxd/internal/speech"
	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

// BackendFamily is the registry surface the gateway exposes over the
// wire. Both capability families satisfy it.
type BackendFamily interface {
	Family() string
	IDs() []string
	SelectedID() string
	Health(ctx context.Context) []backend.Health
	Select(ctx context.Context, id string) error
	Reinitialize(ctx context.Context, id string) error
}

// Config configures the gateway server.
type Config struct {
	Addr            string
	Token           string // optional shared secret checked at connect
	RateLimitPerMin int
}

// Server accepts WebSocket connections and fans bus events out to all
// connected clients.
type Server struct {
	cfg      Config
	queue    *queue.Queue
	bus      *bus.Bus
	families []BackendFamily
	router   *MethodRouter
	limiter  *RateLimiter

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	speech   *speech.Pipeline

	mu      sync.Mutex
	clients map[string]*Client
}

// NewServer creates a gateway over the given queue, bus, and backend
// registries.
func NewServer(cfg Config, q *queue.Queue, b *bus.Bus, families ...BackendFamily) *Server {
	s := &Server{
		cfg:      cfg,
		queue:    q,
		bus:      b,
		families: families,
		limiter:  NewRateLimiter(cfg.RateLimitPerMin, 5),
		clients:  make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// local daemon: all origins are the same machine
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.router = NewMethodRouter(s)
	b.Subscribe("gateway", s.broadcast)
	return s
}

// Router returns the method router for registering extra handlers.
func (s *Server) Router() *MethodRouter { return s.router }

// SetSpeechPipeline enables the speech.converse method. Without a pipeline
// the method answers with ErrUnavailable.
func (s *Server) SetSpeechPipeline(p *speech.Pipeline) { s.speech = p }

// Start begins serving and subscribes to the bus. Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})

	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: mux}
	slog.Info("gateway listening", "addr", s.cfg.Addr)

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown notifies clients and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bus.Unsubscribe("gateway")

	s.mu.Lock()
	for _, c := range s.clients {
		c.SendEvent(protocol.NewEvent(protocol.EventShutdown, 0, nil))
	}
	s.mu.Unlock()

	// give the write pumps a moment to drain
	time.Sleep(100 * time.Millisecond)

	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s)
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()
	slog.Debug("client connected", "client", client.id)

	client.run(ctx)

	s.mu.Lock()
	delete(s.clients, client.id)
	s.mu.Unlock()
	client.close()
	slog.Debug("client disconnected", "client", client.id)
}

// broadcast forwards one bus event to every connected client.
func (s *Server) broadcast(ev bus.Event) {
	frame := protocol.NewEvent(ev.Type, ev.Seq, map[string]interface{}{
		"request_id": ev.RequestID,
		"timestamp":  ev.Timestamp,
		"data":       ev.Payload,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.SendEvent(frame)
	}
}

func (s *Server) family(name string) BackendFamily {
	for _, f := range s.families {
		if f.Family() == name {
			return f
		}
	}
	return nil
}
