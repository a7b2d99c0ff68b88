package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"notary-agent/internal/domain"
)

// defaultReplaySize bounds the backlog a newly connected client receives.
const defaultReplaySize = 100

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the WebSocket gateway. It forwards bus events and conversation
// frames to connected clients, keeps a bounded backlog so a reconnecting
// observer regains context, and routes client replies back to whoever is
// waiting on them.
type Server struct {
	bus    domain.EventBus
	token  string
	logger *slog.Logger
	addr   string

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()

	replayMu sync.Mutex
	replay   []Frame
	replayN  int

	// attachCh is signaled when a client connects, waking anyone holding a
	// frame for an absent front-end.
	attachCh chan struct{}

	// onReply receives input and decision frames from any client.
	replyMu sync.RWMutex
	onReply func(Frame)
}

// NewServer creates a gateway server. replaySize <= 0 uses the default
// backlog bound.
func NewServer(bus domain.EventBus, addr, token string, replaySize int, logger *slog.Logger) *Server {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	return &Server{
		bus:      bus,
		token:    token,
		logger:   logger,
		addr:     addr,
		replayN:  replaySize,
		attachCh: make(chan struct{}, 1),
	}
}

// Start begins accepting WebSocket connections. Blocks until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{Handler: mux}

	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			s.Broadcast(Frame{Type: FrameTypeEvent, Payload: payload}, true)
		})
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// Attached reports whether at least one client is connected.
func (s *Server) Attached() bool {
	attached := false
	s.clients.Range(func(_, _ any) bool {
		attached = true
		return false
	})
	return attached
}

// AttachSignal returns a channel that receives a value when a client
// connects. Waiters block on it instead of polling for attachment.
func (s *Server) AttachSignal() <-chan struct{} { return s.attachCh }

// SetReplyHandler registers the recipient of input and decision frames.
func (s *Server) SetReplyHandler(fn func(Frame)) {
	s.replyMu.Lock()
	s.onReply = fn
	s.replyMu.Unlock()
}

// Broadcast sends a frame to every connected client. remember adds it to the
// replay backlog delivered to future clients, oldest first.
func (s *Server) Broadcast(frame Frame, remember bool) {
	if remember {
		s.replayMu.Lock()
		s.replay = append(s.replay, frame)
		if len(s.replay) > s.replayN {
			s.replay = s.replay[len(s.replay)-s.replayN:]
		}
		s.replayMu.Unlock()
	}

	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped frame for slow client", "type", frame.Type)
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID)

	go s.writeLoop(cc)

	// Backlog first, so the client has context before live traffic.
	s.replayMu.Lock()
	backlog := make([]Frame, len(s.replay))
	copy(backlog, s.replay)
	s.replayMu.Unlock()
	for _, frame := range backlog {
		frame.Replayed = true
		select {
		case cc.sendCh <- frame:
		case <-cc.done:
		}
	}

	// Wake anyone waiting for a front-end to attach.
	select {
	case s.attachCh <- struct{}{}:
	default:
	}

	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}

		if frame.Type != FrameTypeInput && frame.Type != FrameTypeDecision {
			continue
		}

		s.replyMu.RLock()
		handler := s.onReply
		s.replyMu.RUnlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
