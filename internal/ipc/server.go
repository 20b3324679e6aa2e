package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"sentryd/internal/logging"
)

// Handler processes requests the server does not answer itself.
type Handler interface {
	HandleMessage(ctx context.Context, client *Conn, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, client *Conn, msg *Message) (*Message, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, client *Conn, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// DisconnectHandler is implemented by handlers that hold per-connection
// state, such as watch subscriptions, that must be released when the
// connection goes away.
type DisconnectHandler interface {
	HandleDisconnect(client *Conn)
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	SocketMode     uint32
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *logging.Logger
}

// Server accepts client connections on a Unix socket and dispatches
// their requests to a Handler. Observer events are broadcast to clients
// that watched the matching kind.
type Server struct {
	mu       sync.RWMutex
	listener net.Listener
	cfg      ServerConfig
	handler  Handler
	log      *logging.Logger
	clients  map[uint64]*Conn

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextConnID atomic.Uint64
	nextMsgID  atomic.Uint32
}

// Conn is one connected client.
type Conn struct {
	id   uint64
	conn net.Conn

	// writeMu serializes frames: responses and broadcast events share
	// the connection.
	writeMu sync.Mutex

	mu      sync.Mutex
	watched map[string]bool
}

// Watch marks the connection as subscribed to a kind.
func (c *Conn) Watch(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched[kind] = true
}

// Unwatch drops the connection's subscription for a kind.
func (c *Conn) Unwatch(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watched, kind)
}

// Watching reports whether the connection subscribed to a kind.
func (c *Conn) Watching(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watched[kind]
}

// WatchedKinds returns the kinds this connection subscribed to.
func (c *Conn) WatchedKinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.watched))
	for k := range c.watched {
		out = append(out, k)
	}
	return out
}

// NewServer creates an IPC server.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.SocketMode == 0 {
		cfg.SocketMode = 0600
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("ipc")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log,
		clients: make(map[uint64]*Conn),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening on the socket.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := cleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("cleanup stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, os.FileMode(s.cfg.SocketMode)); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("ipc server listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("ipc shutdown timed out waiting for connections")
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the listening socket path.
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast delivers an observer event to every client watching its
// kind. Sends are synchronous so one kind's events keep their order; a
// stalled client is bounded by the write deadline.
func (s *Server) Broadcast(ev *Event) {
	payload, err := Encode(ev)
	if err != nil {
		return
	}
	msg := NewMessage(MsgEvent, s.nextMsgID.Add(1), payload)

	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.clients))
	for _, client := range s.clients {
		if client.Watching(ev.Kind) {
			targets = append(targets, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range targets {
		if err := s.send(client, msg); err != nil {
			s.log.Debug("event send failed", "kind", ev.Kind, "error", err)
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		if ok, err := peerIsSameUser(conn); err == nil && !ok {
			s.log.Warn("ipc connection from another user rejected")
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		client := &Conn{
			id:      s.nextConnID.Add(1),
			conn:    conn,
			watched: make(map[string]bool),
		}
		s.clients[client.id] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(client)
	}
}

func (s *Server) serveConn(client *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		client.conn.Close()
		if dh, ok := s.handler.(DisconnectHandler); ok {
			dh.HandleDisconnect(client)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(client.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle connections stay open; watch subscriptions are
				// long-lived.
				continue
			}
			s.log.Debug("ipc read failed", "error", err)
			return
		}

		response := s.processMessage(client, msg)
		if response != nil {
			if err := s.send(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *Conn, msg *Message) *Message {
	if msg.Header.Type == MsgPing {
		return NewMessage(MsgPong, msg.Header.RequestID, nil)
	}
	if s.handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInvalidRequest, "no handler")
	}
	response, err := s.handler.HandleMessage(s.ctx, client, msg)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrCodeInternal, err.Error())
	}
	return response
}

func (s *Server) send(client *Conn, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(client.conn)
}

// cleanupSocket removes a stale socket file, refusing to touch paths
// that exist but are not sockets.
func cleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path exists but is not a socket: %s", path)
	}
	return os.Remove(path)
}
