package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wise/internal/bridge"
	"github.com/muurk/wise/internal/firewall"
	"github.com/muurk/wise/internal/httpmsg"
	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/protocol"
)

const (
	// DefaultPort is the HTTP listen port
	DefaultPort = 80

	// DefaultMaxBodySize bounds a /stty request body
	DefaultMaxBodySize = 1000

	// DefaultShutdownTimeout bounds Shutdown when the caller's context has no deadline
	DefaultShutdownTimeout = 10 * time.Second

	// responseWriteTimeout bounds writing a plain HTTP response
	responseWriteTimeout = 10 * time.Second
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int // 0 picks a free port

	// Realm is sent in the Basic auth challenge, normally the hostname
	Realm string

	// BasicAuth enables HTTP Basic authentication when non-nil
	BasicAuth *httpmsg.BasicAuth

	Filter firewall.Filter

	// TLS switches the listener to TLS when non-nil
	TLS *tls.Config

	WebSocket   protocol.Options
	MaxBodySize int
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server accepts HTTP connections and hands upgraded ones to the bridge.
type Server struct {
	config   Config
	bridge   *bridge.Bridge
	index    []byte
	listener net.Listener

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[net.Conn]struct{}
	closing     atomic.Bool
}

// New creates a new Server instance
func New(config Config, b *bridge.Bridge) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:      config,
		bridge:      b,
		index:       indexPage,
		activeConns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	addr := s.config.Addr()

	var (
		listener net.Listener
		err      error
	)
	if s.config.TLS != nil {
		listener, err = tls.Listen("tcp", addr, s.config.TLS)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	logging.Info("Server listening for connections",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", s.config.TLS != nil),
		zap.Bool("basic_auth", s.config.BasicAuth.Enabled()),
		zap.Bool("private_nets_only", s.config.Filter.PrivateOnly),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx ends, then shuts down. Listen is
// called first if it has not been.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.acceptConnections()
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// acceptConnections accepts and handles incoming connections
func (s *Server) acceptConnections() error {
	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				logging.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		tempDelay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.activeConns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.activeConns, conn)
	s.mu.Unlock()
}

// handleConnection runs one connection from admission to close. An
// upgraded connection stays open for as long as its terminal session.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	if !s.config.Filter.AllowsAddr(conn.RemoteAddr()) {
		logging.LogConnection(remoteAddr, "connection_refused")
		_ = conn.Close()
		return
	}

	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Connection handler panicked",
				zap.String("remote_addr", remoteAddr),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		_ = conn.Close()
		s.untrack(conn)
		logging.LogConnection(remoteAddr, "connection_closed")
	}()

	logging.LogConnection(remoteAddr, "connection_accepted")

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			logging.Debug("TLS handshake failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
	}

	br := bufio.NewReader(conn)
	req, err := httpmsg.ReadRequest(br)
	if err != nil {
		logging.Debug("Failed to read HTTP request",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return
	}
	logging.LogHTTPRequest(remoteAddr, req.Method, req.Path, req.Headers)

	if !s.config.BasicAuth.Check(req) {
		s.respond(conn, remoteAddr, s.config.BasicAuth.Challenge())
		return
	}

	if req.Path == "/ws" && req.Method == httpmsg.MethodGet {
		s.upgrade(conn, br, req, remoteAddr)
		return
	}

	s.respond(conn, remoteAddr, s.route(br, req))
}

// upgrade completes the WebSocket handshake and runs the terminal session.
func (s *Server) upgrade(conn net.Conn, br *bufio.Reader, req *httpmsg.Request, remoteAddr string) {
	resp, err := protocol.Handshake(req, protocol.Subprotocol)
	if err != nil {
		logging.Debug("WebSocket handshake refused",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		s.respond(conn, remoteAddr, httpmsg.Error(400))
		return
	}

	if err := s.bridge.Reserve(); err != nil {
		logging.Warn("Terminal session refused",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		s.respond(conn, remoteAddr, httpmsg.Error(503))
		return
	}

	if !s.respond(conn, remoteAddr, resp) {
		s.bridge.Release()
		return
	}

	s.bridge.Serve(protocol.NewServerConn(conn, br, s.config.WebSocket))
}

// respond writes resp with a deadline and reports whether it was sent.
func (s *Server) respond(conn net.Conn, remoteAddr string, resp *httpmsg.Response) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})

	if _, err := resp.WriteTo(conn); err != nil {
		logging.Debug("Failed to write HTTP response",
			zap.String("remote_addr", remoteAddr),
			zap.Int("status", resp.Status),
			zap.Error(err),
		)
		return false
	}
	logging.LogHTTPResponse(remoteAddr, resp.Status, len(resp.Body))
	return true
}

// Shutdown stops accepting, closes every connection and closes the bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	s.bridge.Close()

	s.mu.Lock()
	for conn := range s.activeConns {
		logging.Debug("Closing active connection", zap.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
		return nil
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// ActiveConnections returns the number of open connections
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
