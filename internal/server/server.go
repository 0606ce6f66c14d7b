package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"kestrel/internal/events"
	"kestrel/internal/logger"
	"kestrel/internal/metrics"
	"kestrel/internal/models"
	"kestrel/internal/session"
)

// Options configures an IMAPServer. Zero values get sensible defaults: an
// in-memory session store, a fresh event bus, 16-character identifiers.
type Options struct {
	Addr    string
	Welcome string

	// TLSConfig supplies the certificate material for STARTTLS upgrades
	// and, when ListenerTLS is set, for the listener itself. Nil disables
	// both.
	TLSConfig   *tls.Config
	ListenerTLS bool

	// IdleTimeout fires a timeout notification when no bytes arrive within
	// the window. Zero disables the timer. The engine does not close idle
	// connections itself; that call belongs to the embedder.
	IdleTimeout time.Duration

	MaxConnections int // 0 is unlimited
	IDLength       int

	Store session.Store
	Bus   *events.Bus
}

// IMAPServer is the IMAP4rev1 control-channel engine. It owns the accept
// loop, the per-connection command loops and the protocol state machine;
// mailbox semantics arrive through the event bus.
type IMAPServer struct {
	opts     Options
	store    session.Store
	bus      *events.Bus
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	stopped  bool

	wg sync.WaitGroup
}

func New(opts Options) *IMAPServer {
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.IDLength <= 0 {
		opts.IDLength = 16
	}
	if opts.Welcome == "" {
		opts.Welcome = "IMAP4rev1 server ready"
	}

	return &IMAPServer{
		opts:     opts,
		store:    opts.Store,
		bus:      opts.Bus,
		registry: NewRegistry(opts.MaxConnections, opts.IDLength),
	}
}

// Bus returns the event bus observers subscribe on.
func (s *IMAPServer) Bus() *events.Bus { return s.bus }

// Store returns the session store in use.
func (s *IMAPServer) Store() session.Store { return s.store }

// TLSConfig returns the STARTTLS material, nil when not configured.
func (s *IMAPServer) TLSConfig() *tls.Config { return s.opts.TLSConfig }

// Registry returns the live-connection registry.
func (s *IMAPServer) Registry() *Registry { return s.registry }

// Addr returns the bound listener address, empty before ListenAndServe.
func (s *IMAPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ListenAndServe binds the configured address and serves until Stop is
// called or ctx is cancelled. It returns nil on a clean shutdown.
func (s *IMAPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	if s.opts.ListenerTLS {
		if s.opts.TLSConfig == nil {
			ln.Close()
			return errors.New("listener TLS requested without TLS material")
		}
		ln = tls.NewListener(ln, s.opts.TLSConfig)
	}

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		ln.Close()
		return errors.New("server already stopped")
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	logger.Info("imap server listening", "addr", ln.Addr().String(), "tls", s.opts.ListenerTLS)
	s.bus.Emit(events.Event{Kind: events.KindListening, RemoteAddr: ln.Addr().String()})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.accept(ctx, conn)
		}()
	}
}

// Stop closes the listener and every live connection, destroys their
// session entries and returns once the accept loop and all connection
// goroutines have finished.
func (s *IMAPServer) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	ln := s.listener
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}

	for id, conn := range s.registry.Snapshot() {
		s.closeConnection(context.Background(), id, conn, "server shutdown")
	}

	s.wg.Wait()
	logger.Info("imap server stopped")
}

// accept runs admission control and, if admitted, the connection loop.
func (s *IMAPServer) accept(ctx context.Context, conn net.Conn) {
	remote := remoteAddr(conn)

	id, err := s.registry.Add(conn)
	if err != nil {
		// Ceiling reached: one rejection line, forced close, no session.
		metrics.ConnectionsRejectedTotal.Inc()
		logger.Info("connection rejected", "remote", remote, "reason", err)
		s.SendResponse(conn, "* NO Too many connections")
		conn.Close()
		return
	}

	secure := isTLS(conn)
	sess := models.SessionState{State: models.StateNotAuthenticated, Secure: secure}
	if err := s.store.Set(ctx, id, sess); err != nil {
		logger.Error("session create failed", "id", id, "error", err)
		s.registry.Remove(id)
		conn.Close()
		return
	}

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()
	defer metrics.ConnectionsCurrent.Dec()

	logger.Info("connection accepted", "id", id, "remote", remote, "secure", secure)
	s.bus.Emit(events.Event{
		Kind:       events.KindConnect,
		ConnID:     id,
		RemoteAddr: remote,
		Secure:     secure,
	})

	s.SendResponse(conn, "* OK "+s.opts.Welcome)
	s.handleClient(ctx, conn, id)
}

// closeConnection tears down one connection: registry entry, session
// entry, transport. Idempotent; only the first caller emits the
// connection:close notification.
func (s *IMAPServer) closeConnection(ctx context.Context, id string, conn net.Conn, reason string) {
	if !s.registry.Remove(id) {
		return
	}

	if err := s.store.Destroy(ctx, id); err != nil {
		logger.Error("session destroy failed", "id", id, "error", err)
	}
	conn.Close()

	logger.Debug("connection closed", "id", id, "reason", reason)
	s.bus.Emit(events.Event{
		Kind:       events.KindDisconnect,
		ConnID:     id,
		RemoteAddr: remoteAddr(conn),
	})
}

// CloseConnection tears down the connection with the given identifier.
// Exported for the handler packages (LOGOUT, failed TLS upgrades).
func (s *IMAPServer) CloseConnection(ctx context.Context, id string, conn net.Conn) {
	s.closeConnection(ctx, id, conn, "handler close")
}

// Session fetches the session state for id. Store errors are logged and
// reported as absence; gating then rejects the command rather than
// guessing at state.
func (s *IMAPServer) Session(ctx context.Context, id string) (models.SessionState, bool) {
	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		logger.Error("session lookup failed", "id", id, "error", err)
		return models.SessionState{}, false
	}
	return sess, ok
}

// SaveSession writes the session state for id back to the store.
func (s *IMAPServer) SaveSession(ctx context.Context, id string, sess models.SessionState) error {
	return s.store.Set(ctx, id, sess)
}

// Rebind swaps the registered transport for id after a TLS upgrade.
func (s *IMAPServer) Rebind(id string, conn net.Conn) {
	s.registry.Rebind(id, conn)
}

// SendResponse writes one CRLF-terminated line to the client. A failed
// write force-closes the transport; the command loop then tears down the
// registry and session entries on its next read.
func (s *IMAPServer) SendResponse(conn net.Conn, response string) {
	logger.Debug("server response", "line", response)
	if _, err := conn.Write([]byte(response + "\r\n")); err != nil {
		id, _ := s.registry.IDFor(conn)
		logger.Warn("write failed", "id", id, "remote", remoteAddr(conn), "error", err)
		s.bus.Emit(events.Event{
			Kind:       events.KindError,
			ConnID:     id,
			RemoteAddr: remoteAddr(conn),
			Err:        err,
		})
		conn.Close()
	}
}

// isTLS reports whether the transport is already a TLS session. Test
// doubles can signal TLS through the tlsAware interface.
func isTLS(conn net.Conn) bool {
	if _, ok := conn.(*tls.Conn); ok {
		return true
	}
	type tlsAware interface{ IsTLS() bool }
	if ta, ok := any(conn).(tlsAware); ok && ta.IsTLS() {
		return true
	}
	return false
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
