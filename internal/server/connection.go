package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"kestrel/internal/events"
	"kestrel/internal/logger"
	"kestrel/internal/metrics"
	"kestrel/internal/server/auth"
	"kestrel/internal/server/extension"
	"kestrel/internal/server/mailbox"
	"kestrel/internal/server/middleware"
	"kestrel/internal/server/selection"
)

// handleClient runs the command loop for one connection. A single
// goroutine owns the loop, and LOGIN/SELECT/LIST block it until their
// acknowledgement resolves, so two commands from the same connection are
// never evaluated against the session state concurrently.
func (s *IMAPServer) handleClient(ctx context.Context, conn net.Conn, id string) {
	reader := bufio.NewReader(conn)

	// pending holds the prefix of a command whose line was cut by an idle
	// deadline; it is prepended when the rest arrives.
	var pending string

	for {
		if ctx.Err() != nil {
			s.closeConnection(context.Background(), id, conn, "server shutdown")
			return
		}

		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if line != "" {
					// Bytes arrived inside the window, so the connection was
					// not idle. Keep the partial command for the next read.
					pending += line
					continue
				}
				// The engine only signals idleness; closing the connection
				// is the embedder's call.
				s.bus.Emit(events.Event{
					Kind:       events.KindTimeout,
					ConnID:     id,
					RemoteAddr: remoteAddr(conn),
				})
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read failed", "id", id, "error", err)
				s.bus.Emit(events.Event{
					Kind:       events.KindError,
					ConnID:     id,
					RemoteAddr: remoteAddr(conn),
					Err:        err,
				})
			}
			s.closeConnection(ctx, id, conn, "read ended")
			return
		}

		line = strings.TrimSpace(pending + line)
		pending = ""
		if line == "" {
			continue
		}

		logger.Debug("client line", "id", id, "line", line)
		s.bus.Emit(events.Event{
			Kind:       events.KindData,
			ConnID:     id,
			RemoteAddr: remoteAddr(conn),
			Line:       []byte(line),
		})

		tag, verb, args, ok := ParseLine(line)
		if !ok {
			s.SendResponse(conn, "* BAD Malformed command")
			continue
		}

		metrics.CommandsTotal.WithLabelValues(verb).Inc()
		upgraded := s.dispatch(ctx, conn, id, tag, verb, args)
		if upgraded != nil {
			// STARTTLS succeeded: re-enter with a fresh reader on the TLS
			// transport. Identifier and session carry over.
			s.handleClient(ctx, upgraded, id)
			return
		}

		// LOGOUT and failed upgrades remove the registry entry; the loop
		// ends when this connection is no longer live.
		if _, live := s.registry.Get(id); !live {
			return
		}
	}
}

// dispatch routes one tokenized command. It returns the upgraded transport
// after a successful STARTTLS, nil otherwise.
func (s *IMAPServer) dispatch(ctx context.Context, conn net.Conn, id, tag, verb string, args []string) net.Conn {
	switch verb {
	case "CAPABILITY":
		auth.HandleCapability(ctx, s, conn, id, tag)

	case "LOGIN":
		middleware.MinArgs(s, 2, func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
			auth.HandleLogin(ctx, s, conn, id, tag, args)
		})(ctx, conn, id, tag, args)

	case "LOGOUT":
		middleware.RequireAuthenticated(s, func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
			auth.HandleLogout(ctx, s, conn, id, tag)
		})(ctx, conn, id, tag, args)

	case "STARTTLS":
		return auth.HandleStartTLS(ctx, s, conn, id, tag)

	case "SELECT":
		middleware.RequireAuthenticated(s, middleware.MinArgs(s, 1,
			func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
				selection.HandleSelect(ctx, s, conn, id, tag, args)
			}))(ctx, conn, id, tag, args)

	case "LIST":
		middleware.RequireAuthenticated(s, middleware.MinArgs(s, 2,
			func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
				mailbox.HandleList(ctx, s, conn, id, tag, args)
			}))(ctx, conn, id, tag, args)

	case "NOOP":
		extension.HandleNoop(ctx, s, conn, id, tag)

	default:
		if _, known := events.ExtensionKind(verb); known {
			verb := verb
			middleware.RequireAuthenticated(s, middleware.MinArgs(s, 1,
				func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
					extension.HandleForward(ctx, s, conn, id, tag, verb, args)
				}))(ctx, conn, id, tag, args)
			return nil
		}
		s.SendResponse(conn, tag+" BAD Command not recognized or not implemented")
	}
	return nil
}
