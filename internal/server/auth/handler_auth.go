package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"kestrel/internal/events"
	"kestrel/internal/logger"
	"kestrel/internal/metrics"
	"kestrel/internal/models"
)

// ServerDeps defines the dependencies the auth handlers need from the
// server.
type ServerDeps interface {
	SendResponse(conn net.Conn, response string)
	Session(ctx context.Context, id string) (models.SessionState, bool)
	SaveSession(ctx context.Context, id string, sess models.SessionState) error
	Bus() *events.Bus
	TLSConfig() *tls.Config
	Rebind(id string, conn net.Conn)
	CloseConnection(ctx context.Context, id string, conn net.Conn)
}

// tlsHandshakeTimeout bounds the STARTTLS negotiation after the ready line
// has been sent.
const tlsHandshakeTimeout = 30 * time.Second

// ===== CAPABILITY =====

// HandleCapability is legal in every state. STARTTLS is advertised until
// the channel is secure, whether or not TLS material is configured.
func HandleCapability(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string) {
	sess, _ := deps.Session(ctx, id)

	deps.Bus().Emit(events.Event{
		Kind:   events.KindCapability,
		ConnID: id,
		Secure: sess.Secure,
		Tag:    tag,
		Verb:   "CAPABILITY",
	})

	caps := "IMAP4rev1 IMAP4 AUTH=PLAIN AUTH=LOGIN"
	if !sess.Secure {
		caps += " STARTTLS"
	}

	deps.SendResponse(conn, "* CAPABILITY "+caps)
	deps.SendResponse(conn, fmt.Sprintf("%s OK CAPABILITY completed", tag))
}

// ===== LOGIN =====

// HandleLogin delegates the credential decision to the LOGIN observers.
// With none registered it answers failure immediately instead of waiting
// on an acknowledgement nobody will resolve.
func HandleLogin(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string, args []string) {
	sess, ok := deps.Session(ctx, id)
	if !ok {
		deps.SendResponse(conn, fmt.Sprintf("%s NO LOGIN failed", tag))
		return
	}
	if sess.State != models.StateNotAuthenticated {
		deps.SendResponse(conn, fmt.Sprintf("%s BAD Command not valid in current state", tag))
		return
	}

	user, pass := args[0], args[1]

	if !deps.Bus().HasHandlers(events.KindLogin) {
		metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
		deps.SendResponse(conn, fmt.Sprintf("%s NO LOGIN failed", tag))
		return
	}

	result := make(chan bool, 1)
	ack := events.NewLoginAck(func(ok bool) { result <- ok })

	deps.Bus().Emit(events.Event{
		Kind:       events.KindLogin,
		ConnID:     id,
		RemoteAddr: remoteAddr(conn),
		Secure:     sess.Secure,
		Tag:        tag,
		Verb:       "LOGIN",
		Args:       []string{user, pass},
		Login:      ack,
	})

	select {
	case accepted := <-result:
		if !accepted {
			metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
			deps.SendResponse(conn, fmt.Sprintf("%s NO LOGIN failed", tag))
			return
		}

		sess.State = models.StateAuthenticated
		sess.User = user
		if err := deps.SaveSession(ctx, id, sess); err != nil {
			logger.Error("session save after login failed", "id", id, "error", err)
			metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
			deps.SendResponse(conn, fmt.Sprintf("%s NO LOGIN failed", tag))
			return
		}

		metrics.AuthenticationAttempts.WithLabelValues("success").Inc()
		logger.Info("login accepted", "id", id, "user", user)
		deps.SendResponse(conn, fmt.Sprintf("%s OK LOGIN completed", tag))

	case <-ctx.Done():
	}
}

// ===== LOGOUT =====

func HandleLogout(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string) {
	sess, _ := deps.Session(ctx, id)

	deps.Bus().Emit(events.Event{
		Kind:       events.KindLogout,
		ConnID:     id,
		RemoteAddr: remoteAddr(conn),
		Secure:     sess.Secure,
		Tag:        tag,
		Verb:       "LOGOUT",
	})

	deps.SendResponse(conn, "* BYE IMAP server logging out")
	deps.SendResponse(conn, fmt.Sprintf("%s OK LOGOUT completed", tag))

	sess.State = models.StateLogout
	sess.User = ""
	sess.SelectedMailbox = ""
	if err := deps.SaveSession(ctx, id, sess); err != nil {
		logger.Error("session save after logout failed", "id", id, "error", err)
	}

	deps.CloseConnection(ctx, id, conn)
}

// ===== STARTTLS =====

// HandleStartTLS upgrades the plaintext transport in place. On success it
// returns the TLS transport for the connection loop to re-enter with;
// identifier, user and state are preserved and only the secure flag flips.
func HandleStartTLS(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string) net.Conn {
	sess, _ := deps.Session(ctx, id)

	if sess.Secure {
		deps.SendResponse(conn, fmt.Sprintf("%s BAD Connection already secure", tag))
		return nil
	}

	tlsConfig := deps.TLSConfig()
	if tlsConfig == nil {
		deps.SendResponse(conn, fmt.Sprintf("%s NO STARTTLS not available", tag))
		return nil
	}

	// The client starts TLS records immediately after this line, so it
	// must go out before the handshake begins.
	deps.SendResponse(conn, fmt.Sprintf("%s OK Begin TLS negotiation now", tag))

	tlsConn := tls.Server(conn, tlsConfig)
	tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		metrics.TLSUpgradesTotal.WithLabelValues("failure").Inc()
		logger.Warn("tls upgrade failed", "id", id, "error", err)
		deps.Bus().Emit(events.Event{
			Kind:       events.KindError,
			ConnID:     id,
			RemoteAddr: remoteAddr(conn),
			Err:        fmt.Errorf("tls upgrade: %w", err),
		})
		// Identifier and session go away together.
		deps.CloseConnection(ctx, id, tlsConn)
		return nil
	}
	tlsConn.SetDeadline(time.Time{})

	deps.Rebind(id, tlsConn)
	sess.Secure = true
	if err := deps.SaveSession(ctx, id, sess); err != nil {
		logger.Error("session save after tls upgrade failed", "id", id, "error", err)
	}

	metrics.TLSUpgradesTotal.WithLabelValues("success").Inc()
	logger.Info("connection upgraded to tls", "id", id)
	return tlsConn
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
