package middleware

import (
	"context"
	"fmt"
	"net"

	"kestrel/internal/models"
)

// ServerDeps defines what the gating wrappers need from the server.
type ServerDeps interface {
	SendResponse(conn net.Conn, response string)
	Session(ctx context.Context, id string) (models.SessionState, bool)
}

// HandlerFunc is the standard handler signature used by the dispatcher.
type HandlerFunc func(ctx context.Context, conn net.Conn, id, tag string, args []string)

// RequireAuthenticated rejects commands from the authenticated-or-better
// class while the session is still unauthenticated. The session state is
// left untouched.
func RequireAuthenticated(deps ServerDeps, handler HandlerFunc) HandlerFunc {
	return func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
		sess, ok := deps.Session(ctx, id)
		if !ok || !sess.Authenticated() {
			deps.SendResponse(conn, fmt.Sprintf("%s BAD Command not valid in current state", tag))
			return
		}
		handler(ctx, conn, id, tag, args)
	}
}

// MinArgs rejects commands carrying fewer than min arguments.
func MinArgs(deps ServerDeps, min int, handler HandlerFunc) HandlerFunc {
	return func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
		if len(args) < min {
			deps.SendResponse(conn, fmt.Sprintf("%s BAD Missing required arguments", tag))
			return
		}
		handler(ctx, conn, id, tag, args)
	}
}
