package extension

import (
	"context"
	"fmt"
	"net"

	"kestrel/internal/events"
	"kestrel/internal/models"
)

// ServerDeps defines the dependencies the extension handlers need from the
// server.
type ServerDeps interface {
	SendResponse(conn net.Conn, response string)
	Session(ctx context.Context, id string) (models.SessionState, bool)
	Bus() *events.Bus
}

// ===== NOOP =====

func HandleNoop(_ context.Context, deps ServerDeps, conn net.Conn, _ string, tag string) {
	deps.SendResponse(conn, fmt.Sprintf("%s OK NOOP completed", tag))
}

// ===== Extension verbs =====

// HandleForward notifies the observers for one of the extension verbs
// (CREATE through MOVE). The engine sends no completion for this class;
// the observer answers the client through the event's Respond callback.
func HandleForward(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag, verb string, args []string) {
	kind, ok := events.ExtensionKind(verb)
	if !ok {
		return
	}

	sess, _ := deps.Session(ctx, id)

	deps.Bus().Emit(events.Event{
		Kind:       kind,
		ConnID:     id,
		RemoteAddr: remoteAddr(conn),
		Secure:     sess.Secure,
		Tag:        tag,
		Verb:       verb,
		Args:       args,
		Respond: func(line string) {
			deps.SendResponse(conn, line)
		},
	})
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
