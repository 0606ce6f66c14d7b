package mailbox

import (
	"context"
	"fmt"
	"net"

	"kestrel/internal/events"
	"kestrel/internal/models"
)

// ServerDeps defines the dependencies the LIST handler needs from the
// server.
type ServerDeps interface {
	SendResponse(conn net.Conn, response string)
	Session(ctx context.Context, id string) (models.SessionState, bool)
	Bus() *events.Bus
}

// HandleList delegates the enumeration to the LIST observers and renders
// their entries in the order supplied.
func HandleList(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string, args []string) {
	sess, _ := deps.Session(ctx, id)

	result := make(chan []events.MailboxEntry, 1)
	ack := events.NewListAck(func(entries []events.MailboxEntry) {
		result <- entries
	})

	deps.Bus().Emit(events.Event{
		Kind:   events.KindList,
		ConnID: id,
		Secure: sess.Secure,
		Tag:    tag,
		Verb:   "LIST",
		Args:   args,
		List:   ack,
	})

	select {
	case entries := <-result:
		for _, entry := range entries {
			attr := `\NoChildren`
			if entry.HasChildren {
				attr = `\HasChildren`
			}
			deps.SendResponse(conn, fmt.Sprintf(`* LIST (%s) "." "%s"`, attr, entry.Name))
		}
		deps.SendResponse(conn, fmt.Sprintf("%s OK LIST completed", tag))
	case <-ctx.Done():
	}
}
