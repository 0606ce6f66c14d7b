package selection

import (
	"context"
	"fmt"
	"net"
	"strings"

	"kestrel/internal/events"
	"kestrel/internal/logger"
	"kestrel/internal/models"
)

// ServerDeps defines the dependencies the SELECT handler needs from the
// server.
type ServerDeps interface {
	SendResponse(conn net.Conn, response string)
	Session(ctx context.Context, id string) (models.SessionState, bool)
	SaveSession(ctx context.Context, id string, sess models.SessionState) error
	Bus() *events.Bus
}

type selectResult struct {
	found bool
	info  events.SelectInfo
}

// HandleSelect records the attempted mailbox and transitions to selected
// before asking the observers whether it exists; a nonexistent mailbox
// answers NO but the provisional transition stands. That mirrors the
// engine's documented contract, not RFC 3501.
func HandleSelect(ctx context.Context, deps ServerDeps, conn net.Conn, id, tag string, args []string) {
	name := args[0]

	sess, ok := deps.Session(ctx, id)
	if !ok {
		return
	}

	sess.State = models.StateSelected
	sess.SelectedMailbox = name
	if err := deps.SaveSession(ctx, id, sess); err != nil {
		logger.Error("session save on select failed", "id", id, "error", err)
	}

	result := make(chan selectResult, 1)
	ack := events.NewSelectAck(func(found bool, info events.SelectInfo) {
		result <- selectResult{found: found, info: info}
	})

	deps.Bus().Emit(events.Event{
		Kind:   events.KindSelect,
		ConnID: id,
		Secure: sess.Secure,
		Tag:    tag,
		Verb:   "SELECT",
		Args:   args,
		Select: ack,
	})

	// Without an observer the command stays unanswered; that gap is the
	// embedder's contract, not something to paper over here.
	select {
	case r := <-result:
		if !r.found {
			deps.SendResponse(conn, fmt.Sprintf("%s NO Mailbox doesn't exist (Failure)", tag))
			return
		}
		writeStatus(deps, conn, tag, r.info)
	case <-ctx.Done():
	}
}

func writeStatus(deps ServerDeps, conn net.Conn, tag string, info events.SelectInfo) {
	perm := info.PermanentFlags
	if len(perm) == 0 {
		perm = append(append([]string{}, info.Flags...), "*")
	}

	deps.SendResponse(conn, fmt.Sprintf("* %d EXISTS", info.Exists))
	deps.SendResponse(conn, fmt.Sprintf("* %d RECENT", info.Recent))
	deps.SendResponse(conn, fmt.Sprintf("* OK [UNSEEN %d] Message %d is first unseen", info.Unseen, info.Unseen))
	deps.SendResponse(conn, fmt.Sprintf("* OK [UIDVALIDITY %d] UIDs valid", info.UIDValidity))
	deps.SendResponse(conn, fmt.Sprintf("* OK [UIDNEXT %d] Predicted next UID", info.UIDNext))
	deps.SendResponse(conn, fmt.Sprintf("* FLAGS %s", flagList(info.Flags)))
	deps.SendResponse(conn, fmt.Sprintf("* OK [PERMANENTFLAGS %s] Limited", flagList(perm)))
	deps.SendResponse(conn, fmt.Sprintf("%s OK [READ-WRITE] SELECT completed", tag))
}

// flagList renders bare flag names as an IMAP flag list, e.g.
// ["Seen", "Deleted"] -> `(\Seen \Deleted)`.
func flagList(names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = `\` + name
	}
	return "(" + strings.Join(parts, " ") + ")"
}
