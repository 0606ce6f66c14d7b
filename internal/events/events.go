// Package events is the seam between the protocol engine and the embedding
// application. The engine emits typed notifications for connection
// lifecycle and for every command it dispatches; mailbox semantics are
// supplied by observers, which answer LOGIN, SELECT and LIST through
// one-shot acknowledgements.
package events

// Kind enumerates every notification the engine can emit.
type Kind int

const (
	// Connection lifecycle.
	KindConnect Kind = iota
	KindDisconnect
	KindTimeout
	KindError
	KindListening
	KindData

	// Core commands.
	KindCapability
	KindLogin
	KindLogout
	KindSelect
	KindList

	// Extension verbs, forwarded to the embedder unanswered.
	KindCreate
	KindExamine
	KindDelete
	KindRename
	KindSubscribe
	KindUnsubscribe
	KindStatus
	KindAppend
	KindCheck
	KindClose
	KindExpunge
	KindSearch
	KindFetch
	KindStore
	KindCopy
	KindMove
)

var kindNames = map[Kind]string{
	KindConnect:     "connect",
	KindDisconnect:  "connection:close",
	KindTimeout:     "timeout",
	KindError:       "error",
	KindListening:   "listening",
	KindData:        "data",
	KindCapability:  "CAPABILITY",
	KindLogin:       "LOGIN",
	KindLogout:      "LOGOUT",
	KindSelect:      "SELECT",
	KindList:        "LIST",
	KindCreate:      "CREATE",
	KindExamine:     "EXAMINE",
	KindDelete:      "DELETE",
	KindRename:      "RENAME",
	KindSubscribe:   "SUBSCRIBE",
	KindUnsubscribe: "UNSUBSCRIBE",
	KindStatus:      "STATUS",
	KindAppend:      "APPEND",
	KindCheck:       "CHECK",
	KindClose:       "CLOSE",
	KindExpunge:     "EXPUNGE",
	KindSearch:      "SEARCH",
	KindFetch:       "FETCH",
	KindStore:       "STORE",
	KindCopy:        "COPY",
	KindMove:        "MOVE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var extensionKinds = map[string]Kind{
	"CREATE":      KindCreate,
	"EXAMINE":     KindExamine,
	"DELETE":      KindDelete,
	"RENAME":      KindRename,
	"SUBSCRIBE":   KindSubscribe,
	"UNSUBSCRIBE": KindUnsubscribe,
	"STATUS":      KindStatus,
	"APPEND":      KindAppend,
	"CHECK":       KindCheck,
	"CLOSE":       KindClose,
	"EXPUNGE":     KindExpunge,
	"SEARCH":      KindSearch,
	"FETCH":       KindFetch,
	"STORE":       KindStore,
	"COPY":        KindCopy,
	"MOVE":        KindMove,
}

// ExtensionKind maps an upper-cased extension verb to its notification
// kind. The second return is false for verbs the engine does not forward.
func ExtensionKind(verb string) (Kind, bool) {
	k, ok := extensionKinds[verb]
	return k, ok
}

// ExtensionKinds returns every extension-verb kind, for embedders that
// subscribe one handler to the whole class.
func ExtensionKinds() []Kind {
	out := make([]Kind, 0, len(extensionKinds))
	for _, k := range extensionKinds {
		out = append(out, k)
	}
	return out
}

// Event is the payload delivered to observers. Fields beyond Kind and
// ConnID are populated where they make sense for the kind.
type Event struct {
	Kind       Kind
	ConnID     string
	RemoteAddr string
	Secure     bool

	// Tag, Verb and Args are set for command notifications. For LOGIN,
	// Args holds the username and password in order.
	Tag  string
	Verb string
	Args []string

	// Respond writes one raw CRLF-terminated line back to the client. It
	// is set on extension-verb notifications, whose completion response is
	// entirely the observer's responsibility; the engine never answers
	// that command class itself.
	Respond func(line string)

	// Line is the raw inbound line for Data notifications.
	Line []byte

	// Err is set for Error notifications.
	Err error

	// Acknowledgements, set only on the matching command kind. The engine
	// suspends the command's response until the observer resolves the ack.
	Login  *LoginAck
	Select *SelectAck
	List   *ListAck
}
