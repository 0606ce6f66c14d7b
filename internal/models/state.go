package models

// State is the position of a session in the IMAP access state machine.
type State int

const (
	StateNotAuthenticated State = iota
	StateAuthenticated
	StateSelected
	StateLogout
)

func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not_authenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateLogout:
		return "logout"
	}
	return "unknown"
}

// SessionState is the per-connection protocol state held in the session
// store, keyed by the connection identifier. Its lifetime is decoupled from
// the transport so a custom store can keep it elsewhere.
type SessionState struct {
	State           State
	User            string
	SelectedMailbox string
	// Secure is true once the channel is confidential, either because the
	// listener was TLS or after a STARTTLS upgrade. It never reverts.
	Secure bool
}

// Authenticated reports whether the session may issue commands from the
// authenticated-or-better class.
func (s SessionState) Authenticated() bool {
	return s.State == StateAuthenticated || s.State == StateSelected
}

// Valid checks the structural invariants: User is set exactly when the
// session is authenticated or selected, SelectedMailbox exactly when
// selected.
func (s SessionState) Valid() bool {
	if (s.User != "") != s.Authenticated() {
		return false
	}
	if (s.SelectedMailbox != "") != (s.State == StateSelected) {
		return false
	}
	return true
}
