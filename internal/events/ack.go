package events

import "sync"

// LoginAck is the single-use acknowledgement for a LOGIN command. The
// observer resolves it with the credential decision; resolving a second
// time is a no-op.
type LoginAck struct {
	once sync.Once
	fn   func(ok bool)
}

// NewLoginAck wraps fn in a one-shot resolver.
func NewLoginAck(fn func(ok bool)) *LoginAck {
	return &LoginAck{fn: fn}
}

// Resolve reports whether the presented credentials were accepted.
func (a *LoginAck) Resolve(ok bool) {
	a.once.Do(func() { a.fn(ok) })
}

// SelectInfo is the mailbox status an observer supplies for a successful
// SELECT.
type SelectInfo struct {
	Exists      int
	Recent      int
	Unseen      int
	UIDValidity uint32
	UIDNext     uint32
	// Flags are bare names without the leading backslash, e.g. "Seen".
	Flags []string
	// PermanentFlags defaults to Flags plus \* when left empty.
	PermanentFlags []string
}

// SelectAck is the single-use acknowledgement for a SELECT command.
type SelectAck struct {
	once sync.Once
	fn   func(found bool, info SelectInfo)
}

func NewSelectAck(fn func(found bool, info SelectInfo)) *SelectAck {
	return &SelectAck{fn: fn}
}

// Resolve reports whether the mailbox exists, with its status when found.
func (a *SelectAck) Resolve(found bool, info SelectInfo) {
	a.once.Do(func() { a.fn(found, info) })
}

// MailboxEntry is one line of a LIST enumeration.
type MailboxEntry struct {
	Name        string
	HasChildren bool
}

// ListAck is the single-use acknowledgement for a LIST command.
type ListAck struct {
	once sync.Once
	fn   func(entries []MailboxEntry)
}

func NewListAck(fn func(entries []MailboxEntry)) *ListAck {
	return &ListAck{fn: fn}
}

// Resolve supplies the enumeration, rendered in the given order. An empty
// slice is legal and yields just the completion line.
func (a *ListAck) Resolve(entries []MailboxEntry) {
	a.once.Do(func() { a.fn(entries) })
}
