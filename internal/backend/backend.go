// Package backend is the bundled reference embedder. It answers the
// engine's LOGIN, SELECT and LIST acknowledgements from a static
// configuration and stubs completions for the extension verbs, which makes
// cmd/server a runnable IMAP server rather than a bare library. Real
// deployments replace this package with their own observers.
package backend

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"kestrel/internal/conf"
	"kestrel/internal/events"
	"kestrel/internal/logger"
)

type Backend struct {
	users     map[string]string
	jwtSecret []byte
	mailboxes []events.MailboxEntry
}

func New(cfg conf.BackendConfig) *Backend {
	b := &Backend{
		users: make(map[string]string, len(cfg.Users)),
	}
	for _, u := range cfg.Users {
		b.users[u.Name] = u.Password
	}
	if cfg.JWTSecret != "" {
		b.jwtSecret = []byte(cfg.JWTSecret)
	}
	for _, m := range cfg.Mailboxes {
		b.mailboxes = append(b.mailboxes, events.MailboxEntry{
			Name:        m.Name,
			HasChildren: m.HasChildren,
		})
	}
	if len(b.mailboxes) == 0 {
		b.mailboxes = []events.MailboxEntry{{Name: "INBOX"}}
	}
	return b
}

// Register subscribes the backend on every event kind it answers.
func (b *Backend) Register(bus *events.Bus) {
	bus.Subscribe(events.KindLogin, b.handleLogin)
	bus.Subscribe(events.KindSelect, b.handleSelect)
	bus.Subscribe(events.KindList, b.handleList)
	bus.Subscribe(events.KindTimeout, func(e events.Event) {
		logger.Debug("idle connection", "id", e.ConnID)
	})
	for _, kind := range events.ExtensionKinds() {
		bus.Subscribe(kind, b.handleExtensionVerb)
	}
}

func (b *Backend) handleLogin(e events.Event) {
	if e.Login == nil || len(e.Args) < 2 {
		return
	}
	user, pass := e.Args[0], e.Args[1]
	e.Login.Resolve(b.verify(user, pass))
}

// verify accepts either the configured static password or, when a secret
// is configured, a signed token presented in the password slot with the
// username as its subject.
func (b *Backend) verify(user, pass string) bool {
	if want, ok := b.users[user]; ok && want == pass {
		return true
	}
	if b.jwtSecret == nil {
		return false
	}

	token, err := jwt.Parse(pass, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		logger.Debug("token login rejected", "user", user, "error", err)
		return false
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != user {
		return false
	}
	return true
}

func (b *Backend) handleSelect(e events.Event) {
	if e.Select == nil || len(e.Args) < 1 {
		return
	}
	name := e.Args[0]
	for _, m := range b.mailboxes {
		if m.Name == name {
			e.Select.Resolve(true, events.SelectInfo{
				UIDValidity: 1,
				UIDNext:     1,
				Flags:       []string{"Answered", "Flagged", "Deleted", "Seen", "Draft"},
			})
			return
		}
	}
	e.Select.Resolve(false, events.SelectInfo{})
}

func (b *Backend) handleList(e events.Event) {
	if e.List == nil || len(e.Args) < 2 {
		return
	}
	pattern := e.Args[1]
	if pattern == "*" || pattern == "%" || pattern == "" {
		e.List.Resolve(b.mailboxes)
		return
	}

	var matched []events.MailboxEntry
	for _, m := range b.mailboxes {
		if m.Name == pattern {
			matched = append(matched, m)
		}
	}
	e.List.Resolve(matched)
}

// handleExtensionVerb answers the verbs the engine forwards without a
// completion of its own. This backend has no message storage, so it
// acknowledges and does nothing.
func (b *Backend) handleExtensionVerb(e events.Event) {
	logger.Debug("extension verb", "id", e.ConnID, "verb", e.Verb, "args", e.Args)
	if e.Respond != nil {
		e.Respond(fmt.Sprintf("%s OK %s completed", e.Tag, e.Verb))
	}
}
