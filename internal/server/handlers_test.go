package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/events"
	"kestrel/internal/models"
)

func TestCapability_Insecure(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 CAPABILITY")
	c.expect("* CAPABILITY IMAP4rev1 IMAP4 AUTH=PLAIN AUTH=LOGIN STARTTLS")
	c.expect("a1 OK CAPABILITY completed")
}

func TestCapability_EmitsNotification(t *testing.T) {
	srv := startServer(t, Options{})

	seen := make(chan events.Event, 1)
	srv.Bus().Subscribe(events.KindCapability, func(e events.Event) { seen <- e })

	c := dialTest(t, srv)
	c.readLine()
	c.send("tt CAPABILITY")
	c.readLine()
	c.readLine()

	select {
	case ev := <-seen:
		assert.Equal(t, "tt", ev.Tag)
		assert.Equal(t, "CAPABILITY", ev.Verb)
	case <-time.After(2 * time.Second):
		t.Fatal("no capability notification")
	}
}

func TestLogin_NoObserverFailsImmediately(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 LOGIN bob secret")
	c.expect("a1 NO LOGIN failed")

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateNotAuthenticated, sess.State)
	assert.Empty(t, sess.User)
}

func TestLogin_MissingArguments(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)
	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 LOGIN bob")
	c.expect("a1 BAD Missing required arguments")

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateNotAuthenticated, sess.State)
}

func TestLogin_Success(t *testing.T) {
	srv := startServer(t, Options{})

	var gotUser, gotPass string
	srv.Bus().Subscribe(events.KindLogin, func(e events.Event) {
		gotUser, gotPass = e.Args[0], e.Args[1]
		e.Login.Resolve(true)
	})

	c := dialTest(t, srv)
	c.readLine()

	c.send(`a1 LOGIN "bob" "secret"`)
	c.expect("a1 OK LOGIN completed")

	assert.Equal(t, "bob", gotUser)
	assert.Equal(t, "secret", gotPass)

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateAuthenticated, sess.State)
	assert.Equal(t, "bob", sess.User)

	// A second LOGIN is illegal once authenticated.
	c.send("a2 LOGIN bob secret")
	c.expect("a2 BAD Command not valid in current state")
}

func TestLogin_Rejected(t *testing.T) {
	srv := startServer(t, Options{})
	srv.Bus().Subscribe(events.KindLogin, func(e events.Event) {
		e.Login.Resolve(false)
	})

	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 LOGIN bob wrongpass")
	c.expect("a1 NO LOGIN failed")

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateNotAuthenticated, sess.State)
	assert.Empty(t, sess.User)
}

func TestLogin_DuplicateAckResolutionIsIgnored(t *testing.T) {
	srv := startServer(t, Options{})
	srv.Bus().Subscribe(events.KindLogin, func(e events.Event) {
		e.Login.Resolve(true)
		e.Login.Resolve(false)
		e.Login.Resolve(true)
	})

	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	// Exactly one completion: the next line answers the next command.
	c.send("a2 NOOP")
	c.expect("a2 OK NOOP completed")
}

func TestLogin_AsynchronousAck(t *testing.T) {
	srv := startServer(t, Options{})
	srv.Bus().Subscribe(events.KindLogin, func(e events.Event) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			e.Login.Resolve(true)
		}()
	})
	srv.Bus().Subscribe(events.KindSelect, func(e events.Event) {
		e.Select.Resolve(true, events.SelectInfo{
			Exists:      1,
			UIDValidity: 9,
			UIDNext:     2,
			Flags:       []string{"Seen"},
		})
	})

	c := dialTest(t, srv)
	c.readLine()

	// A command racing the pending acknowledgement must not be evaluated
	// first: processing is serialized per connection. Had SELECT been
	// evaluated before the LOGIN ack resolved, gating would answer it with
	// a BAD against the unauthenticated state.
	c.send("a1 LOGIN bob secret")
	c.send("a2 SELECT INBOX")

	c.expect("a1 OK LOGIN completed")
	c.expect("* 1 EXISTS")
	c.expect("* 0 RECENT")
	c.expect("* OK [UNSEEN 0] Message 0 is first unseen")
	c.expect("* OK [UIDVALIDITY 9] UIDs valid")
	c.expect("* OK [UIDNEXT 2] Predicted next UID")
	c.expect(`* FLAGS (\Seen)`)
	c.expect(`* OK [PERMANENTFLAGS (\Seen \*)] Limited`)
	c.expect("a2 OK [READ-WRITE] SELECT completed")

	_, sess := onlySession(t, srv)
	assert.Equal(t, "bob", sess.User)
	assert.Equal(t, models.StateSelected, sess.State)
	assert.Equal(t, "INBOX", sess.SelectedMailbox)
}

func TestAuthenticatedGating(t *testing.T) {
	verbs := []string{
		"LOGOUT",
		"SELECT INBOX",
		"LIST \"\" *",
		"CREATE Stuff",
		"EXAMINE INBOX",
		"DELETE Stuff",
		"RENAME a b",
		"SUBSCRIBE INBOX",
		"UNSUBSCRIBE INBOX",
		"STATUS INBOX messages",
		"APPEND INBOX body",
		"CHECK now",
		"CLOSE now",
		"EXPUNGE now",
		"SEARCH ALL",
		"FETCH 1",
		"STORE 1",
		"COPY 1",
		"MOVE 1",
	}

	srv := startServer(t, Options{})
	c := dialTest(t, srv)
	c.readLine()

	for i, verb := range verbs {
		tag := fmt.Sprintf("g%d", i)
		c.send(tag + " " + verb)
		c.expect(tag + " BAD Command not valid in current state")
	}

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateNotAuthenticated, sess.State)
	assert.True(t, sess.Valid())
}

func TestSelect_Success(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)
	srv.Bus().Subscribe(events.KindSelect, func(e events.Event) {
		assert.Equal(t, []string{"INBOX"}, e.Args)
		e.Select.Resolve(true, events.SelectInfo{
			Exists:      3,
			Recent:      1,
			Unseen:      2,
			UIDValidity: 1071,
			UIDNext:     4,
			Flags:       []string{"Seen", "Deleted"},
		})
	})

	c := dialTest(t, srv)
	c.readLine()
	c.send(`a1 LOGIN "bob" "secret"`)
	c.expect("a1 OK LOGIN completed")

	c.send(`a2 SELECT "INBOX"`)
	c.expect("* 3 EXISTS")
	c.expect("* 1 RECENT")
	c.expect("* OK [UNSEEN 2] Message 2 is first unseen")
	c.expect("* OK [UIDVALIDITY 1071] UIDs valid")
	c.expect("* OK [UIDNEXT 4] Predicted next UID")
	c.expect(`* FLAGS (\Seen \Deleted)`)
	c.expect(`* OK [PERMANENTFLAGS (\Seen \Deleted \*)] Limited`)
	c.expect("a2 OK [READ-WRITE] SELECT completed")

	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateSelected, sess.State)
	assert.Equal(t, "INBOX", sess.SelectedMailbox)
	assert.Equal(t, "bob", sess.User)
}

func TestSelect_NonexistentMailboxKeepsProvisionalState(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)
	srv.Bus().Subscribe(events.KindSelect, func(e events.Event) {
		e.Select.Resolve(false, events.SelectInfo{})
	})

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send("a2 SELECT Nosuch")
	c.expect("a2 NO Mailbox doesn't exist (Failure)")

	// The provisional transition stands: the attempted name is recorded
	// even though the mailbox does not exist.
	_, sess := onlySession(t, srv)
	assert.Equal(t, models.StateSelected, sess.State)
	assert.Equal(t, "Nosuch", sess.SelectedMailbox)
}

func TestSelect_MissingArguments(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send("a2 SELECT")
	c.expect("a2 BAD Missing required arguments")
}

func TestList_RoundTrip(t *testing.T) {
	entries := []events.MailboxEntry{
		{Name: "INBOX", HasChildren: false},
		{Name: "Archive", HasChildren: true},
		{Name: "Sent", HasChildren: false},
	}

	srv := startServer(t, Options{})
	acceptAll(srv)
	srv.Bus().Subscribe(events.KindList, func(e events.Event) {
		assert.Equal(t, []string{"", "*"}, e.Args)
		e.List.Resolve(entries)
	})

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send(`a2 LIST "" *`)
	c.expect(`* LIST (\NoChildren) "." "INBOX"`)
	c.expect(`* LIST (\HasChildren) "." "Archive"`)
	c.expect(`* LIST (\NoChildren) "." "Sent"`)
	c.expect("a2 OK LIST completed")
}

func TestList_EmptyResult(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)
	srv.Bus().Subscribe(events.KindList, func(e events.Event) {
		e.List.Resolve(nil)
	})

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send(`a2 LIST "" Nomatch`)
	c.expect("a2 OK LIST completed")
}

func TestNoop_BeforeAuthentication(t *testing.T) {
	srv := startServer(t, Options{})
	c := dialTest(t, srv)
	c.readLine()

	c.send("a1 NOOP")
	c.expect("a1 OK NOOP completed")
}

func TestLogout(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)

	logouts := make(chan events.Event, 1)
	srv.Bus().Subscribe(events.KindLogout, func(e events.Event) { logouts <- e })

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send("a2 LOGOUT")
	c.expect("* BYE IMAP server logging out")
	c.expect("a2 OK LOGOUT completed")
	c.expectClosed()

	select {
	case ev := <-logouts:
		assert.Equal(t, "a2", ev.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("no logout notification")
	}

	all, err := srv.Store().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExtensionVerb_ForwardedWithoutEngineResponse(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)

	forwarded := make(chan events.Event, 1)
	srv.Bus().Subscribe(events.KindCreate, func(e events.Event) {
		forwarded <- e
		// The completion is this observer's job, not the engine's.
		e.Respond(fmt.Sprintf("%s OK CREATE completed", e.Tag))
	})

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send("a2 CREATE Drafts")
	c.expect("a2 OK CREATE completed")

	select {
	case ev := <-forwarded:
		assert.Equal(t, "CREATE", ev.Verb)
		assert.Equal(t, []string{"Drafts"}, ev.Args)
		assert.Equal(t, "a2", ev.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("no extension notification")
	}
}

func TestExtensionVerb_MissingArguments(t *testing.T) {
	srv := startServer(t, Options{})
	acceptAll(srv)

	c := dialTest(t, srv)
	c.readLine()
	c.send("a1 LOGIN bob secret")
	c.expect("a1 OK LOGIN completed")

	c.send("a2 FETCH")
	c.expect("a2 BAD Missing required arguments")
}
