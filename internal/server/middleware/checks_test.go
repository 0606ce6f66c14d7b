package middleware

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"kestrel/internal/models"
)

type fakeDeps struct {
	sessions  map[string]models.SessionState
	responses []string
}

func (f *fakeDeps) SendResponse(conn net.Conn, response string) {
	f.responses = append(f.responses, response)
}

func (f *fakeDeps) Session(ctx context.Context, id string) (models.SessionState, bool) {
	sess, ok := f.sessions[id]
	return sess, ok
}

func TestRequireAuthenticated(t *testing.T) {
	tests := []struct {
		name     string
		state    models.SessionState
		known    bool
		wantCall bool
		wantResp string
	}{
		{
			name:     "not authenticated",
			state:    models.SessionState{State: models.StateNotAuthenticated},
			known:    true,
			wantResp: "a1 BAD Command not valid in current state",
		},
		{
			name:     "authenticated",
			state:    models.SessionState{State: models.StateAuthenticated, User: "bob"},
			known:    true,
			wantCall: true,
		},
		{
			name:     "selected",
			state:    models.SessionState{State: models.StateSelected, User: "bob", SelectedMailbox: "INBOX"},
			known:    true,
			wantCall: true,
		},
		{
			name:     "logging out",
			state:    models.SessionState{State: models.StateLogout},
			known:    true,
			wantResp: "a1 BAD Command not valid in current state",
		},
		{
			name:     "unknown session",
			wantResp: "a1 BAD Command not valid in current state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := &fakeDeps{sessions: map[string]models.SessionState{}}
			if tt.known {
				deps.sessions["c1"] = tt.state
			}

			called := false
			h := RequireAuthenticated(deps, func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
				called = true
			})
			h(context.Background(), nil, "c1", "a1", nil)

			assert.Equal(t, tt.wantCall, called)
			if tt.wantResp != "" {
				assert.Equal(t, []string{tt.wantResp}, deps.responses)
			} else {
				assert.Empty(t, deps.responses)
			}
		})
	}
}

func TestMinArgs(t *testing.T) {
	tests := []struct {
		name     string
		min      int
		args     []string
		wantCall bool
	}{
		{name: "exact", min: 2, args: []string{"bob", "secret"}, wantCall: true},
		{name: "surplus", min: 1, args: []string{"INBOX", "extra"}, wantCall: true},
		{name: "short", min: 2, args: []string{"bob"}},
		{name: "empty", min: 1, args: nil},
		{name: "zero minimum", min: 0, args: nil, wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := &fakeDeps{}
			var got []string
			h := MinArgs(deps, tt.min, func(ctx context.Context, conn net.Conn, id, tag string, args []string) {
				got = args
			})
			h(context.Background(), nil, "c1", "t1", tt.args)

			if tt.wantCall {
				assert.Equal(t, tt.args, got)
				assert.Empty(t, deps.responses)
			} else {
				assert.Equal(t, []string{"t1 BAD Missing required arguments"}, deps.responses)
			}
		})
	}
}
