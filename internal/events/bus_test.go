package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(KindConnect, func(Event) {
			order = append(order, i)
		})
	}

	bus.Emit(Event{Kind: KindConnect, ConnID: "abc"})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBus_EmitOnlyMatchingKind(t *testing.T) {
	bus := NewBus()

	var got []Kind
	bus.Subscribe(KindLogin, func(e Event) { got = append(got, e.Kind) })
	bus.Subscribe(KindSelect, func(e Event) { got = append(got, e.Kind) })

	bus.Emit(Event{Kind: KindLogin})
	bus.Emit(Event{Kind: KindList})

	assert.Equal(t, []Kind{KindLogin}, got)
}

func TestBus_HasHandlers(t *testing.T) {
	bus := NewBus()
	assert.False(t, bus.HasHandlers(KindLogin))

	bus.Subscribe(KindLogin, func(Event) {})
	assert.True(t, bus.HasHandlers(KindLogin))
	assert.False(t, bus.HasHandlers(KindSelect))
}

func TestLoginAck_ResolvesOnce(t *testing.T) {
	calls := 0
	var last bool
	ack := NewLoginAck(func(ok bool) {
		calls++
		last = ok
	})

	ack.Resolve(true)
	ack.Resolve(false) // ignored

	require.Equal(t, 1, calls)
	assert.True(t, last)
}

func TestSelectAck_ResolvesOnce(t *testing.T) {
	calls := 0
	ack := NewSelectAck(func(found bool, info SelectInfo) {
		calls++
		assert.True(t, found)
		assert.Equal(t, 3, info.Exists)
	})

	ack.Resolve(true, SelectInfo{Exists: 3})
	ack.Resolve(false, SelectInfo{})

	assert.Equal(t, 1, calls)
}

func TestListAck_ResolvesOnce(t *testing.T) {
	calls := 0
	ack := NewListAck(func(entries []MailboxEntry) {
		calls++
		assert.Len(t, entries, 2)
	})

	ack.Resolve([]MailboxEntry{{Name: "INBOX"}, {Name: "Sent"}})
	ack.Resolve(nil)

	assert.Equal(t, 1, calls)
}

func TestExtensionKind(t *testing.T) {
	k, ok := ExtensionKind("FETCH")
	require.True(t, ok)
	assert.Equal(t, KindFetch, k)
	assert.Equal(t, "FETCH", k.String())

	_, ok = ExtensionKind("LOGIN")
	assert.False(t, ok)

	_, ok = ExtensionKind("XAPPLEPUSHSERVICE")
	assert.False(t, ok)
}
