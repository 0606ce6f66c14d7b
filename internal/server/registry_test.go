package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry(0, 12)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := reg.Add(newMockConn())
		require.NoError(t, err)
		assert.Len(t, id, 12)
		assert.False(t, seen[id], "identifier %s issued twice", id)
		seen[id] = true
	}
	assert.Equal(t, 100, reg.Count())
}

func TestRegistry_CeilingIsExact(t *testing.T) {
	reg := NewRegistry(3, 16)

	for i := 0; i < 3; i++ {
		_, err := reg.Add(newMockConn())
		require.NoError(t, err)
	}

	_, err := reg.Add(newMockConn())
	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, 3, reg.Count())
}

func TestRegistry_CeilingUnderConcurrentAccepts(t *testing.T) {
	const max = 10
	reg := NewRegistry(max, 16)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Add(newMockConn())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
			} else {
				admitted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, max, admitted)
	assert.Equal(t, 40, rejected)
	assert.Equal(t, max, reg.Count())
}

func TestRegistry_RemoveFreesASlot(t *testing.T) {
	reg := NewRegistry(1, 16)

	id, err := reg.Add(newMockConn())
	require.NoError(t, err)

	_, err = reg.Add(newMockConn())
	require.ErrorIs(t, err, ErrTooManyConnections)

	assert.True(t, reg.Remove(id))
	assert.False(t, reg.Remove(id), "second remove must report absence")

	_, err = reg.Add(newMockConn())
	assert.NoError(t, err)
}

func TestRegistry_Rebind(t *testing.T) {
	reg := NewRegistry(0, 16)

	first := newMockConn()
	id, err := reg.Add(first)
	require.NoError(t, err)

	second := newMockConn()
	require.True(t, reg.Rebind(id, second))

	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Same(t, second, got.(*mockConn))
	assert.Equal(t, 1, reg.Count())

	assert.False(t, reg.Rebind("missing", second))
}

func TestRandomID(t *testing.T) {
	for _, length := range []int{1, 8, 15, 32} {
		id, err := randomID(length)
		require.NoError(t, err)
		assert.Len(t, id, length)
	}
}
