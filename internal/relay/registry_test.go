package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu     sync.Mutex
	sent   [][]byte
	full   bool
	closed bool
	code   int
	reason string
}

func (p *fakePeer) Send(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.sent = append(p.sent, payload)
	return true
}

func (p *fakePeer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.code = code
	p.reason = reason
}

func (p *fakePeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, b := range p.sent {
		out[i] = string(b)
	}
	return out
}

func TestRegistry_JoinIsSetSemantics(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Join(1, 10))
	require.False(t, r.Join(1, 10))
	require.True(t, r.Join(1, 11))

	require.Equal(t, []uint{10, 11}, r.Participants(1))
	require.True(t, r.IsParticipant(1, 10))
	require.False(t, r.IsParticipant(2, 10))
}

func TestRegistry_LeaveDeletesEmptySession(t *testing.T) {
	r := NewRegistry()
	r.Join(1, 10)
	r.Join(1, 11)

	left, remaining := r.Leave(1, 10)
	require.True(t, left)
	require.Equal(t, 1, remaining)
	require.True(t, r.HasSession(1))

	left, remaining = r.Leave(1, 11)
	require.True(t, left)
	require.Equal(t, 0, remaining)
	require.False(t, r.HasSession(1))
	require.Equal(t, 0, r.SessionCount())

	left, _ = r.Leave(1, 11)
	require.False(t, left)
}

func TestRegistry_LeaveNonParticipant(t *testing.T) {
	r := NewRegistry()
	r.Join(1, 10)
	left, remaining := r.Leave(1, 99)
	require.False(t, left)
	require.Equal(t, 1, remaining)
}

func TestRegistry_LeaveAll(t *testing.T) {
	r := NewRegistry()
	r.Join(3, 10)
	r.Join(1, 10)
	r.Join(1, 11)
	r.Join(2, 10)
	r.Join(2, 12)

	require.Equal(t, []uint{1, 2, 3}, r.Sessions(10))

	remaining := r.LeaveAll(10)
	require.Equal(t, []uint{1, 2}, remaining)
	require.Empty(t, r.Sessions(10))
	require.False(t, r.HasSession(3))
	require.Equal(t, 2, r.SessionCount())
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	a, b := &fakePeer{}, &fakePeer{}

	require.Nil(t, r.Register(7, a))
	require.Same(t, a, r.Register(7, b).(*fakePeer))
	require.Nil(t, r.Register(7, b))
	require.Equal(t, 1, r.ConnectionCount())

	// The replaced connection cannot unregister its successor.
	require.False(t, r.Unregister(7, a))
	require.Same(t, b, r.Client(7).(*fakePeer))

	require.True(t, r.Unregister(7, b))
	require.Nil(t, r.Client(7))
	require.Equal(t, 0, r.ConnectionCount())
}

func TestRegistry_Peers(t *testing.T) {
	r := NewRegistry()
	r.Register(1, &fakePeer{})
	r.Register(2, &fakePeer{})
	require.Len(t, r.Peers(), 2)
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for u := uint(1); u <= 20; u++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			p := &fakePeer{}
			r.Register(userID, p)
			for s := uint(1); s <= 5; s++ {
				r.Join(s, userID)
				_ = r.Participants(s)
			}
			r.Leave(1, userID)
			if userID%2 == 0 {
				r.LeaveAll(userID)
				r.Unregister(userID, p)
			}
		}(u)
	}
	wg.Wait()

	require.Equal(t, 10, r.ConnectionCount())
	require.False(t, r.HasSession(1))
	for s := uint(2); s <= 5; s++ {
		require.Len(t, r.Participants(s), 10)
	}
}
