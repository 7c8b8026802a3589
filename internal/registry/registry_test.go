// ABOUTME: Tests for the connection registry and broadcast fan-out
// ABOUTME: Covers add/remove, snapshot isolation, skip rules, send failures and concurrency

package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/zgate/internal/session"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	msgs   [][]byte
	closed atomic.Bool
	fail   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Closed() bool { return c.closed.Load() }

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = string(m)
	}
	return out
}

func entry(c Conn, user string) Entry {
	return Entry{Conn: c, Identity: session.Identity{Authenticated: true, Username: user}, RemoteAddr: "127.0.0.1:1"}
}

func TestRegistry_AddRemove(t *testing.T) {
	r := New(nil)
	a := newFakeConn("a")

	r.Add(entry(a, "alice"))
	assert.True(t, r.Contains("a"))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alice", got.Identity.Username)
	assert.False(t, got.ConnectedAt.IsZero())

	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "alice", removed.Identity.Username)
	assert.False(t, r.Contains("a"))

	_, ok = r.Remove("a")
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := New(nil)
	r.Add(entry(newFakeConn("a"), "alice"))
	r.Add(entry(newFakeConn("b"), "bob"))

	snap := r.Snapshot()
	r.Remove("a")
	r.Add(entry(newFakeConn("c"), "carol"))

	assert.Len(t, snap, 2)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	r := New(nil)
	base := time.Now()
	r.Add(Entry{Conn: newFakeConn("late"), ConnectedAt: base.Add(time.Second)})
	r.Add(Entry{Conn: newFakeConn("early"), ConnectedAt: base})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "early", snap[0].Conn.ID())
}

func TestRegistry_BroadcastSkipsSenderAndClosed(t *testing.T) {
	r := New(nil)
	sender := newFakeConn("sender")
	open := newFakeConn("open")
	gone := newFakeConn("gone")
	gone.closed.Store(true)

	for _, c := range []*fakeConn{sender, open, gone} {
		r.Add(entry(c, c.id))
	}

	n := r.Broadcast([]byte("hi"), "sender")
	assert.Equal(t, 1, n)
	assert.Empty(t, sender.received())
	assert.Equal(t, []string{"hi"}, open.received())
	assert.Empty(t, gone.received())
}

func TestRegistry_BroadcastContinuesPastFailure(t *testing.T) {
	r := New(nil)
	bad := newFakeConn("bad")
	bad.fail = true
	good1 := newFakeConn("good1")
	good2 := newFakeConn("good2")

	base := time.Now()
	r.Add(Entry{Conn: good1, ConnectedAt: base})
	r.Add(Entry{Conn: bad, ConnectedAt: base.Add(time.Millisecond)})
	r.Add(Entry{Conn: good2, ConnectedAt: base.Add(2 * time.Millisecond)})

	assert.Equal(t, 2, r.Broadcast([]byte("x"), ""))
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)
}

func TestRegistry_SendTo(t *testing.T) {
	r := New(nil)
	c := newFakeConn("c")

	assert.False(t, r.SendTo("c", []byte("early")), "unregistered")

	r.Add(entry(c, "carol"))
	assert.True(t, r.SendTo("c", []byte("ok")))

	c.closed.Store(true)
	assert.False(t, r.SendTo("c", []byte("late")))
	assert.Equal(t, []string{"ok"}, c.received())
}

func TestRegistry_ConcurrentMutationDuringBroadcast(t *testing.T) {
	r := New(nil)
	for i := 0; i < 50; i++ {
		r.Add(entry(newFakeConn(fmt.Sprintf("seed-%d", i)), "seed"))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			id := fmt.Sprintf("churn-%d", i)
			r.Add(entry(newFakeConn(id), "churn"))
			r.Remove(id)
			r.Remove(fmt.Sprintf("seed-%d", i%50))
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Broadcast([]byte("tick"), "")
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
