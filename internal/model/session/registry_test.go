package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sanyaden/smartyme-voice-input-sub000/internal/model/protocol"
)

// blockingConn stalls data writes until released, like a client whose TCP
// buffer is full.
type blockingConn struct {
	fakeConn
	release chan struct{}
}

func (c *blockingConn) WriteMessage(messageType int, data []byte) error {
	<-c.release
	return c.fakeConn.WriteMessage(messageType, data)
}

func TestRegisterReplacesSameUserSession(t *testing.T) {
	registry := NewRegistry()

	oldConn := &fakeConn{}
	oldSess := New("old", "user-1", "3", "alloy")
	oldSess.AttachClient(oldConn)
	if replaced := registry.Register(oldSess); len(replaced) != 0 {
		t.Fatalf("expected no replacement, got %d", len(replaced))
	}

	newSess := New("new", "user-1", "3", "alloy")
	newSess.AttachClient(&fakeConn{})
	replaced := registry.Register(newSess)

	if len(replaced) != 1 || replaced[0] != oldSess {
		t.Fatalf("expected the old session to be replaced, got %v", replaced)
	}
	if oldSess.State() != StateClosed {
		t.Fatal("replaced session should be closed")
	}
	if !oldConn.isClosed() {
		t.Fatal("replaced session's socket should be closed")
	}

	// The old client gets a session.replaced notice before the close frame.
	if oldConn.frameCount() != 1 {
		t.Fatalf("expected 1 notice frame, got %d", oldConn.frameCount())
	}
	var notice map[string]string
	if err := json.Unmarshal([]byte(oldConn.frame(0)), &notice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notice["type"] != protocol.TypeSessionReplaced {
		t.Fatalf("expected session.replaced notice, got %q", notice["type"])
	}

	if _, ok := registry.Get("old"); ok {
		t.Fatal("replaced session should be out of the registry")
	}
	if got, ok := registry.Get("new"); !ok || got != newSess {
		t.Fatal("new session should be registered")
	}
}

func TestRegisterNotBlockedByStalledClient(t *testing.T) {
	registry := NewRegistry()

	stalled := &blockingConn{release: make(chan struct{})}
	old := New("old", "user-1", "", "")
	old.AttachClient(stalled)
	registry.Register(old)

	replaceDone := make(chan struct{})
	go func() {
		repl := New("new", "user-1", "", "")
		repl.AttachClient(&fakeConn{})
		registry.Register(repl)
		close(replaceDone)
	}()

	// An unrelated user's Register must complete even while the replaced
	// client's notice write is stuck.
	otherDone := make(chan struct{})
	go func() {
		other := New("other", "user-2", "", "")
		other.AttachClient(&fakeConn{})
		registry.Register(other)
		close(otherDone)
	}()

	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("another user's Register should not wait on a stalled client")
	}

	close(stalled.release)
	select {
	case <-replaceDone:
	case <-time.After(time.Second):
		t.Fatal("replacement should finish once the stalled client drains")
	}
	if old.State() != StateClosed {
		t.Fatal("replaced session should be closed")
	}
}

func TestRegisterKeepsOtherUsers(t *testing.T) {
	registry := NewRegistry()

	a := New("a", "user-a", "", "")
	a.AttachClient(&fakeConn{})
	b := New("b", "user-b", "", "")
	b.AttachClient(&fakeConn{})

	registry.Register(a)
	if replaced := registry.Register(b); len(replaced) != 0 {
		t.Fatalf("expected no replacement across users, got %d", len(replaced))
	}
	if a.State() == StateClosed {
		t.Fatal("other user's session must stay open")
	}
}

func TestFindByUserSkipsClosed(t *testing.T) {
	registry := NewRegistry()

	sess := New("s", "user-1", "", "")
	sess.AttachClient(&fakeConn{})
	registry.Register(sess)

	if got, ok := registry.FindByUser("user-1"); !ok || got != sess {
		t.Fatal("expected to find the active session")
	}

	sess.Close(protocol.CloseReplaced, "done")
	if _, ok := registry.FindByUser("user-1"); ok {
		t.Fatal("closed session should not be found")
	}
}

func TestRemoveSessionOnlyEvictsSamePointer(t *testing.T) {
	registry := NewRegistry()

	first := New("shared-id", "user-1", "", "")
	first.AttachClient(&fakeConn{})
	registry.Register(first)

	second := New("shared-id", "user-1", "", "")
	second.AttachClient(&fakeConn{})
	registry.Register(second)

	// Late teardown of the replaced session must not evict its successor.
	registry.RemoveSession(first)
	if got, ok := registry.Get("shared-id"); !ok || got != second {
		t.Fatal("successor session should survive the old session's teardown")
	}

	registry.RemoveSession(second)
	if _, ok := registry.Get("shared-id"); ok {
		t.Fatal("session should be removed")
	}
}

func TestSnapshotCounts(t *testing.T) {
	registry := NewRegistry()

	active := New("a", "user-a", "", "")
	active.AttachClient(&fakeConn{})
	registry.Register(active)
	active.MarkReady()

	connecting := New("b", "user-b", "", "")
	connecting.AttachClient(&fakeConn{})
	registry.Register(connecting)

	stats := registry.Snapshot()
	if stats.Total != 2 || stats.Active != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByState["active"] != 1 || stats.ByState["connecting"] != 1 {
		t.Fatalf("unexpected state breakdown: %+v", stats.ByState)
	}
}
