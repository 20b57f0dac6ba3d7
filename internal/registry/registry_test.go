package registry

import (
	"sync"
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	wrote  []any
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.wrote)
}

func TestRegisterAndSend(t *testing.T) {
	r := New(nil)
	c := &fakeConn{}
	r.Register("d1", models.RoleDriver, c)

	if !r.Connected("d1", models.RoleDriver) {
		t.Fatal("driver should be connected")
	}
	r.Send("d1", models.RoleDriver, map[string]string{"hello": "world"})
	if c.messages() != 1 {
		t.Fatalf("expected 1 message, got %d", c.messages())
	}
}

func TestSendToAbsentIsNoop(t *testing.T) {
	r := New(nil)
	// must not panic or error
	r.Send("nobody", models.RoleCustomer, "x")
}

func TestLastConnectWins(t *testing.T) {
	r := New(nil)
	first := &fakeConn{}
	second := &fakeConn{}
	r.Register("d1", models.RoleDriver, first)
	r.Register("d1", models.RoleDriver, second)

	if !first.closed {
		t.Fatal("replaced connection should be closed")
	}
	r.Send("d1", models.RoleDriver, "ping")
	if second.messages() != 1 || first.messages() != 0 {
		t.Fatalf("message went to the wrong connection: first=%d second=%d", first.messages(), second.messages())
	}
}

func TestStaleUnregisterDoesNotEvict(t *testing.T) {
	r := New(nil)
	first := &fakeConn{}
	second := &fakeConn{}
	r.Register("d1", models.RoleDriver, first)
	r.Register("d1", models.RoleDriver, second)

	// the replaced connection's teardown fires late
	if r.Unregister("d1", models.RoleDriver, first) {
		t.Fatal("stale teardown should report false")
	}
	if !r.Connected("d1", models.RoleDriver) {
		t.Fatal("newer session must survive the stale teardown")
	}
	if !r.Unregister("d1", models.RoleDriver, second) {
		t.Fatal("current connection should unregister")
	}
	if r.Connected("d1", models.RoleDriver) {
		t.Fatal("driver should be gone")
	}
}

func TestBroadcastWithPredicate(t *testing.T) {
	r := New(nil)
	a := &fakeConn{}
	b := &fakeConn{}
	r.Register("a", models.RoleCustomer, a)
	r.Register("b", models.RoleCustomer, b)

	r.Broadcast(models.RoleCustomer, func(id string) bool { return id == "a" }, "only-a")
	if a.messages() != 1 || b.messages() != 0 {
		t.Fatalf("predicate ignored: a=%d b=%d", a.messages(), b.messages())
	}

	r.Broadcast(models.RoleCustomer, nil, "everyone")
	if a.messages() != 2 || b.messages() != 1 {
		t.Fatalf("nil predicate should match all: a=%d b=%d", a.messages(), b.messages())
	}
}

func TestDriverCount(t *testing.T) {
	r := New(nil)
	r.Register("d1", models.RoleDriver, &fakeConn{})
	r.Register("d2", models.RoleDriver, &fakeConn{})
	r.Register("c1", models.RoleCustomer, &fakeConn{})
	if r.DriverCount() != 2 {
		t.Fatalf("expected 2 drivers, got %d", r.DriverCount())
	}
}
