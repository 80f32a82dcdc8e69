package hub_test

import (
	"errors"
	"testing"

	"devscope-relay/internal/hub"
)

type fakeConn struct {
	sent   [][]byte
	closed bool
	fail   bool
}

func (c *fakeConn) Send(payload []byte) error {
	if c.fail {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestSendToRegisteredConnection(t *testing.T) {
	h := hub.New()
	c := &fakeConn{}
	h.Register("o1", "d1", c, nil)

	if !h.Send("o1", "d1", []byte("hello")) {
		t.Fatalf("expected delivery to live connection")
	}
	if len(c.sent) != 1 || string(c.sent[0]) != "hello" {
		t.Fatalf("unexpected sends: %v", c.sent)
	}

	if h.Send("o1", "other", []byte("x")) {
		t.Fatalf("delivered to unregistered key")
	}
}

func TestRegisterFlushesBacklogBeforeLiveTraffic(t *testing.T) {
	h := hub.New()
	c := &fakeConn{}

	backlog := [][]byte{[]byte("first"), []byte("second")}
	h.Register("o1", "d1", c, func() [][]byte { return backlog })

	h.Send("o1", "d1", []byte("third"))

	want := []string{"first", "second", "third"}
	if len(c.sent) != len(want) {
		t.Fatalf("expected %d sends, got %d", len(want), len(c.sent))
	}
	for i, w := range want {
		if string(c.sent[i]) != w {
			t.Fatalf("position %d: expected %s, got %s", i, w, c.sent[i])
		}
	}
}

func TestRegisterReplacesAndClosesPrior(t *testing.T) {
	h := hub.New()
	old := &fakeConn{}
	h.Register("o1", "d1", old, nil)

	replacement := &fakeConn{}
	h.Register("o1", "d1", replacement, nil)

	if !old.closed {
		t.Fatalf("prior connection not closed on replacement")
	}
	h.Send("o1", "d1", []byte("x"))
	if len(old.sent) != 0 {
		t.Fatalf("stale connection still receiving")
	}
	if len(replacement.sent) != 1 {
		t.Fatalf("replacement not receiving")
	}
}

func TestUnregisterStaleHandleIsNoop(t *testing.T) {
	h := hub.New()
	old := &fakeConn{}
	h.Register("o1", "d1", old, nil)

	replacement := &fakeConn{}
	h.Register("o1", "d1", replacement, nil)

	// The old handle unregisters late, after being replaced.
	h.Unregister("o1", "d1", old)

	if !h.Connected("o1", "d1") {
		t.Fatalf("stale unregister removed the live connection")
	}

	h.Unregister("o1", "d1", replacement)
	if h.Connected("o1", "d1") {
		t.Fatalf("live unregister did not remove the connection")
	}
}

func TestDropClosesConnection(t *testing.T) {
	h := hub.New()
	c := &fakeConn{}
	h.Register("o1", "d1", c, nil)

	h.Drop("o1", "d1")

	if !c.closed {
		t.Fatalf("dropped connection not closed")
	}
	if h.Connected("o1", "d1") {
		t.Fatalf("dropped connection still registered")
	}

	// Dropping an empty key is fine.
	h.Drop("o1", "d1")
}

func TestSendFailureReportsNotDelivered(t *testing.T) {
	h := hub.New()
	h.Register("o1", "d1", &fakeConn{fail: true}, nil)

	if h.Send("o1", "d1", []byte("x")) {
		t.Fatalf("failed send reported as delivered")
	}
}
