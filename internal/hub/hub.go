// Package hub is the process-local directory of live device connections.
// It is one explicit object constructed in main and injected wherever needed,
// so tests build a fresh directory instead of sharing hidden globals. Nothing
// here survives a restart; clients reconnect with backoff.
package hub

import "sync"

// Conn is a live duplex channel to one device. Send must preserve the order
// of its own calls; Close must be safe to call more than once.
type Conn interface {
	Send(payload []byte) error
	Close()
}

type key struct {
	ownerID  string
	deviceID string
}

type Hub struct {
	mu    sync.Mutex
	conns map[key]Conn
}

func New() *Hub {
	return &Hub{conns: make(map[key]Conn)}
}

// Register makes c the single live connection for (owner, device), closing any
// prior one. The drain callback supplies queued envelopes; they are pushed to
// c while the directory lock is held, so a concurrent Send for the same key
// cannot slip live traffic in ahead of the backlog.
func (h *Hub) Register(ownerID, deviceID string, c Conn, drain func() [][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key{ownerID, deviceID}
	if prev, ok := h.conns[k]; ok {
		prev.Close()
	}
	h.conns[k] = c

	if drain != nil {
		for _, payload := range drain() {
			if err := c.Send(payload); err != nil {
				break
			}
		}
	}
}

// Unregister removes c if it is still the live connection for the key.
// A stale handle, already replaced by a reconnect, is a no-op.
func (h *Hub) Unregister(ownerID, deviceID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key{ownerID, deviceID}
	if cur, ok := h.conns[k]; ok && cur == c {
		delete(h.conns, k)
	}
}

// Drop closes and removes whatever connection holds the key, if any.
// Used when a device is revoked mid-session.
func (h *Hub) Drop(ownerID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key{ownerID, deviceID}
	if cur, ok := h.conns[k]; ok {
		cur.Close()
		delete(h.conns, k)
	}
}

// Send pushes payload to the live connection for the key, reporting whether
// one existed and accepted the write. Failure here is not an error condition;
// the caller falls back to the pending queue.
func (h *Hub) Send(ownerID, deviceID string, payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[key{ownerID, deviceID}]
	if !ok {
		return false
	}
	return c.Send(payload) == nil
}

// Connected reports whether a live connection exists for the key.
func (h *Hub) Connected(ownerID, deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.conns[key{ownerID, deviceID}]
	return ok
}
