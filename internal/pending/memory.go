package pending

import (
	"context"
	"sync"
)

const DefaultMaxPerDevice = 256

type key struct {
	ownerID  string
	deviceID string
}

// MemoryQueue is the default single-instance backend. State is lost on
// restart, which matches the connection directory's lifecycle.
type MemoryQueue struct {
	mu     sync.Mutex
	max    int
	queues map[key][][]byte
}

func NewMemoryQueue(maxPerDevice int) *MemoryQueue {
	if maxPerDevice <= 0 {
		maxPerDevice = DefaultMaxPerDevice
	}
	return &MemoryQueue{
		max:    maxPerDevice,
		queues: make(map[key][][]byte),
	}
}

func (q *MemoryQueue) Append(_ context.Context, ownerID, deviceID string, payload []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{ownerID, deviceID}
	queue := q.queues[k]

	dropped := 0
	for len(queue) >= q.max {
		queue = queue[1:]
		dropped++
	}
	q.queues[k] = append(queue, payload)
	return dropped, nil
}

func (q *MemoryQueue) Drain(_ context.Context, ownerID, deviceID string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{ownerID, deviceID}
	queue := q.queues[k]
	delete(q.queues, k)
	return queue, nil
}
