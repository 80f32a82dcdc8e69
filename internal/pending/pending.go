// Package pending holds envelopes for devices that are not currently
// connected. Queues are bounded FIFO per (owner, device); when one fills up
// the oldest entry is dropped. Append and Drain report drops so callers can
// account for them without the queue knowing anything about metrics.
package pending

import "context"

type Queue interface {
	// Append adds payload to the back of the key's queue and returns how many
	// old entries were evicted to make room.
	Append(ctx context.Context, ownerID, deviceID string, payload []byte) (dropped int, err error)

	// Drain atomically removes and returns the key's queue in FIFO order.
	Drain(ctx context.Context, ownerID, deviceID string) ([][]byte, error)
}
