package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"devscope-relay/internal/domain"
	"devscope-relay/internal/pending"
	"devscope-relay/internal/store"
)

// LiveDirectory is the slice of the connection hub the relay needs.
// Satisfied by *hub.Hub.
type LiveDirectory interface {
	Send(ownerID, deviceID string, payload []byte) bool
}

// RelayService accepts envelopes from authorized devices and forwards them
// blind: routing fields are read, ciphertext/nonce/authTag never are.
type RelayService struct {
	store *store.Store
	live  LiveDirectory
	queue pending.Queue
	now   func() time.Time
}

func NewRelayService(st *store.Store, live LiveDirectory, queue pending.Queue) *RelayService {
	return &RelayService{store: st, live: live, queue: queue, now: time.Now}
}

// PublishResult reports how an envelope left the relay. Delivered is what the
// sender sees; Dropped feeds metrics when a full queue evicted old envelopes.
type PublishResult struct {
	Delivered int
	Dropped   int
}

// Publish validates and routes one envelope: immediate push when the
// recipient is connected, bounded pending queue otherwise. The sender must be
// a known, non-revoked device of the owner; a revoked device cannot inject
// traffic and nothing of its envelope is queued.
func (s *RelayService) Publish(ctx context.Context, env domain.Envelope) (PublishResult, error) {
	if strings.TrimSpace(env.OwnerID) == "" {
		return PublishResult{}, fmt.Errorf("%w: ownerId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(env.FromDeviceID) == "" {
		return PublishResult{}, fmt.Errorf("%w: fromDeviceId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(env.ToDeviceID) == "" {
		return PublishResult{}, fmt.Errorf("%w: toDeviceId is required", ErrInvalidRequest)
	}
	if env.Ciphertext == "" {
		return PublishResult{}, fmt.Errorf("%w: ciphertext is required", ErrInvalidRequest)
	}

	sender, err := s.store.Devices().Get(ctx, env.OwnerID, env.FromDeviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return PublishResult{}, domain.ErrUnknownDevice
		}
		return PublishResult{}, err
	}
	if sender.Revoked() {
		return PublishResult{}, domain.ErrDeviceRevoked
	}

	now := s.now().UTC()
	// Presence bookkeeping rides along on publish; losing it is harmless.
	_ = s.store.Devices().TouchLastSeen(ctx, env.OwnerID, env.FromDeviceID, now)

	if env.V == 0 {
		env.V = 1
	}
	if env.SentAt.IsZero() {
		env.SentAt = now
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return PublishResult{}, err
	}

	if s.live.Send(env.OwnerID, env.ToDeviceID, payload) {
		return PublishResult{Delivered: 1}, nil
	}

	dropped, err := s.queue.Append(ctx, env.OwnerID, env.ToDeviceID, payload)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Delivered: 0, Dropped: dropped}, nil
}
