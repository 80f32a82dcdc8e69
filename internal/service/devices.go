package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devscope-relay/internal/domain"
	"devscope-relay/internal/dto"
	"devscope-relay/internal/store"
)

// ConnDropper lets the registry sever a live connection when its device is
// revoked. Satisfied by *hub.Hub.
type ConnDropper interface {
	Drop(ownerID, deviceID string)
}

type DeviceService struct {
	store   *store.Store
	dropper ConnDropper
	now     func() time.Time
}

func NewDeviceService(st *store.Store, dropper ConnDropper) *DeviceService {
	return &DeviceService{store: st, dropper: dropper, now: time.Now}
}

// List returns the owner's non-revoked devices, most recently seen first.
func (s *DeviceService) List(ctx context.Context, ownerID string) ([]dto.Device, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: ownerId is required", ErrInvalidRequest)
	}
	devices, err := s.store.Devices().ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, dto.DeviceFromDomain(d))
	}
	return out, nil
}

// Revoke soft-deletes a device and drops its live connection. Revoking an
// already-revoked device is a no-op success; the row stays for audit either
// way.
func (s *DeviceService) Revoke(ctx context.Context, ownerID, deviceID string) error {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: ownerId and deviceId are required", ErrInvalidRequest)
	}

	device, err := s.store.Devices().Get(ctx, ownerID, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	if device.Revoked() {
		return nil
	}

	if _, err := s.store.Devices().Revoke(ctx, ownerID, deviceID, s.now().UTC()); err != nil {
		return err
	}
	if s.dropper != nil {
		s.dropper.Drop(ownerID, deviceID)
	}
	return nil
}

// TouchLastSeen refreshes last_seen_at opportunistically on authenticated
// activity. Failures are the caller's to ignore; presence is best-effort.
func (s *DeviceService) TouchLastSeen(ctx context.Context, ownerID, deviceID string) error {
	return s.store.Devices().TouchLastSeen(ctx, ownerID, deviceID, s.now().UTC())
}

// EnsureRegistered upserts a minimal device row on first authenticated
// connect. The desktop side of a pairing is not registered by the approve
// flow, so its first stream connect creates the row that presence and
// lastSeen bookkeeping hang off. A revoked device is refused rather than
// resurrected.
func (s *DeviceService) EnsureRegistered(ctx context.Context, ownerID, deviceID string) (*domain.Device, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: ownerId and deviceId are required", ErrInvalidRequest)
	}

	now := s.now().UTC()
	device, err := s.store.Devices().Get(ctx, ownerID, deviceID)
	switch {
	case err == nil:
		if device.Revoked() {
			return nil, domain.ErrDeviceRevoked
		}
		if err := s.store.Devices().TouchLastSeen(ctx, ownerID, deviceID, now); err != nil {
			return nil, err
		}
		device.LastSeenAt = now
		return device, nil
	case errors.Is(err, store.ErrRecordNotFound):
		created := domain.Device{
			ID:         deviceID,
			OwnerID:    ownerID,
			Label:      deviceID,
			Platform:   domain.PlatformUnknown,
			LinkedAt:   now,
			LastSeenAt: now,
		}
		if err := s.store.Devices().Upsert(ctx, &created); err != nil {
			return nil, err
		}
		return &created, nil
	default:
		return nil, err
	}
}
