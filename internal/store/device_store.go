package store

import (
	"context"
	"errors"
	"time"

	"devscope-relay/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

// Upsert inserts a device or, if the (owner, id) pair already exists,
// overwrites its descriptive fields. A placeholder row created by a stream
// connect gets filled in when the pairing that registers the device resolves.
// linked_at and revoked_at are never touched on conflict.
func (d *DeviceStore) Upsert(ctx context.Context, device *domain.Device) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}, {Name: "owner_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"label":        device.Label,
				"platform":     device.Platform,
				"public_key":   device.PublicKey,
				"fingerprint":  device.Fingerprint,
				"last_seen_at": device.LastSeenAt,
			}),
		}).
		Create(device).Error
}

func (d *DeviceStore) Get(ctx context.Context, ownerID, id string) (*domain.Device, error) {
	var device domain.Device
	err := d.db.WithContext(ctx).
		First(&device, "owner_id = ? AND id = ?", ownerID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &device, nil
}

// ListActive returns the owner's non-revoked devices, most recently seen first.
func (d *DeviceStore) ListActive(ctx context.Context, ownerID string) ([]domain.Device, error) {
	var devices []domain.Device
	err := d.db.WithContext(ctx).
		Where("owner_id = ? AND revoked_at IS NULL", ownerID).
		Order("last_seen_at desc").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Revoke sets revoked_at once. Returns the number of rows transitioned so the
// caller can tell a fresh revoke from a repeat.
func (d *DeviceStore) Revoke(ctx context.Context, ownerID, id string, at time.Time) (int64, error) {
	tx := d.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("owner_id = ? AND id = ? AND revoked_at IS NULL", ownerID, id).
		Update("revoked_at", at)
	return tx.RowsAffected, tx.Error
}

func (d *DeviceStore) TouchLastSeen(ctx context.Context, ownerID, id string, at time.Time) error {
	return d.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("owner_id = ? AND id = ?", ownerID, id).
		Update("last_seen_at", at).Error
}
