package store

import (
	"context"
	"errors"
	"time"

	"devscope-relay/internal/domain"

	"gorm.io/gorm"
)

type PairingStore struct{ db *gorm.DB }

func (s *Store) Pairings() *PairingStore { return &PairingStore{db: s.DB} }

func (p *PairingStore) Create(ctx context.Context, req *domain.PairingRequest) error {
	return p.db.WithContext(ctx).Create(req).Error
}

func (p *PairingStore) Get(ctx context.Context, id string) (*domain.PairingRequest, error) {
	var req domain.PairingRequest
	if err := p.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Claim performs the single hard concurrency-critical write in the system:
// a conditional update that transitions claimed_at from NULL exactly once,
// enforced by the storage engine rather than any in-process lock so it holds
// across multiple relay instances. Returns false when another caller won.
func (p *PairingStore) Claim(ctx context.Context, id, mobileDeviceID, mobilePublicKey, mobileLabel string, platform domain.Platform, at time.Time) (bool, error) {
	tx := p.db.WithContext(ctx).
		Model(&domain.PairingRequest{}).
		Where("id = ? AND claimed_at IS NULL AND approved_at IS NULL AND denied_at IS NULL", id).
		Updates(map[string]any{
			"mobile_device_id":  mobileDeviceID,
			"mobile_public_key": mobilePublicKey,
			"mobile_label":      mobileLabel,
			"mobile_platform":   string(platform),
			"claimed_at":        at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// Approve marks a claimed, unresolved request approved. Same conditional-write
// discipline as Claim: zero rows means somebody else resolved it first.
func (p *PairingStore) Approve(ctx context.Context, id string, at time.Time) (bool, error) {
	tx := p.db.WithContext(ctx).
		Model(&domain.PairingRequest{}).
		Where("id = ? AND claimed_at IS NOT NULL AND approved_at IS NULL AND denied_at IS NULL", id).
		Update("approved_at", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (p *PairingStore) Deny(ctx context.Context, id string, at time.Time) (bool, error) {
	tx := p.db.WithContext(ctx).
		Model(&domain.PairingRequest{}).
		Where("id = ? AND claimed_at IS NOT NULL AND approved_at IS NULL AND denied_at IS NULL", id).
		Update("denied_at", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// RecordFailedAttempt bumps the guess counter for a pairing. The increment is
// done in SQL so concurrent bad guesses are not lost updates.
func (p *PairingStore) RecordFailedAttempt(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).
		Model(&domain.PairingRequest{}).
		Where("id = ?", id).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1")).Error
}

// PurgeExpiredBefore deletes requests whose deadline passed before the cutoff.
// Terminal rows share the same deadline, so a retention-window cutoff covers
// both expired and resolved requests.
func (p *PairingStore) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := p.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&domain.PairingRequest{})
	return tx.RowsAffected, tx.Error
}
