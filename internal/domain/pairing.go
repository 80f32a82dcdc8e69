package domain

import "time"

// PairingState is the closed set of states a pairing request can be in.
// It is derived from the nullable timestamps plus ExpiresAt, never stored.
type PairingState string

const (
	PairingUnclaimed PairingState = "unclaimed"
	PairingClaimed   PairingState = "claimed"
	PairingApproved  PairingState = "approved"
	PairingDenied    PairingState = "denied"
	PairingExpired   PairingState = "expired"
)

// PairingRequest is a short-lived, single-use handshake record linking a
// desktop device and a future mobile device. The confirmation code is
// low-entropy and shown on-screen; the one-time token is high-entropy and
// travels only inside the deep link.
type PairingRequest struct {
	ID               string    `gorm:"type:text;primaryKey"`
	OwnerID          string    `gorm:"type:text;not null;index:idx_pairings_owner_created,priority:1"`
	DesktopDeviceID  string    `gorm:"type:text;not null"`
	DesktopPublicKey string    `gorm:"type:text;not null"`
	DesktopLabel     string    `gorm:"type:text"`
	ConfirmationCode string    `gorm:"type:text;not null"`
	OneTimeToken     string    `gorm:"type:text;not null"`
	FailedAttempts   int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null;index:idx_pairings_owner_created,priority:2"`
	ExpiresAt        time.Time `gorm:"not null"`

	MobileDeviceID  *string `gorm:"type:text"`
	MobilePublicKey *string `gorm:"type:text"`
	MobileLabel     *string `gorm:"type:text"`
	MobilePlatform  *string `gorm:"type:text"`

	ClaimedAt  *time.Time
	ApprovedAt *time.Time
	DeniedAt   *time.Time
}

func (PairingRequest) TableName() string { return "pairing_requests" }

// State derives the current state at the given instant. Terminal timestamps
// win over expiry: a request approved before its deadline stays approved.
// A claimed request whose deadline passed without approval is expired.
func (p *PairingRequest) State(now time.Time) PairingState {
	switch {
	case p.ApprovedAt != nil:
		return PairingApproved
	case p.DeniedAt != nil:
		return PairingDenied
	case now.After(p.ExpiresAt):
		return PairingExpired
	case p.ClaimedAt != nil:
		return PairingClaimed
	default:
		return PairingUnclaimed
	}
}
