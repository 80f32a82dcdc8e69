package dto

import (
	"time"

	"devscope-relay/internal/domain"
)

type Device struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Label       string     `json:"label"`
	Platform    string     `json:"platform"`
	PublicKey   string     `json:"publicKey"`
	Fingerprint string     `json:"fingerprint"`
	LinkedAt    time.Time  `json:"linkedAt"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

func DeviceFromDomain(d domain.Device) Device {
	return Device{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Label:       d.Label,
		Platform:    string(d.Platform),
		PublicKey:   d.PublicKey,
		Fingerprint: d.Fingerprint,
		LinkedAt:    d.LinkedAt,
		LastSeenAt:  d.LastSeenAt,
		RevokedAt:   d.RevokedAt,
	}
}

type RevokeDeviceResponse struct {
	OK bool `json:"ok"`
}
