package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Platform is the closed set of client platforms a device may report.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps free-form client input onto the closed set. Anything
// unrecognized collapses to PlatformUnknown rather than failing registration.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformIOS:
		return PlatformIOS
	case PlatformAndroid:
		return PlatformAndroid
	case PlatformWeb:
		return PlatformWeb
	case PlatformDesktop:
		return PlatformDesktop
	default:
		return PlatformUnknown
	}
}

// Device is one paired client instance. Rows are immutable except for
// LastSeenAt and RevokedAt; a revoked row is retained for audit.
type Device struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	OwnerID     string     `gorm:"type:text;primaryKey;index:idx_devices_owner_seen,priority:1" json:"ownerId"`
	Label       string     `gorm:"type:text;not null" json:"label"`
	Platform    Platform   `gorm:"type:text;not null" json:"platform"`
	PublicKey   string     `gorm:"type:text;not null" json:"publicKey"`
	Fingerprint string     `gorm:"type:text;not null" json:"fingerprint"`
	LinkedAt    time.Time  `gorm:"not null" json:"linkedAt"`
	LastSeenAt  time.Time  `gorm:"not null;index:idx_devices_owner_seen,priority:2" json:"lastSeenAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

func (Device) TableName() string { return "devices" }

func (d *Device) Revoked() bool { return d.RevokedAt != nil }

// KeyFingerprint derives the short human-comparable display value for a
// public key: the first 16 hex chars of its SHA-256, in groups of four.
func KeyFingerprint(publicKey string) string {
	sum := sha256.Sum256([]byte(publicKey))
	h := hex.EncodeToString(sum[:])
	return strings.Join([]string{h[0:4], h[4:8], h[8:12], h[12:16]}, ":")
}
