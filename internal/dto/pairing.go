package dto

import "time"

type CreatePairingRequest struct {
	OwnerID          string `json:"ownerId"`
	DesktopDeviceID  string `json:"desktopDeviceId"`
	DesktopPublicKey string `json:"desktopPublicKey"`
	DesktopLabel     string `json:"desktopLabel,omitempty"`
}

type CreatePairingResponse struct {
	PairingID        string    `json:"pairingId"`
	OneTimeToken     string    `json:"oneTimeToken"`
	ConfirmationCode string    `json:"confirmationCode"`
	QRPayload        string    `json:"qrPayload"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

type ClaimPairingRequest struct {
	PairingID        string `json:"pairingId"`
	OneTimeToken     string `json:"oneTimeToken"`
	ConfirmationCode string `json:"confirmationCode"`
	MobileDeviceID   string `json:"mobileDeviceId"`
	MobilePublicKey  string `json:"mobilePublicKey"`
	MobileLabel      string `json:"mobileLabel,omitempty"`
	MobilePlatform   string `json:"mobilePlatform,omitempty"`
}

type ClaimPairingResponse struct {
	OwnerID   string    `json:"ownerId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type ApprovePairingRequest struct {
	PairingID string `json:"pairingId"`
	OwnerID   string `json:"ownerId"`
	Approved  bool   `json:"approved"`
}

type ApprovePairingResponse struct {
	Approved bool    `json:"approved"`
	Device   *Device `json:"device,omitempty"`
}
