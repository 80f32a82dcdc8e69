package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrPairingExpired  = errors.New("pairing expired")
	ErrAlreadyClaimed  = errors.New("pairing already claimed")
	ErrTokenMismatch   = errors.New("one-time token mismatch")
	ErrCodeMismatch    = errors.New("confirmation code mismatch")
	ErrNotClaimed      = errors.New("pairing not yet claimed")
	ErrAlreadyResolved = errors.New("pairing already resolved")
	ErrTooManyAttempts = errors.New("too many failed claim attempts")
	ErrDeviceRevoked   = errors.New("device revoked")
	ErrUnknownDevice   = errors.New("unknown device")
)
