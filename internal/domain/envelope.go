package domain

import "time"

// Envelope is an end-to-end-encrypted message in transit. The relay reads
// only the routing fields; Nonce/Ciphertext/AuthTag are opaque and must never
// be parsed or logged beyond their sizes.
type Envelope struct {
	V            int       `json:"v"`
	OwnerID      string    `json:"ownerId"`
	ThreadID     string    `json:"threadId,omitempty"`
	FromDeviceID string    `json:"fromDeviceId"`
	ToDeviceID   string    `json:"toDeviceId"`
	Nonce        string    `json:"nonce"`
	Ciphertext   string    `json:"ciphertext"`
	AuthTag      string    `json:"authTag"`
	SentAt       time.Time `json:"sentAt"`
}
