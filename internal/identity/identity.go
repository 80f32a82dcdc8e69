// Package identity proves the relay's authenticity to clients before they
// trust it with pairing material. The signer holds an Ed25519 keypair and
// answers client-chosen nonces with a compact JWS the client can verify
// against the relay fingerprint it obtained out of band.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"devscope-relay/internal/dto"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ServiceName     = "devscope-relay"
	ProtocolVersion = 1
	Algorithm       = "EdDSA"
)

var ErrEmptyNonce = errors.New("identity: nonce must not be empty")

type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	now     func() time.Time
}

// NewFromBase64 creates a signer from base64-encoded ed25519 private key
// bytes. An empty value generates an ephemeral key, good for local dev but
// useless for fingerprint pinning across restarts.
func NewFromBase64(privB64 string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		_, priv, _ = ed25519.GenerateKey(rand.Reader)
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("identity: invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	return &Signer{
		private: priv,
		public:  priv.Public().(ed25519.PublicKey),
		now:     time.Now,
	}, nil
}

// Challenge signs the client-supplied nonce. The signature is a compact JWS
// over {nonce, iss, iat} so the client gets a self-describing proof rather
// than a bare signature it has to frame itself.
func (s *Signer) Challenge(nonce string) (dto.ChallengeResponse, error) {
	if strings.TrimSpace(nonce) == "" {
		return dto.ChallengeResponse{}, ErrEmptyNonce
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"nonce": nonce,
		"iss":   ServiceName,
		"iat":   s.now().Unix(),
	})
	signed, err := t.SignedString(s.private)
	if err != nil {
		return dto.ChallengeResponse{}, err
	}
	return dto.ChallengeResponse{
		Signature:   signed,
		Fingerprint: s.Fingerprint(),
		Algorithm:   Algorithm,
	}, nil
}

// Fingerprint renders the public key as a short colon-grouped digest for
// display next to an out-of-band value.
func (s *Signer) Fingerprint() string {
	sum := sha256.Sum256(s.public)
	h := hex.EncodeToString(sum[:])
	return strings.Join([]string{h[0:4], h[4:8], h[8:12], h[12:16]}, ":")
}

// PublicKey exposes the verification key, used by tests and by clients that
// fetch it over a trusted channel.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

func (s *Signer) Descriptor() dto.IdentityResponse {
	return dto.IdentityResponse{
		Service:         ServiceName,
		ProtocolVersion: ProtocolVersion,
		RelayKind:       "blind",
		RequiresE2EE:    true,
		Fingerprint:     s.Fingerprint(),
		Capabilities:    []string{"pairing", "envelopes", "stream"},
	}
}
