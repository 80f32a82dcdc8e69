package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"devscope-relay/internal/domain"
	"devscope-relay/internal/dto"
	"devscope-relay/internal/pairlink"
	"devscope-relay/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultPairingTTL = 5 * time.Minute

	// MaxClaimAttempts caps confirmation-code guesses per pairing. The
	// one-time token already gates possession of the link, but a 6-digit
	// code alone is brute-forceable without a cap.
	MaxClaimAttempts = 5
)

// PairingService drives the pairing handshake state machine. Expiry is
// evaluated lazily on every touch; no transition depends on a background
// sweep being alive.
type PairingService struct {
	store       *store.Store
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewPairingService(st *store.Store, ttl time.Duration) *PairingService {
	if ttl <= 0 {
		ttl = DefaultPairingTTL
	}
	return &PairingService{
		store:       st,
		ttl:         ttl,
		maxAttempts: MaxClaimAttempts,
		now:         time.Now,
	}
}

// CreatePairing opens a handshake for a desktop device. The response carries
// the one-time token twice: bare, and embedded in the QR deep link. The
// confirmation code is returned for on-screen display only and never enters
// the link.
func (s *PairingService) CreatePairing(ctx context.Context, in dto.CreatePairingRequest) (dto.CreatePairingResponse, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	desktopID := strings.TrimSpace(in.DesktopDeviceID)
	if ownerID == "" {
		return dto.CreatePairingResponse{}, fmt.Errorf("%w: ownerId is required", ErrInvalidRequest)
	}
	if desktopID == "" {
		return dto.CreatePairingResponse{}, fmt.Errorf("%w: desktopDeviceId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(in.DesktopPublicKey) == "" {
		return dto.CreatePairingResponse{}, fmt.Errorf("%w: desktopPublicKey is required", ErrInvalidRequest)
	}

	token, err := generateToken()
	if err != nil {
		return dto.CreatePairingResponse{}, err
	}
	code, err := generateCode()
	if err != nil {
		return dto.CreatePairingResponse{}, err
	}

	now := s.now().UTC()
	req := domain.PairingRequest{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		DesktopDeviceID:  desktopID,
		DesktopPublicKey: in.DesktopPublicKey,
		DesktopLabel:     strings.TrimSpace(in.DesktopLabel),
		ConfirmationCode: code,
		OneTimeToken:     token,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	if err := s.store.Pairings().Create(ctx, &req); err != nil {
		return dto.CreatePairingResponse{}, err
	}

	return dto.CreatePairingResponse{
		PairingID:        req.ID,
		OneTimeToken:     req.OneTimeToken,
		ConfirmationCode: req.ConfirmationCode,
		QRPayload:        pairlink.Build(req.ID, req.OneTimeToken),
		ExpiresAt:        req.ExpiresAt,
	}, nil
}

// ClaimPairing transitions created -> claimed. Checks run in a fixed order:
// existence, expiry, prior claim, attempt cap, token, code, input shape. The
// token is checked before the code because it proves possession of the link;
// a mismatched token must not be reported as a wrong code. The transition
// itself is a storage-level conditional update, so under concurrent claims
// exactly one caller wins.
func (s *PairingService) ClaimPairing(ctx context.Context, in dto.ClaimPairingRequest) (dto.ClaimPairingResponse, error) {
	if strings.TrimSpace(in.PairingID) == "" {
		return dto.ClaimPairingResponse{}, fmt.Errorf("%w: pairingId is required", ErrInvalidRequest)
	}
	mobileID := strings.TrimSpace(in.MobileDeviceID)
	if mobileID == "" {
		return dto.ClaimPairingResponse{}, fmt.Errorf("%w: mobileDeviceId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(in.MobilePublicKey) == "" {
		return dto.ClaimPairingResponse{}, fmt.Errorf("%w: mobilePublicKey is required", ErrInvalidRequest)
	}

	req, err := s.store.Pairings().Get(ctx, in.PairingID)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return dto.ClaimPairingResponse{}, domain.ErrNotFound
		}
		return dto.ClaimPairingResponse{}, err
	}

	now := s.now().UTC()
	switch req.State(now) {
	case domain.PairingExpired:
		return dto.ClaimPairingResponse{}, domain.ErrPairingExpired
	case domain.PairingClaimed, domain.PairingApproved, domain.PairingDenied:
		return dto.ClaimPairingResponse{}, domain.ErrAlreadyClaimed
	}

	if req.FailedAttempts >= s.maxAttempts {
		return dto.ClaimPairingResponse{}, domain.ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(req.OneTimeToken), []byte(in.OneTimeToken)) != 1 {
		s.recordFailedAttempt(ctx, req.ID)
		return dto.ClaimPairingResponse{}, domain.ErrTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(req.ConfirmationCode), []byte(in.ConfirmationCode)) != 1 {
		s.recordFailedAttempt(ctx, req.ID)
		return dto.ClaimPairingResponse{}, domain.ErrCodeMismatch
	}

	claimed, err := s.store.Pairings().Claim(ctx, req.ID,
		mobileID, in.MobilePublicKey, strings.TrimSpace(in.MobileLabel),
		domain.ParsePlatform(in.MobilePlatform), now)
	if err != nil {
		return dto.ClaimPairingResponse{}, err
	}
	if !claimed {
		return dto.ClaimPairingResponse{}, domain.ErrAlreadyClaimed
	}

	return dto.ClaimPairingResponse{OwnerID: req.OwnerID, ClaimedAt: now}, nil
}

// ApprovePairing resolves a claimed request. Approval registers the mobile
// device under the owner inside the same transaction that marks the request
// approved; denial only stamps denied_at. Either way the request is terminal
// afterwards and a repeat call is rejected.
func (s *PairingService) ApprovePairing(ctx context.Context, in dto.ApprovePairingRequest) (dto.ApprovePairingResponse, error) {
	req, err := s.store.Pairings().Get(ctx, in.PairingID)
	if err != nil {
		if err == store.ErrRecordNotFound {
			return dto.ApprovePairingResponse{}, domain.ErrNotFound
		}
		return dto.ApprovePairingResponse{}, err
	}
	// An owner mismatch looks identical to an unknown pairing on purpose.
	if req.OwnerID != in.OwnerID {
		return dto.ApprovePairingResponse{}, domain.ErrNotFound
	}

	now := s.now().UTC()
	switch req.State(now) {
	case domain.PairingUnclaimed:
		return dto.ApprovePairingResponse{}, domain.ErrNotClaimed
	case domain.PairingExpired:
		return dto.ApprovePairingResponse{}, domain.ErrPairingExpired
	case domain.PairingApproved, domain.PairingDenied:
		return dto.ApprovePairingResponse{}, domain.ErrAlreadyResolved
	}

	if !in.Approved {
		denied, err := s.store.Pairings().Deny(ctx, req.ID, now)
		if err != nil {
			return dto.ApprovePairingResponse{}, err
		}
		if !denied {
			return dto.ApprovePairingResponse{}, domain.ErrAlreadyResolved
		}
		return dto.ApprovePairingResponse{Approved: false}, nil
	}

	device := domain.Device{
		ID:          *req.MobileDeviceID,
		OwnerID:     req.OwnerID,
		Label:       derefOr(req.MobileLabel, "Mobile"),
		Platform:    domain.ParsePlatform(derefOr(req.MobilePlatform, "")),
		PublicKey:   *req.MobilePublicKey,
		Fingerprint: domain.KeyFingerprint(*req.MobilePublicKey),
		LinkedAt:    now,
		LastSeenAt:  now,
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		approved, err := tx.Pairings().Approve(ctx, req.ID, now)
		if err != nil {
			return err
		}
		if !approved {
			return domain.ErrAlreadyResolved
		}
		return tx.Devices().Upsert(ctx, &device)
	})
	if err != nil {
		return dto.ApprovePairingResponse{}, err
	}

	out := dto.DeviceFromDomain(device)
	return dto.ApprovePairingResponse{Approved: true, Device: &out}, nil
}

// recordFailedAttempt bumps the guess counter. The mismatch error still goes
// to the caller, but a counter that cannot advance weakens the attempt cap,
// so a write failure is logged rather than swallowed.
func (s *PairingService) recordFailedAttempt(ctx context.Context, id string) {
	if err := s.store.Pairings().RecordFailedAttempt(ctx, id); err != nil {
		slog.Warn("failed claim attempt not recorded", "pairing_id", id, "error", err)
	}
}

// PurgeExpired removes requests whose deadline passed more than retention ago.
// Called from the janitor; correctness never depends on it running.
func (s *PairingService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.Pairings().PurgeExpiredBefore(ctx, s.now().UTC().Add(-retention))
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
