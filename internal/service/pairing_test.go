package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"devscope-relay/internal/domain"
	"devscope-relay/internal/dto"
	"devscope-relay/internal/service"
	"devscope-relay/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// A single connection keeps sqlite's shared-cache locking out of the
	// concurrency tests; the claim contention under test lives in the
	// conditional UPDATE, not in the driver.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func createPairing(t *testing.T, svc *service.PairingService) dto.CreatePairingResponse {
	t.Helper()

	res, err := svc.CreatePairing(context.Background(), dto.CreatePairingRequest{
		OwnerID:          "o1",
		DesktopDeviceID:  "d1",
		DesktopPublicKey: "desktop-pub",
		DesktopLabel:     "Work laptop",
	})
	if err != nil {
		t.Fatalf("create pairing: %v", err)
	}
	return res
}

func TestCreatePairingShape(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)

	res := createPairing(t, svc)

	if res.PairingID == "" || res.OneTimeToken == "" {
		t.Fatalf("missing pairing id or token: %+v", res)
	}
	if len(res.ConfirmationCode) != 6 {
		t.Fatalf("expected 6-digit code, got %q", res.ConfirmationCode)
	}
	for _, c := range res.ConfirmationCode {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in code %q", res.ConfirmationCode)
		}
	}
	if strings.Contains(res.QRPayload, res.ConfirmationCode) {
		t.Fatalf("confirmation code leaked into QR payload %q", res.QRPayload)
	}
	if !strings.Contains(res.QRPayload, res.PairingID) {
		t.Fatalf("QR payload missing pairing id: %q", res.QRPayload)
	}
}

func TestCreatePairingValidation(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)

	_, err := svc.CreatePairing(context.Background(), dto.CreatePairingRequest{
		DesktopDeviceID:  "d1",
		DesktopPublicKey: "pk",
	})
	if !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for missing ownerId, got %v", err)
	}
}

func TestClaimApproveRoundTrip(t *testing.T) {
	st := setupStore(t)
	pairings := service.NewPairingService(st, 5*time.Minute)
	devices := service.NewDeviceService(st, nil)

	res := createPairing(t, pairings)

	claim, err := pairings.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "mobile-pub",
		MobileLabel:      "Phone",
		MobilePlatform:   "ios",
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.OwnerID != "o1" {
		t.Fatalf("expected owner o1, got %q", claim.OwnerID)
	}
	if claim.ClaimedAt.IsZero() {
		t.Fatalf("claimedAt not set")
	}

	approve, err := pairings.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID,
		OwnerID:   "o1",
		Approved:  true,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approve.Device == nil {
		t.Fatalf("approve returned no device")
	}
	if approve.Device.Fingerprint == "" {
		t.Fatalf("device fingerprint not derived")
	}

	listed, err := devices.List(context.Background(), "o1")
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 device, got %d", len(listed))
	}
	if listed[0].ID != "m1" || listed[0].Platform != "ios" {
		t.Fatalf("unexpected device: %+v", listed[0])
	}
	if listed[0].RevokedAt != nil {
		t.Fatalf("fresh device already revoked")
	}
}

func TestClaimTokenCheckedBeforeCode(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	// Both credentials wrong: the token error must win.
	_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     "wrong-token",
		ConfirmationCode: "000000",
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected token mismatch, got %v", err)
	}

	// Correct token, wrong code.
	_, err = svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: "000000",
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrCodeMismatch) {
		t.Fatalf("expected code mismatch, got %v", err)
	}
}

func TestClaimExpiredBeatsCorrectCredentials(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	svc.SetNow(func() time.Time { return time.Now().Add(10 * time.Minute) })

	_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrPairingExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestClaimExactlyOnceUnderContention(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	const n = 8
	var wins, conflicts int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
				PairingID:        res.PairingID,
				OneTimeToken:     res.OneTimeToken,
				ConfirmationCode: res.ConfirmationCode,
				MobileDeviceID:   fmt.Sprintf("m%d", i),
				MobilePublicKey:  "pk",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, domain.ErrAlreadyClaimed):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", wins)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
	}
}

func TestClaimAttemptCap(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	for i := 0; i < service.MaxClaimAttempts; i++ {
		_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
			PairingID:        res.PairingID,
			OneTimeToken:     res.OneTimeToken,
			ConfirmationCode: "999999",
			MobileDeviceID:   "m1",
			MobilePublicKey:  "pk",
		})
		if !errors.Is(err, domain.ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected code mismatch, got %v", i, err)
		}
	}

	// Even the right credentials are refused once the cap is hit.
	_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("expected attempt cap, got %v", err)
	}
}

func TestClaimUnknownPairing(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)

	_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        uuid.NewString(),
		OneTimeToken:     "tok",
		ConfirmationCode: "123456",
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApproveStateMachine(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	// Approving before any claim is a conflict, not a success.
	_, err := svc.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "o1", Approved: true,
	})
	if !errors.Is(err, domain.ErrNotClaimed) {
		t.Fatalf("expected not claimed, got %v", err)
	}

	if _, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A foreign owner sees the same thing as an unknown pairing.
	_, err = svc.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "other", Approved: true,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}

	if _, err := svc.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "o1", Approved: true,
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Terminal requests reject a second resolution either way.
	_, err = svc.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "o1", Approved: false,
	})
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected already resolved, got %v", err)
	}
}

func TestDenyRegistersNothing(t *testing.T) {
	st := setupStore(t)
	pairings := service.NewPairingService(st, 5*time.Minute)
	devices := service.NewDeviceService(st, nil)
	res := createPairing(t, pairings)

	if _, err := pairings.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	out, err := pairings.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "o1", Approved: false,
	})
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if out.Approved || out.Device != nil {
		t.Fatalf("deny must not return a device: %+v", out)
	}

	listed, err := devices.List(context.Background(), "o1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("denied pairing registered a device: %+v", listed)
	}
}

func TestClaimedPairingExpiresWithoutApproval(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	if _, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     res.OneTimeToken,
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	svc.SetNow(func() time.Time { return time.Now().Add(10 * time.Minute) })

	_, err := svc.ApprovePairing(context.Background(), dto.ApprovePairingRequest{
		PairingID: res.PairingID, OwnerID: "o1", Approved: true,
	})
	if !errors.Is(err, domain.ErrPairingExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	createPairing(t, svc)

	svc.SetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })

	purged, err := svc.PurgeExpired(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}
}

func TestClaimFailedAttemptWriteFailureIsLogged(t *testing.T) {
	st := setupStore(t)
	svc := service.NewPairingService(st, 5*time.Minute)
	res := createPairing(t, svc)

	// Make the single connection read-only: Get still works, the counter
	// update fails.
	if err := st.DB.Exec("PRAGMA query_only = ON").Error; err != nil {
		t.Fatalf("set query_only: %v", err)
	}

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	_, err := svc.ClaimPairing(context.Background(), dto.ClaimPairingRequest{
		PairingID:        res.PairingID,
		OneTimeToken:     "wrong",
		ConfirmationCode: res.ConfirmationCode,
		MobileDeviceID:   "m1",
		MobilePublicKey:  "pk",
	})
	if !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected token mismatch, got %v", err)
	}
	if !strings.Contains(buf.String(), "failed claim attempt not recorded") {
		t.Fatalf("expected counter write failure in log, got %q", buf.String())
	}
}
