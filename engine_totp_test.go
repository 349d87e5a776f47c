package samAuth

import (
	"context"
	"encoding/base32"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBeginTOTPEnrollmentStoresUnconfirmedSecret(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	setup, err := engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if setup.SecretBase32 == "" {
		t.Fatal("expected a secret")
	}
	if !strings.HasPrefix(setup.QRCodeURL, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %s", setup.QRCodeURL)
	}
	if !strings.Contains(setup.QRCodeURL, "issuer=SAM-App") {
		t.Fatalf("expected issuer in URI: %s", setup.QRCodeURL)
	}

	stored := pp.get("u1")
	if len(stored.MFASecret) == 0 {
		t.Fatal("expected secret persisted")
	}
	if stored.MFAEnabled {
		t.Fatal("enrollment must stay unconfirmed until a code verifies")
	}
}

func TestBeginTOTPEnrollmentReplacesUnconfirmedSecret(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	first, err := engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}
	second, err := engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("second enrollment failed: %v", err)
	}
	if first.SecretBase32 == second.SecretBase32 {
		t.Fatal("expected re-enrollment to mint a fresh secret")
	}
}

func TestBeginTOTPEnrollmentAlreadyEnabled(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)
	p.MFAEnabled = true
	p.MFASecret = []byte("12345678901234567890")
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	_, err := engine.BeginTOTPEnrollment(context.Background(), "u1")
	if !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestConfirmTOTPEnrollment(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	setup, err := engine.BeginTOTPEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(setup.SecretBase32)
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}

	if err := engine.ConfirmTOTPEnrollment(ctx, "u1", currentCode(t, engine, secret)); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}

	stored := pp.get("u1")
	if !stored.MFAEnabled {
		t.Fatal("expected MFA enabled after confirmation")
	}
}

func TestConfirmTOTPEnrollmentWrongCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	if _, err := engine.BeginTOTPEnrollment(ctx, "u1"); err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}

	err := engine.ConfirmTOTPEnrollment(ctx, "u1", "000000")
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}

	if pp.get("u1").MFAEnabled {
		t.Fatal("wrong code must not enable MFA")
	}
}

func TestConfirmTOTPEnrollmentWithoutSecret(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	err := engine.ConfirmTOTPEnrollment(context.Background(), "u1", "123456")
	if !errors.Is(err, ErrMFANotEnrolled) {
		t.Fatalf("expected ErrMFANotEnrolled, got %v", err)
	}
}

func TestDisableMFAClearsSecretAndDevices(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)
	p.MFAEnabled = true
	p.MFASecret = []byte("12345678901234567890")
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	record := &trustedDevice{PrincipalID: "u1", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := engine.deviceStore.Save(ctx, "tok-1", record, time.Hour); err != nil {
		t.Fatalf("device save failed: %v", err)
	}

	if err := engine.DisableMFA(ctx, "u1"); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	stored := pp.get("u1")
	if stored.MFAEnabled {
		t.Fatal("expected MFA disabled")
	}
	if len(stored.MFASecret) != 0 {
		t.Fatal("expected secret cleared")
	}

	trusted, err := engine.deviceStore.IsTrusted(ctx, "u1", "tok-1")
	if err != nil || trusted {
		t.Fatalf("expected devices revoked, trusted=%v err=%v", trusted, err)
	}
}
