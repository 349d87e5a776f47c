package samAuth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/samAuth/password"
)

func seedStudent(t *testing.T, pp *mockPrincipalProvider, hasher *password.Argon2, id string, step int) Principal {
	t.Helper()

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	p := Principal{
		ID:               id,
		Username:         "alice",
		Email:            "alice@example.com",
		DisplayName:      "Alice",
		SchoolID:         "22-1-02001",
		PasswordHash:     hash,
		Enabled:          true,
		Status:           StatusActive,
		RegistrationStep: step,
		Roles:            []string{RoleStudent},
	}
	pp.add(p)
	return p
}

func TestAuthenticateSuccessNoMFA(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.State != StateFullyAuthenticated {
		t.Fatalf("expected fully authenticated, got %v", result.State)
	}
	if result.Destination.Route != RouteStudentDashboard {
		t.Fatalf("expected student dashboard, got %v", result.Destination.Route)
	}
}

func TestAuthenticateUnknownUserAndWrongPasswordMerge(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	_, err := engine.Authenticate(ctx, "nobody", "whatever-pass", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	_, err = engine.Authenticate(ctx, "alice", "wrong-password", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestAuthenticateUnverifiedAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepInitial)
	p.Enabled = false
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	_, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestAuthenticateBlockedAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)
	p.Status = StatusBlocked
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	_, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("expected ErrAccountBlocked, got %v", err)
	}
}

func TestAuthenticateTimedOutReportsCeilMinutes(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)
	until := time.Now().Add(90 * time.Second)
	p.Status = StatusTimedOut
	p.TimeoutUntil = &until
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	_, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if !errors.Is(err, ErrAccountTimedOut) {
		t.Fatalf("expected ErrAccountTimedOut, got %v", err)
	}

	var timedOut *AccountTimedOutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected AccountTimedOutError, got %T", err)
	}
	if got := timedOut.RemainingMinutes(); got != 2 {
		t.Fatalf("expected 2 remaining minutes for 90s, got %d", got)
	}
}

func TestAuthenticateLapsedTimeoutReactivates(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	p := seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)
	until := time.Now().Add(-time.Minute)
	p.Status = StatusTimedOut
	p.TimeoutUntil = &until
	pp.add(p)

	engine := newTestEngine(t, rdb, pp, hasher)

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("expected lapsed timeout to allow login, got %v", err)
	}
	if result.State != StateFullyAuthenticated {
		t.Fatalf("expected fully authenticated, got %v", result.State)
	}

	stored := pp.get("u1")
	if stored.Status != StatusActive {
		t.Fatalf("expected lapsed timeout persisted as active, got %v", stored.Status)
	}
	if stored.TimeoutUntil != nil {
		t.Fatal("expected timeout deadline cleared")
	}
}

func TestAuthenticateRateLimited(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	if err := rdb.Set(ctx, "rl:login:u:alice", "6", time.Hour).Err(); err != nil {
		t.Fatalf("seed limiter failed: %v", err)
	}

	_, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}
}

func TestAuthenticateFailuresEventuallyRateLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", RegistrationStepComplete)

	engine := newTestEngine(t, rdb, pp, hasher)

	var err error
	for i := 0; i < 10; i++ {
		_, err = engine.Authenticate(ctx, "alice", "wrong-password", "")
		if errors.Is(err, ErrLoginRateLimited) {
			return
		}
	}
	t.Fatalf("expected repeated failures to rate limit, last err %v", err)
}

func TestAuthenticateMFARequiresChallenge(t *testing.T) {
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

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.State != StatePendingMFA {
		t.Fatalf("expected pending MFA, got %v", result.State)
	}
	if result.ChallengeID == "" {
		t.Fatal("expected a challenge id")
	}

	challenge, err := engine.challengeStore.Get(ctx, result.ChallengeID)
	if err != nil {
		t.Fatalf("challenge lookup failed: %v", err)
	}
	if challenge.PrincipalID != "u1" {
		t.Fatalf("challenge bound to wrong principal: %s", challenge.PrincipalID)
	}
}

func TestAuthenticateTrustedDeviceBypassesMFA(t *testing.T) {
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
	if err := engine.deviceStore.Save(ctx, "device-token-1", record, time.Hour); err != nil {
		t.Fatalf("device save failed: %v", err)
	}

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "device-token-1")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.State != StateFullyAuthenticated {
		t.Fatalf("expected trusted device to bypass MFA, got %v", result.State)
	}
}

func TestAuthenticateForeignDeviceTokenStillChallenges(t *testing.T) {
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

	record := &trustedDevice{PrincipalID: "someone-else", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	if err := engine.deviceStore.Save(ctx, "stolen-token", record, time.Hour); err != nil {
		t.Fatalf("device save failed: %v", err)
	}

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "stolen-token")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.State != StatePendingMFA {
		t.Fatalf("expected foreign token to still require MFA, got %v", result.State)
	}
}

func TestAuthenticateOnboardingDestination(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	hasher := newTestHasher(t)
	pp := newMockPrincipalProvider()
	seedStudent(t, pp, hasher, "u1", 3)

	engine := newTestEngine(t, rdb, pp, hasher)

	result, err := engine.Authenticate(ctx, "alice", "correct-password", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.Destination.Route != RouteOnboardingStep || result.Destination.Step != 3 {
		t.Fatalf("expected onboarding step 3, got %+v", result.Destination)
	}
}

func TestDestinationRolePriority(t *testing.T) {
	engine := &Engine{}

	p := Principal{
		Roles:            []string{RoleStudent, RoleTeacher, RoleDepartment},
		RegistrationStep: 2,
	}
	if d := engine.destinationFor(p); d.Route != RouteDepartmentDashboard {
		t.Fatalf("expected department dashboard, got %v", d.Route)
	}

	p.Roles = []string{RoleStudent, RoleTeacher}
	if d := engine.destinationFor(p); d.Route != RouteTeacherDashboard {
		t.Fatalf("expected teacher dashboard, got %v", d.Route)
	}
}
