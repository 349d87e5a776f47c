package samAuth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/samAuth/internal/rate"
	"github.com/MrEthical07/samAuth/password"
)

type mockPrincipalProvider struct {
	mu         sync.Mutex
	principals map[string]Principal
	onboarding map[string]map[int]map[string]string
	createErr  error
	updateErr  error

	createCalls         int
	updatePasswordCalls int
	setEnabledCalls     int
	setStatusCalls      int
	setStepCalls        int
	setSecretCalls      int
	setMFAEnabledCalls  int
	saveOnboardingCalls int
}

func newMockPrincipalProvider() *mockPrincipalProvider {
	return &mockPrincipalProvider{
		principals: make(map[string]Principal),
		onboarding: make(map[string]map[int]map[string]string),
	}
}

func (m *mockPrincipalProvider) add(p Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[p.ID] = p
}

func (m *mockPrincipalProvider) get(id string) Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principals[id]
}

func (m *mockPrincipalProvider) GetByID(ctx context.Context, id string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (m *mockPrincipalProvider) GetByUsername(ctx context.Context, username string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.principals {
		if p.Username == username {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *mockPrincipalProvider) GetByEmail(ctx context.Context, email string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.principals {
		if p.Email == email {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *mockPrincipalProvider) Create(ctx context.Context, input CreatePrincipalInput) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return Principal{}, m.createErr
	}

	for _, existing := range m.principals {
		if existing.Username == input.Username || existing.Email == input.Email {
			return Principal{}, ErrAccountExists
		}
	}

	p := Principal{
		ID:               fmt.Sprintf("u%d", len(m.principals)+1),
		Username:         input.Username,
		Email:            input.Email,
		DisplayName:      input.DisplayName,
		SchoolID:         input.SchoolID,
		PasswordHash:     input.PasswordHash,
		Enabled:          input.Enabled,
		Status:           input.Status,
		RegistrationStep: input.RegistrationStep,
		Roles:            append([]string(nil), input.Roles...),
	}
	m.principals[p.ID] = p
	return p, nil
}

func (m *mockPrincipalProvider) UpdatePasswordHash(ctx context.Context, id, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	if m.updateErr != nil {
		return m.updateErr
	}
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = newHash
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setEnabledCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Enabled = enabled
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SetAccountStatus(ctx context.Context, id string, status AccountStatus, timeoutUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	if timeoutUntil != nil {
		t := *timeoutUntil
		p.TimeoutUntil = &t
	} else {
		p.TimeoutUntil = nil
	}
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SetRegistrationStep(ctx context.Context, id string, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStepCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.RegistrationStep = step
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SetMFASecret(ctx context.Context, id string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setSecretCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	if secret == nil {
		p.MFASecret = nil
	} else {
		p.MFASecret = append([]byte(nil), secret...)
	}
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMFAEnabledCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.MFAEnabled = enabled
	m.principals[id] = p
	return nil
}

func (m *mockPrincipalProvider) SaveOnboardingData(ctx context.Context, id string, step int, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveOnboardingCalls++

	if _, ok := m.principals[id]; !ok {
		return ErrNotFound
	}
	if m.onboarding[id] == nil {
		m.onboarding[id] = make(map[int]map[string]string)
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.onboarding[id][step] = copied
	return nil
}

type mockSessionBridge struct {
	mu            sync.Mutex
	invalidated   []string
	refreshed     []Principal
	invalidateErr error
}

func (b *mockSessionBridge) InvalidatePrincipalSessions(ctx context.Context, principalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.invalidateErr != nil {
		return b.invalidateErr
	}
	b.invalidated = append(b.invalidated, principalID)
	return nil
}

func (b *mockSessionBridge) RefreshPrincipalSnapshot(ctx context.Context, principal Principal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshed = append(b.refreshed, principal)
	return nil
}

func (b *mockSessionBridge) invalidatedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.invalidated...)
}

func (b *mockSessionBridge) refreshedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refreshed)
}

type capturedNotification struct {
	Destination string
	Template    string
	Params      map[string]string
}

// channelNotifier pushes deliveries to a channel so tests can wait for the
// async dispatcher without sleeping.
type channelNotifier struct {
	ch chan capturedNotification
}

func newChannelNotifier() *channelNotifier {
	return &channelNotifier{ch: make(chan capturedNotification, 16)}
}

func (n *channelNotifier) Send(ctx context.Context, destination, template string, params map[string]string) error {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	n.ch <- capturedNotification{Destination: destination, Template: template, Params: copied}
	return nil
}

func (n *channelNotifier) wait(t *testing.T) capturedNotification {
	t.Helper()

	select {
	case captured := <-n.ch:
		return captured
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification delivery")
		return capturedNotification{}
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func newTestEngine(t *testing.T, rdb *redis.Client, pp PrincipalProvider, hasher *password.Argon2) *Engine {
	t.Helper()

	cfg := defaultConfig()
	return &Engine{
		config:         cfg,
		principals:     pp,
		passwordHash:   hasher,
		totp:           newTOTPManager(cfg.TOTP),
		metrics:        NewMetrics(MetricsConfig{Enabled: true}),
		challengeStore: newMFAChallengeStore(rdb),
		secretStore:    newPendingSecretStore(rdb),
		resetStore:     newResetTokenStore(rdb),
		deviceStore:    newTrustedDeviceStore(rdb),
		sequence:       newIDSequence(rdb, cfg.Registration),
		rateLimiter: rate.New(rdb, rate.Config{
			EnableIPThrottle:      false,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		}),
	}
}
