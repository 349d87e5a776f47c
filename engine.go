package samAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/samAuth/internal/rate"
	"github.com/MrEthical07/samAuth/password"
)

// Engine defines a public type used by samAuth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config         Config
	rateLimiter    *rate.Limiter
	challengeStore *mfaChallengeStore
	secretStore    *pendingSecretStore
	resetStore     *resetTokenStore
	deviceStore    *trustedDeviceStore
	sequence       *idSequence
	audit          *auditDispatcher
	notify         *notifyDispatcher
	metrics        *Metrics
	passwordHash   *password.Argon2
	totp           *totpManager
	principals     PrincipalProvider
	sessions       SessionBridge
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notify != nil {
		e.notify.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped describes the notificationsdropped operation and its observable behavior.
//
// NotificationsDropped may return an error when input validation, dependency calls, or security checks fail.
// NotificationsDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil || e.notify == nil {
		return 0
	}
	return e.notify.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters: map[MetricID]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// destinationFor resolves the post-login surface for a fully authenticated
// principal. Role dispatch takes priority over step gating: staff roles never
// see the onboarding flow even with an incomplete step counter.
func (e *Engine) destinationFor(p Principal) Destination {
	switch {
	case p.HasRole(RoleDepartment):
		return Destination{Route: RouteDepartmentDashboard}
	case p.HasRole(RoleTeacher):
		return Destination{Route: RouteTeacherDashboard}
	}

	if p.RegistrationStep < RegistrationStepComplete {
		return Destination{Route: RouteOnboardingStep, Step: p.RegistrationStep}
	}
	return Destination{Route: RouteStudentDashboard}
}

// effectiveStatus is the lazy timeout evaluation. It never writes; callers
// that observe a lapsed timeout decide whether to persist the reactivation.
func effectiveStatus(p Principal, now time.Time) (AccountStatus, time.Duration) {
	if p.Status != StatusTimedOut {
		return p.Status, 0
	}
	if p.TimeoutUntil == nil || !p.TimeoutUntil.After(now) {
		return StatusActive, 0
	}
	return StatusTimedOut, p.TimeoutUntil.Sub(now)
}

// statusGate enforces the account state machine for an authentication
// attempt. A lapsed timeout is persisted back through the provider so the
// stored record converges with the observed state.
func (e *Engine) statusGate(ctx context.Context, p Principal, now time.Time) error {
	switch p.Status {
	case StatusBlocked:
		return ErrAccountBlocked
	case StatusTimedOut:
		status, remaining := effectiveStatus(p, now)
		if status == StatusTimedOut {
			return &AccountTimedOutError{Remaining: remaining}
		}
		if err := e.principals.SetAccountStatus(ctx, p.ID, StatusActive, nil); err != nil {
			return wrapBackend(err)
		}
		e.metricInc(MetricTimeoutLapsed)
	}
	return nil
}

func (e *Engine) notifyEnqueue(ctx context.Context, destination, template string, params map[string]string) {
	if e == nil || e.notify == nil {
		return
	}
	e.notify.Enqueue(ctx, notification{
		Destination: destination,
		Template:    template,
		Params:      params,
	})
}

func (e *Engine) refreshSnapshot(ctx context.Context, principalID string) {
	if e == nil || e.sessions == nil {
		return
	}
	p, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		return
	}
	_ = e.sessions.RefreshPrincipalSnapshot(ctx, p)
}
