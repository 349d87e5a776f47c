package samAuth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"
)

// BlockAccount describes the blockaccount operation and its observable behavior.
//
// BlockAccount may return an error when input validation, dependency calls, or security checks fail.
// BlockAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Blocking is indefinite and clears any pending timeout. Live sessions are
// invalidated best-effort so the block takes hold without waiting for the
// next login.
func (e *Engine) BlockAccount(ctx context.Context, principalID string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	if err := e.setStatus(ctx, principalID, StatusBlocked, nil); err != nil {
		return err
	}

	e.metricInc(MetricAccountBlocked)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"status": "blocked"}
	})

	e.dropSessionsBestEffort(ctx, principalID)
	return nil
}

// UnblockAccount describes the unblockaccount operation and its observable behavior.
//
// UnblockAccount may return an error when input validation, dependency calls, or security checks fail.
// UnblockAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Unblocking restores the active state and clears any timeout deadline in
// the same write.
func (e *Engine) UnblockAccount(ctx context.Context, principalID string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	if err := e.setStatus(ctx, principalID, StatusActive, nil); err != nil {
		return err
	}

	e.metricInc(MetricAccountUnblocked)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, principalID, "", nil, func() map[string]string {
		return map[string]string{"status": "active"}
	})

	return nil
}

// TimeoutAccount describes the timeoutaccount operation and its observable behavior.
//
// TimeoutAccount may return an error when input validation, dependency calls, or security checks fail.
// TimeoutAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The suspension lifts lazily: no background job exists, the deadline is
// checked whenever the account's status is evaluated.
func (e *Engine) TimeoutAccount(ctx context.Context, principalID string, duration time.Duration) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}
	if duration <= 0 {
		return errors.New("timeout duration must be > 0")
	}

	until := time.Now().Add(duration)
	if err := e.setStatus(ctx, principalID, StatusTimedOut, &until); err != nil {
		return err
	}

	e.metricInc(MetricAccountTimedOut)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, principalID, "", nil, func() map[string]string {
		return map[string]string{
			"status":          "timed_out",
			"timeout_minutes": strconv.Itoa(int(duration / time.Minute)),
		}
	})

	e.dropSessionsBestEffort(ctx, principalID)
	return nil
}

// EffectiveStatus describes the effectivestatus operation and its observable behavior.
//
// EffectiveStatus may return an error when input validation, dependency calls, or security checks fail.
// EffectiveStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The returned duration is the time left on a live timeout and zero
// otherwise. Observing a lapsed timeout persists the reactivation.
func (e *Engine) EffectiveStatus(ctx context.Context, principalID string) (AccountStatus, time.Duration, error) {
	if e == nil || e.principals == nil {
		return StatusActive, 0, ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusActive, 0, ErrNotFound
		}
		return StatusActive, 0, wrapBackend(err)
	}

	status, remaining := effectiveStatus(principal, time.Now())
	if principal.Status == StatusTimedOut && status == StatusActive {
		if err := e.principals.SetAccountStatus(ctx, principal.ID, StatusActive, nil); err != nil {
			return StatusActive, 0, wrapBackend(err)
		}
		e.metricInc(MetricTimeoutLapsed)
	}

	return status, remaining, nil
}

func (e *Engine) setStatus(ctx context.Context, principalID string, status AccountStatus, until *time.Time) error {
	if _, err := e.principals.GetByID(ctx, principalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return wrapBackend(err)
	}
	if err := e.principals.SetAccountStatus(ctx, principalID, status, until); err != nil {
		return wrapBackend(err)
	}
	return nil
}

func (e *Engine) dropSessionsBestEffort(ctx context.Context, principalID string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.InvalidatePrincipalSessions(ctx, principalID); err != nil {
		log.Print("samAuth: session invalidation failed")
	}
}
