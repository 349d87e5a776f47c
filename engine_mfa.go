package samAuth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SubmitMFACode describes the submitmfacode operation and its observable behavior.
//
// SubmitMFACode may return an error when input validation, dependency calls, or security checks fail.
// SubmitMFACode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// When trustDevice is true and the code verifies, the result carries an
// opaque device token the web layer should set as a long-lived cookie; later
// logins presenting it skip the MFA challenge until it expires or is revoked.
func (e *Engine) SubmitMFACode(ctx context.Context, challengeID, code string, trustDevice bool) (*MFAResult, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}

	now := time.Now()

	challenge, err := e.challengeStore.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, errMFAChallengeNotFound) || errors.Is(err, errMFAChallengeExpired) {
			e.metricInc(MetricMFAFailure)
			e.emitAudit(ctx, auditEventMFAFailure, false, "", challengeID, ErrMFAChallengeExpired, nil)
			return nil, ErrMFAChallengeExpired
		}
		return nil, wrapBackend(err)
	}

	principal, err := e.principals.GetByID(ctx, challenge.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = e.challengeStore.Delete(ctx, challengeID)
			return nil, ErrNotFound
		}
		return nil, wrapBackend(err)
	}

	if !principal.MFAEnabled || len(principal.MFASecret) == 0 {
		_, _ = e.challengeStore.Delete(ctx, challengeID)
		return nil, ErrMFANotEnrolled
	}

	ok, _, err := e.totp.VerifyCode(principal.MFASecret, code, now)
	if err != nil {
		return nil, wrapBackend(err)
	}
	if !ok {
		exceeded, err := e.challengeStore.RecordFailure(ctx, challengeID, e.config.TOTP.ChallengeMaxAttempts)
		if err != nil {
			if errors.Is(err, errMFAChallengeNotFound) || errors.Is(err, errMFAChallengeExpired) {
				e.metricInc(MetricMFAFailure)
				e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, challengeID, ErrMFAChallengeExpired, nil)
				return nil, ErrMFAChallengeExpired
			}
			return nil, wrapBackend(err)
		}
		if exceeded {
			e.metricInc(MetricMFAFailure)
			e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, principal.ID, challengeID, ErrMFAAttemptsExceeded, nil)
			return nil, ErrMFAAttemptsExceeded
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, challengeID, ErrInvalidOrExpiredCode, nil)
		return nil, ErrInvalidOrExpiredCode
	}

	// Single-use consumption. If the delete finds nothing, another request
	// already redeemed this challenge and this one is a replay.
	deleted, err := e.challengeStore.Delete(ctx, challengeID)
	if err != nil {
		return nil, wrapBackend(err)
	}
	if !deleted {
		e.metricInc(MetricMFAReplayAttempt)
		e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, challengeID, ErrMFAReplay, nil)
		return nil, ErrMFAReplay
	}

	// The account may have been blocked or timed out while the challenge was
	// pending; re-check before handing out authority.
	if err := e.statusGate(ctx, principal, now); err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, principal.ID, challengeID, err, nil)
		return nil, err
	}

	result := &MFAResult{
		PrincipalID: principal.ID,
		Destination: e.destinationFor(principal),
	}

	if trustDevice {
		token := uuid.NewString()
		expiry := now.Add(e.config.TrustedDevice.TTL)
		record := &trustedDevice{
			PrincipalID: principal.ID,
			ExpiresAt:   expiry.Unix(),
		}
		if err := e.deviceStore.Save(ctx, token, record, e.config.TrustedDevice.TTL); err != nil {
			return nil, wrapBackend(err)
		}
		result.DeviceToken = token
		result.DeviceExpiry = expiry

		e.metricInc(MetricTrustedDeviceIssued)
		e.emitAudit(ctx, auditEventTrustedDeviceIssued, true, principal.ID, challengeID, nil, func() map[string]string {
			if ua := userAgentFromContext(ctx); ua != "" {
				return map[string]string{"user_agent": ua}
			}
			return nil
		})
	}

	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, principal.ID, challengeID, nil, nil)

	return result, nil
}

// RevokeTrustedDevice describes the revoketrusteddevice operation and its observable behavior.
//
// RevokeTrustedDevice may return an error when input validation, dependency calls, or security checks fail.
// RevokeTrustedDevice does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, principalID, deviceToken string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	revoked, err := e.deviceStore.Revoke(ctx, principalID, deviceToken)
	if err != nil {
		return false, wrapBackend(err)
	}
	if revoked {
		e.metricInc(MetricTrustedDeviceRevoked)
		e.emitAudit(ctx, auditEventTrustedDeviceRevoked, true, principalID, "", nil, nil)
	}
	return revoked, nil
}

// RevokeAllTrustedDevices describes the revokealltrusteddevices operation and its observable behavior.
//
// RevokeAllTrustedDevices may return an error when input validation, dependency calls, or security checks fail.
// RevokeAllTrustedDevices does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RevokeAllTrustedDevices(ctx context.Context, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.deviceStore.RevokeAll(ctx, principalID)
	if err != nil {
		return 0, wrapBackend(err)
	}
	if revoked > 0 {
		e.metricInc(MetricTrustedDeviceRevoked)
		e.emitAudit(ctx, auditEventTrustedDeviceRevoked, true, principalID, "", nil, nil)
	}
	return revoked, nil
}
