package samAuth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventMFABypass             = "mfa_trusted_device_bypass"
	auditEventTrustedDeviceIssued   = "trusted_device_issued"
	auditEventTrustedDeviceRejected = "trusted_device_rejected"
	auditEventTrustedDeviceRevoked  = "trusted_device_revoked"
	auditEventTOTPEnrollStarted     = "totp_enroll_started"
	auditEventTOTPEnrollConfirmed   = "totp_enroll_confirmed"
	auditEventTOTPDisabled          = "totp_disabled"
	auditEventRegistration          = "registration"
	auditEventVerificationIssued    = "verification_code_issued"
	auditEventVerificationConfirm   = "verification_confirm"
	auditEventOnboardingStep        = "onboarding_step"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordChangeInit    = "password_change_initiated"
	auditEventPasswordChangeConfirm = "password_change_confirm"
	auditEventAccountStatusChange   = "account_status_change"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode defines a public type used by samAuth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrAccountDisabled     AuditErrorCode = "account_unverified"
	auditErrAccountBlocked      AuditErrorCode = "account_blocked"
	auditErrAccountTimedOut     AuditErrorCode = "account_timed_out"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrInvalidCode         AuditErrorCode = "invalid_code"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrMismatch            AuditErrorCode = "confirmation_mismatch"
	auditErrNoPendingChange     AuditErrorCode = "no_pending_change"
	auditErrNotFound            AuditErrorCode = "not_found"
	auditErrDuplicate           AuditErrorCode = "duplicate"
	auditErrStepOrder           AuditErrorCode = "step_out_of_order"
	auditErrMFAAttemptsExceeded AuditErrorCode = "mfa_attempts_exceeded"
	auditErrMFAReplay           AuditErrorCode = "mfa_replay"
	auditErrMFANotEnrolled      AuditErrorCode = "mfa_not_enrolled"
	auditErrPasswordPolicy      AuditErrorCode = "password_policy"
	auditErrSessionInvalidation AuditErrorCode = "session_invalidation_failed"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	challengeID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		ChallengeID: challengeID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountBlocked):
		return auditErrAccountBlocked
	case errors.Is(err, ErrAccountTimedOut):
		return auditErrAccountTimedOut
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrVerificationRateLimited),
		errors.Is(err, ErrPasswordResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, ErrMFAChallengeExpired):
		return auditErrInvalidCode
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrMismatchedConfirmation):
		return auditErrMismatch
	case errors.Is(err, ErrNoPendingChange):
		return auditErrNoPendingChange
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrAlreadyVerified):
		return auditErrDuplicate
	case errors.Is(err, ErrRegistrationStepOrder):
		return auditErrStepOrder
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrMFAAttemptsExceeded
	case errors.Is(err, ErrMFAReplay):
		return auditErrMFAReplay
	case errors.Is(err, ErrMFANotEnrolled):
		return auditErrMFANotEnrolled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
