package samAuth

import (
	"context"
	"errors"
	"time"
)

// BeginTOTPEnrollment describes the begintotpenrollment operation and its observable behavior.
//
// BeginTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// BeginTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The generated secret is stored against the principal immediately but stays
// unconfirmed: MFA is not enforced until [Engine.ConfirmTOTPEnrollment]
// proves the authenticator produced a valid code. Calling again before
// confirmation replaces the unconfirmed secret.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, principalID string) (*TOTPSetup, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapBackend(err)
	}
	if principal.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, wrapBackend(err)
	}

	if err := e.principals.SetMFASecret(ctx, principal.ID, secret); err != nil {
		return nil, wrapBackend(err)
	}

	e.metricInc(MetricTOTPEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPEnrollStarted, true, principal.ID, "", nil, nil)

	account := principal.Username
	if principal.Email != "" {
		account = principal.Email
	}

	return &TOTPSetup{
		SecretBase32: secretBase32,
		QRCodeURL:    e.totp.ProvisionURI(secretBase32, account),
	}, nil
}

// ConfirmTOTPEnrollment describes the confirmtotpenrollment operation and its observable behavior.
//
// ConfirmTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, principalID, code string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return wrapBackend(err)
	}
	if principal.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if len(principal.MFASecret) == 0 {
		return ErrMFANotEnrolled
	}

	ok, _, err := e.totp.VerifyCode(principal.MFASecret, code, time.Now())
	if err != nil {
		return wrapBackend(err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventTOTPEnrollConfirmed, false, principal.ID, "", ErrInvalidOrExpiredCode, nil)
		return ErrInvalidOrExpiredCode
	}

	if err := e.principals.SetMFAEnabled(ctx, principal.ID, true); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricTOTPEnrollmentConfirmed)
	e.emitAudit(ctx, auditEventTOTPEnrollConfirmed, true, principal.ID, "", nil, nil)
	e.refreshSnapshot(ctx, principal.ID)

	return nil
}

// DisableMFA describes the disablemfa operation and its observable behavior.
//
// DisableMFA may return an error when input validation, dependency calls, or security checks fail.
// DisableMFA does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Disabling clears the stored secret and revokes every trusted device, so a
// later re-enrollment starts from a clean slate.
func (e *Engine) DisableMFA(ctx context.Context, principalID string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return wrapBackend(err)
	}

	if err := e.principals.SetMFAEnabled(ctx, principal.ID, false); err != nil {
		return wrapBackend(err)
	}
	if err := e.principals.SetMFASecret(ctx, principal.ID, nil); err != nil {
		return wrapBackend(err)
	}
	if _, err := e.deviceStore.RevokeAll(ctx, principal.ID); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, principal.ID, "", nil, nil)
	e.refreshSnapshot(ctx, principal.ID)

	return nil
}
