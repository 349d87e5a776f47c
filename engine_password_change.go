package samAuth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/samAuth/internal"
)

// InitiatePasswordChange describes the initiatepasswordchange operation and its observable behavior.
//
// InitiatePasswordChange may return an error when input validation, dependency calls, or security checks fail.
// InitiatePasswordChange does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The current password is re-proven and the new password is validated and
// pre-hashed up front; nothing about the live credential changes yet. The
// returned correlator token must accompany the emailed code in
// [Engine.FinalizePasswordChange], binding the confirmation to this exact
// browser flow. Initiating again replaces the pending change.
func (e *Engine) InitiatePasswordChange(ctx context.Context, principalID, currentPassword, newPassword, confirmPassword string) (string, error) {
	if e == nil || e.principals == nil {
		return "", ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", wrapBackend(err)
	}

	ok, err := e.passwordHash.Verify(currentPassword, principal.PasswordHash)
	if err != nil {
		return "", wrapBackend(err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChangeInit, false, principal.ID, "", ErrInvalidCredentials, nil)
		return "", ErrInvalidCredentials
	}

	if newPassword != confirmPassword {
		return "", ErrMismatchedConfirmation
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return "", ErrPasswordPolicy
	}

	code, err := internal.NewOTP(e.config.PasswordChange.CodeDigits)
	if err != nil {
		return "", wrapBackend(err)
	}
	token := uuid.NewString()

	record := &pendingSecret{
		Purpose:   secretPurposePasswordChange,
		CodeHash:  internal.HashSecret(code),
		ExpiresAt: time.Now().Add(e.config.PasswordChange.CodeTTL).Unix(),
		Token:     token,
		Payload:   newHash,
	}
	if err := e.secretStore.Save(ctx, principal.ID, record, e.config.PasswordChange.CodeTTL); err != nil {
		return "", wrapBackend(err)
	}

	e.metricInc(MetricPasswordChangeInitiated)
	e.emitAudit(ctx, auditEventPasswordChangeInit, true, principal.ID, "", nil, nil)

	e.notifyEnqueue(ctx, principal.Email, TemplatePasswordChangeCode, map[string]string{
		"code":            code,
		"display_name":    principal.DisplayName,
		"expires_minutes": strconv.Itoa(int(e.config.PasswordChange.CodeTTL / time.Minute)),
	})

	return token, nil
}

// FinalizePasswordChange describes the finalizepasswordchange operation and its observable behavior.
//
// FinalizePasswordChange may return an error when input validation, dependency calls, or security checks fail.
// FinalizePasswordChange does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Both the correlator token and the emailed code must match the pending
// change. Success commits the pre-hashed password, clears the pending state,
// and invalidates every session for the principal.
func (e *Engine) FinalizePasswordChange(ctx context.Context, principalID, token, code string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	record, err := e.secretStore.Consume(
		ctx,
		principalID,
		secretPurposePasswordChange,
		token,
		internal.HashSecret(code),
		e.config.PasswordChange.MaxAttempts,
	)
	if err != nil {
		switch {
		case errors.Is(err, errPendingSecretNotFound):
			e.metricInc(MetricPasswordChangeFailure)
			e.emitAudit(ctx, auditEventPasswordChangeConfirm, false, principalID, "", ErrNoPendingChange, nil)
			return ErrNoPendingChange
		case errors.Is(err, errPendingSecretExpired),
			errors.Is(err, errPendingSecretMismatch),
			errors.Is(err, errPendingSecretAttempts):
			e.metricInc(MetricPasswordChangeFailure)
			e.emitAudit(ctx, auditEventPasswordChangeConfirm, false, principalID, "", ErrInvalidOrExpiredCode, nil)
			return ErrInvalidOrExpiredCode
		default:
			return wrapBackend(err)
		}
	}

	if err := e.principals.UpdatePasswordHash(ctx, principalID, record.Payload); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeConfirm, true, principalID, "", nil, nil)

	if principal, err := e.principals.GetByID(ctx, principalID); err == nil {
		if err := e.rateLimiter.ResetLogin(ctx, principal.Username, clientIPFromContext(ctx)); err != nil {
			log.Print("samAuth: login counter reset failed")
		}
	}

	return e.invalidateSessions(ctx, principalID)
}
