package samAuth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/samAuth/internal/rate"
)

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The call succeeds whether or not the email maps to an account, so the
// response never confirms account existence. When it does, a single-use
// reset link is delivered out of band.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	if e.config.PasswordReset.EnableIdentifierThrottle {
		err := e.rateLimiter.EnforceFlow(
			ctx,
			"pwreset",
			email,
			e.config.PasswordReset.RequestMaxAttempts,
			e.config.PasswordReset.RequestCooldown,
		)
		if err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.emitRateLimit(ctx, "password_reset", nil)
				return ErrPasswordResetRateLimited
			}
			return wrapBackend(err)
		}
	}
	if e.config.PasswordReset.EnableIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			err := e.rateLimiter.EnforceFlow(
				ctx,
				"pwreset:ip",
				ip,
				e.config.PasswordReset.RequestMaxAttempts,
				e.config.PasswordReset.RequestCooldown,
			)
			if err != nil {
				if errors.Is(err, rate.ErrRateLimited) {
					e.emitRateLimit(ctx, "password_reset", nil)
					return ErrPasswordResetRateLimited
				}
				return wrapBackend(err)
			}
		}
	}

	principal, err := e.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrNotFound, nil)
			return nil
		}
		return wrapBackend(err)
	}

	token := uuid.NewString()
	record := &resetToken{
		PrincipalID: principal.ID,
		ExpiresAt:   time.Now().Add(e.config.PasswordReset.ResetTTL).Unix(),
	}
	if err := e.resetStore.Save(ctx, token, record, e.config.PasswordReset.ResetTTL); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, principal.ID, "", nil, nil)

	e.notifyEnqueue(ctx, principal.Email, TemplatePasswordReset, map[string]string{
		"link":         e.config.PasswordReset.ResetBaseURL + token,
		"display_name": principal.DisplayName,
	})

	return nil
}

// ValidatePasswordResetToken describes the validatepasswordresettoken operation and its observable behavior.
//
// ValidatePasswordResetToken may return an error when input validation, dependency calls, or security checks fail.
// ValidatePasswordResetToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The token survives validation; only [Engine.CompletePasswordReset] consumes
// it. Returns the owning principal's ID for form rendering.
func (e *Engine) ValidatePasswordResetToken(ctx context.Context, token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	record, err := e.resetStore.Get(ctx, token)
	if err != nil {
		if errors.Is(err, errResetTokenNotFound) || errors.Is(err, errResetTokenExpired) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", wrapBackend(err)
	}
	return record.PrincipalID, nil
}

// CompletePasswordReset describes the completepasswordreset operation and its observable behavior.
//
// CompletePasswordReset may return an error when input validation, dependency calls, or security checks fail.
// CompletePasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// On success every session belonging to the principal is invalidated, so a
// hijacked session cannot survive the credential rotation.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	if e == nil || e.principals == nil {
		return ErrEngineNotReady
	}

	if newPassword != confirmPassword {
		return ErrMismatchedConfirmation
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return ErrPasswordPolicy
	}

	record, err := e.resetStore.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, errResetTokenNotFound) || errors.Is(err, errResetTokenExpired) {
			e.metricInc(MetricPasswordResetFailure)
			e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrInvalidOrExpiredToken, nil)
			return ErrInvalidOrExpiredToken
		}
		return wrapBackend(err)
	}

	if err := e.principals.UpdatePasswordHash(ctx, record.PrincipalID, newHash); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, record.PrincipalID, "", nil, nil)

	if principal, err := e.principals.GetByID(ctx, record.PrincipalID); err == nil {
		if err := e.rateLimiter.ResetLogin(ctx, principal.Username, clientIPFromContext(ctx)); err != nil {
			log.Print("samAuth: login counter reset failed")
		}
	}

	return e.invalidateSessions(ctx, record.PrincipalID)
}

// invalidateSessions drops every live session for the principal. The
// credential change has already committed by the time this runs; a bridge
// failure is surfaced so callers can force a re-login through other means.
func (e *Engine) invalidateSessions(ctx context.Context, principalID string) error {
	if e.sessions == nil {
		return nil
	}
	if err := e.sessions.InvalidatePrincipalSessions(ctx, principalID); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, principalID, "", ErrSessionInvalidationFailed, nil)
		return ErrSessionInvalidationFailed
	}
	return nil
}
