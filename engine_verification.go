package samAuth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/samAuth/internal"
	"github.com/MrEthical07/samAuth/internal/rate"
)

// issueVerificationCode mints and delivers a fresh account-verification code.
// Issuing replaces any secret already pending for the principal.
func (e *Engine) issueVerificationCode(ctx context.Context, principal Principal) error {
	code, err := internal.NewOTP(e.config.Verification.CodeDigits)
	if err != nil {
		return wrapBackend(err)
	}

	record := &pendingSecret{
		Purpose:   secretPurposeAccountVerification,
		CodeHash:  internal.HashSecret(code),
		ExpiresAt: time.Now().Add(e.config.Verification.CodeTTL).Unix(),
	}
	if err := e.secretStore.Save(ctx, principal.ID, record, e.config.Verification.CodeTTL); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricVerificationIssued)
	e.emitAudit(ctx, auditEventVerificationIssued, true, principal.ID, "", nil, nil)

	e.notifyEnqueue(ctx, principal.Email, TemplateAccountVerification, map[string]string{
		"code":            code,
		"display_name":    principal.DisplayName,
		"expires_minutes": strconv.Itoa(int(e.config.Verification.CodeTTL / time.Minute)),
	})

	return nil
}

// VerifyAccount describes the verifyaccount operation and its observable behavior.
//
// VerifyAccount may return an error when input validation, dependency calls, or security checks fail.
// VerifyAccount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// A successful verification enables the account and advances it to the next
// onboarding step in one pass. Failures leave both untouched.
func (e *Engine) VerifyAccount(ctx context.Context, principalID, code string) error {
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
	if principal.Enabled {
		return ErrAlreadyVerified
	}

	_, err = e.secretStore.Consume(
		ctx,
		principal.ID,
		secretPurposeAccountVerification,
		"",
		internal.HashSecret(code),
		e.config.Verification.MaxAttempts,
	)
	if err != nil {
		switch {
		case errors.Is(err, errPendingSecretNotFound),
			errors.Is(err, errPendingSecretExpired),
			errors.Is(err, errPendingSecretMismatch),
			errors.Is(err, errPendingSecretAttempts):
			e.metricInc(MetricVerificationFailure)
			e.emitAudit(ctx, auditEventVerificationConfirm, false, principal.ID, "", ErrInvalidOrExpiredCode, nil)
			return ErrInvalidOrExpiredCode
		default:
			return wrapBackend(err)
		}
	}

	if err := e.principals.SetEnabled(ctx, principal.ID, true); err != nil {
		return wrapBackend(err)
	}
	if principal.RegistrationStep == RegistrationStepInitial {
		if err := e.principals.SetRegistrationStep(ctx, principal.ID, RegistrationStepInitial+1); err != nil {
			return wrapBackend(err)
		}
	}

	e.metricInc(MetricVerificationSuccess)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, principal.ID, "", nil, nil)
	e.refreshSnapshot(ctx, principal.ID)

	return nil
}

// ResendVerificationCode describes the resendverificationcode operation and its observable behavior.
//
// ResendVerificationCode may return an error when input validation, dependency calls, or security checks fail.
// ResendVerificationCode does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ResendVerificationCode(ctx context.Context, principalID string) error {
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
	if principal.Enabled {
		return ErrAlreadyVerified
	}

	if e.config.Verification.EnableIdentifierThrottle {
		err := e.rateLimiter.EnforceFlow(
			ctx,
			"verifresend",
			principal.ID,
			e.config.Verification.ResendMaxAttempts,
			e.config.Verification.ResendCooldown,
		)
		if err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.emitRateLimit(ctx, "verification_resend", nil)
				return ErrVerificationRateLimited
			}
			return wrapBackend(err)
		}
	}
	if e.config.Verification.EnableIPThrottle {
		if ip := clientIPFromContext(ctx); ip != "" {
			err := e.rateLimiter.EnforceFlow(
				ctx,
				"verifresend:ip",
				ip,
				e.config.Verification.ResendMaxAttempts,
				e.config.Verification.ResendCooldown,
			)
			if err != nil {
				if errors.Is(err, rate.ErrRateLimited) {
					e.emitRateLimit(ctx, "verification_resend", nil)
					return ErrVerificationRateLimited
				}
				return wrapBackend(err)
			}
		}
	}

	return e.issueVerificationCode(ctx, principal)
}
