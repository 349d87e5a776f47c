package samAuth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/MrEthical07/samAuth/internal"
	"github.com/MrEthical07/samAuth/internal/rate"
)

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate may return an error when input validation, dependency calls, or security checks fail.
// Authenticate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// deviceToken is the trusted-device cookie value presented by the browser, or
// empty when none is present. A valid token lets an MFA-enrolled principal
// skip the code challenge.
func (e *Engine) Authenticate(ctx context.Context, username, plainPassword, deviceToken string) (*LoginResult, error) {
	if e == nil || e.principals == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	now := time.Now()

	if err := e.rateLimiter.CheckLogin(ctx, username, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"username": username}
			})
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
		return nil, wrapBackend(err)
	}

	principal, err := e.principals.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failLogin(ctx, username, ip, "", ErrInvalidCredentials)
		}
		return nil, wrapBackend(err)
	}

	ok, err := e.passwordHash.Verify(plainPassword, principal.PasswordHash)
	if err != nil {
		return nil, wrapBackend(err)
	}
	if !ok {
		return nil, e.failLogin(ctx, username, ip, principal.ID, ErrInvalidCredentials)
	}

	// Unverified accounts hold valid credentials but no authority. The gate
	// sits after the password check so a wrong password never reveals
	// verification state.
	if !principal.Enabled {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if err := e.statusGate(ctx, principal, now); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, "", err, nil)
		return nil, err
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, principal, plainPassword)
	}

	if err := e.rateLimiter.ResetLogin(ctx, username, ip); err != nil {
		log.Print("samAuth: login counter reset failed")
	}

	if principal.MFAEnabled && len(principal.MFASecret) > 0 {
		trusted, err := e.deviceStore.IsTrusted(ctx, principal.ID, deviceToken)
		if err != nil {
			return nil, wrapBackend(err)
		}
		if trusted {
			e.metricInc(MetricMFABypassTrustedDevice)
			e.metricInc(MetricLoginSuccess)
			e.emitAudit(ctx, auditEventMFABypass, true, principal.ID, "", nil, nil)
			return &LoginResult{
				State:       StateFullyAuthenticated,
				PrincipalID: principal.ID,
				Destination: e.destinationFor(principal),
			}, nil
		}
		if deviceToken != "" {
			e.metricInc(MetricTrustedDeviceRejected)
			e.emitAudit(ctx, auditEventTrustedDeviceRejected, false, principal.ID, "", nil, nil)
		}
		return e.beginMFAChallenge(ctx, principal, now)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, "", nil, nil)

	return &LoginResult{
		State:       StateFullyAuthenticated,
		PrincipalID: principal.ID,
		Destination: e.destinationFor(principal),
	}, nil
}

// failLogin records a failed credential attempt. Unknown usernames and wrong
// passwords take the same path so the error reveals nothing about account
// existence.
func (e *Engine) failLogin(ctx context.Context, username, ip, principalID string, cause error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principalID, "", cause, func() map[string]string {
		return map[string]string{"username": username}
	})

	if err := e.rateLimiter.IncrementLogin(ctx, username, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"username": username}
			})
			return ErrLoginRateLimited
		}
		log.Print("samAuth: login counter increment failed")
	}

	return cause
}

func (e *Engine) beginMFAChallenge(ctx context.Context, principal Principal, now time.Time) (*LoginResult, error) {
	cid, err := internal.NewChallengeID()
	if err != nil {
		return nil, wrapBackend(err)
	}

	challenge := &mfaChallenge{
		PrincipalID: principal.ID,
		ExpiresAt:   now.Add(e.config.TOTP.ChallengeTTL).Unix(),
	}
	if err := e.challengeStore.Save(ctx, cid.String(), challenge, e.config.TOTP.ChallengeTTL); err != nil {
		return nil, wrapBackend(err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, principal.ID, cid.String(), nil, func() map[string]string {
		return map[string]string{
			"challenge_ttl_seconds": strconv.Itoa(int(e.config.TOTP.ChallengeTTL / time.Second)),
		}
	})

	return &LoginResult{
		State:       StatePendingMFA,
		PrincipalID: principal.ID,
		ChallengeID: cid.String(),
	}, nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, principal Principal, plainPassword string) {
	needs, err := e.passwordHash.NeedsUpgrade(principal.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := e.passwordHash.Hash(plainPassword)
	if err != nil {
		return
	}
	if err := e.principals.UpdatePasswordHash(ctx, principal.ID, newHash); err != nil {
		log.Print("samAuth: password hash upgrade failed")
	}
}
