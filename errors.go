package samAuth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountDisabled = errors.New("account not verified")
	// ErrAccountBlocked is an exported constant or variable used by the authentication engine.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrNotFound is an exported constant or variable used by the authentication engine.
	ErrNotFound = errors.New("record not found")
	// ErrLoginRateLimited is an exported constant or variable used by the authentication engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrInvalidOrExpiredCode is an exported constant or variable used by the authentication engine.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	// ErrInvalidOrExpiredToken is an exported constant or variable used by the authentication engine.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrMismatchedConfirmation is an exported constant or variable used by the authentication engine.
	ErrMismatchedConfirmation = errors.New("new password and confirmation do not match")
	// ErrNoPendingChange is an exported constant or variable used by the authentication engine.
	ErrNoPendingChange = errors.New("no pending password change")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrAccountExists is an exported constant or variable used by the authentication engine.
	ErrAccountExists = errors.New("account already exists")
	// ErrRegistrationStepOrder is an exported constant or variable used by the authentication engine.
	ErrRegistrationStepOrder = errors.New("registration step out of order")
	// ErrMFANotEnrolled is an exported constant or variable used by the authentication engine.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrMFAAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrAlreadyVerified is an exported constant or variable used by the authentication engine.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrMFAChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")
	// ErrMFAAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrMFAAttemptsExceeded = errors.New("mfa challenge attempts exceeded")
	// ErrMFAReplay is an exported constant or variable used by the authentication engine.
	ErrMFAReplay = errors.New("mfa challenge replay detected")
	// ErrVerificationRateLimited is an exported constant or variable used by the authentication engine.
	ErrVerificationRateLimited = errors.New("verification rate limited")
	// ErrPasswordResetRateLimited is an exported constant or variable used by the authentication engine.
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrSessionInvalidationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrBackendUnavailable is an exported constant or variable used by the authentication engine.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// wrapBackend folds an infrastructure failure into the exported sentinel so
// callers can branch on errors.Is without losing the cause text.
func wrapBackend(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// ErrAccountTimedOut is the sentinel matched by errors.Is against
// [AccountTimedOutError] values.
var ErrAccountTimedOut = errors.New("account timed out")

// AccountTimedOutError reports an authentication attempt against a principal
// whose timeout has not yet elapsed. Remaining is the exact duration left;
// RemainingMinutes rounds it up so callers never render "0 minutes" while
// time remains.
type AccountTimedOutError struct {
	Remaining time.Duration
}

// Error describes the error operation and its observable behavior.
//
// Error may return an error when input validation, dependency calls, or security checks fail.
// Error does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *AccountTimedOutError) Error() string {
	return fmt.Sprintf("account timed out, try again in %d minutes", e.RemainingMinutes())
}

// RemainingMinutes describes the remainingminutes operation and its observable behavior.
//
// RemainingMinutes may return an error when input validation, dependency calls, or security checks fail.
// RemainingMinutes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *AccountTimedOutError) RemainingMinutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	minutes := int(e.Remaining / time.Minute)
	if e.Remaining%time.Minute > 0 {
		minutes++
	}
	return minutes
}

// Is describes the is operation and its observable behavior.
//
// Is may return an error when input validation, dependency calls, or security checks fail.
// Is does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *AccountTimedOutError) Is(target error) bool {
	return target == ErrAccountTimedOut
}
