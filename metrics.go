package samAuth

import (
	"sync/atomic"
)

// MetricID defines a public type used by samAuth APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the authentication engine.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the authentication engine.
	MetricLoginFailure
	// MetricLoginRateLimited is an exported constant or variable used by the authentication engine.
	MetricLoginRateLimited
	// MetricMFARequired is an exported constant or variable used by the authentication engine.
	MetricMFARequired
	// MetricMFASuccess is an exported constant or variable used by the authentication engine.
	MetricMFASuccess
	// MetricMFAFailure is an exported constant or variable used by the authentication engine.
	MetricMFAFailure
	// MetricMFABypassTrustedDevice is an exported constant or variable used by the authentication engine.
	MetricMFABypassTrustedDevice
	// MetricMFAReplayAttempt is an exported constant or variable used by the authentication engine.
	MetricMFAReplayAttempt
	// MetricTrustedDeviceIssued is an exported constant or variable used by the authentication engine.
	MetricTrustedDeviceIssued
	// MetricTrustedDeviceRejected is an exported constant or variable used by the authentication engine.
	MetricTrustedDeviceRejected
	// MetricTrustedDeviceRevoked is an exported constant or variable used by the authentication engine.
	MetricTrustedDeviceRevoked
	// MetricTOTPEnrollmentStarted is an exported constant or variable used by the authentication engine.
	MetricTOTPEnrollmentStarted
	// MetricTOTPEnrollmentConfirmed is an exported constant or variable used by the authentication engine.
	MetricTOTPEnrollmentConfirmed
	// MetricTOTPDisabled is an exported constant or variable used by the authentication engine.
	MetricTOTPDisabled
	// MetricVerificationIssued is an exported constant or variable used by the authentication engine.
	MetricVerificationIssued
	// MetricVerificationSuccess is an exported constant or variable used by the authentication engine.
	MetricVerificationSuccess
	// MetricVerificationFailure is an exported constant or variable used by the authentication engine.
	MetricVerificationFailure
	// MetricRegistrationStudent is an exported constant or variable used by the authentication engine.
	MetricRegistrationStudent
	// MetricRegistrationTeacher is an exported constant or variable used by the authentication engine.
	MetricRegistrationTeacher
	// MetricOnboardingStepAdvanced is an exported constant or variable used by the authentication engine.
	MetricOnboardingStepAdvanced
	// MetricOnboardingCompleted is an exported constant or variable used by the authentication engine.
	MetricOnboardingCompleted
	// MetricPasswordResetRequest is an exported constant or variable used by the authentication engine.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess is an exported constant or variable used by the authentication engine.
	MetricPasswordResetSuccess
	// MetricPasswordResetFailure is an exported constant or variable used by the authentication engine.
	MetricPasswordResetFailure
	// MetricPasswordChangeInitiated is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeInitiated
	// MetricPasswordChangeSuccess is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeFailure is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeFailure
	// MetricAccountBlocked is an exported constant or variable used by the authentication engine.
	MetricAccountBlocked
	// MetricAccountUnblocked is an exported constant or variable used by the authentication engine.
	MetricAccountUnblocked
	// MetricAccountTimedOut is an exported constant or variable used by the authentication engine.
	MetricAccountTimedOut
	// MetricTimeoutLapsed is an exported constant or variable used by the authentication engine.
	MetricTimeoutLapsed
	// MetricRateLimitHit is an exported constant or variable used by the authentication engine.
	MetricRateLimitHit
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by samAuth APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by samAuth APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics may return an error when input validation, dependency calls, or security checks fail.
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled describes the enabled operation and its observable behavior.
//
// Enabled may return an error when input validation, dependency calls, or security checks fail.
// Enabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
//
// Inc may return an error when input validation, dependency calls, or security checks fail.
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
//
// Value may return an error when input validation, dependency calls, or security checks fail.
// Value does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot may return an error when input validation, dependency calls, or security checks fail.
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters: map[MetricID]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	return s
}
