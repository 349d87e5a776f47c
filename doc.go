// Package samAuth provides the identity verification and session-trust engine
// for the SAM school-management platform: password login with an account-status
// gate, TOTP-based MFA with trusted-device bypass, gated onboarding progress,
// and credential recovery, backed by Redis for all transient challenge state.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// samAuth is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (LoginResult, StepAccess, MetricsSnapshot, etc.). Principal
// records live behind [PrincipalProvider]; outbound mail goes through
// [Notifier]; the hosting web layer owns cookies, sessions, and routing and
// talks to the engine through pure methods per flow step.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Render HTML, set cookies, or perform any HTTP dispatch.
//   - Block a request on outbound notification delivery.
package samAuth
