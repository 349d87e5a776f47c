// Package rate implements the fixed-window Redis counters that throttle
// authentication flows: per-identifier and per-IP login attempts, plus the
// generic flow counters used by password reset and verification resend.
package rate
