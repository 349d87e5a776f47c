package samAuth

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by samAuth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Password       PasswordConfig
	TOTP           TOTPConfig
	TrustedDevice  TrustedDeviceConfig
	Verification   VerificationConfig
	PasswordReset  PasswordResetConfig
	PasswordChange PasswordChangeConfig
	Registration   RegistrationConfig
	Security       SecurityConfig
	Notify         NotifyConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by samAuth APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// TOTPConfig defines a public type used by samAuth APIs.
//
// TOTPConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	ChallengeTTL            time.Duration
	ChallengeMaxAttempts    int
}

// TrustedDeviceConfig defines a public type used by samAuth APIs.
//
// TrustedDeviceConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TrustedDeviceConfig struct {
	TTL time.Duration
}

// VerificationConfig governs the account email-verification codes issued at
// registration.
type VerificationConfig struct {
	CodeTTL                  time.Duration
	CodeDigits               int
	MaxAttempts              int
	EnableIPThrottle         bool
	EnableIdentifierThrottle bool
	ResendMaxAttempts        int
	ResendCooldown           time.Duration
}

// PasswordResetConfig defines a public type used by samAuth APIs.
//
// PasswordResetConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordResetConfig struct {
	ResetTTL                 time.Duration
	EnableIPThrottle         bool
	EnableIdentifierThrottle bool
	RequestMaxAttempts       int
	RequestCooldown          time.Duration
	ResetBaseURL             string
}

// PasswordChangeConfig governs the two-phase in-session password change.
type PasswordChangeConfig struct {
	CodeTTL     time.Duration
	CodeDigits  int
	MaxAttempts int
}

// RegistrationConfig defines a public type used by samAuth APIs.
//
// RegistrationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RegistrationConfig struct {
	SchoolIDPrefix string
	StudentIDBase  int64
	TeacherIDBase  int64
}

// SecurityConfig defines a public type used by samAuth APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	ProductionMode        bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// NotifyConfig defines a public type used by samAuth APIs.
//
// NotifyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NotifyConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// AuditConfig defines a public type used by samAuth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by samAuth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		TOTP: TOTPConfig{
			Issuer:                  "SAM-App",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			ChallengeTTL:            3 * time.Minute,
			ChallengeMaxAttempts:    5,
		},
		TrustedDevice: TrustedDeviceConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Verification: VerificationConfig{
			CodeTTL:                  15 * time.Minute,
			CodeDigits:               6,
			MaxAttempts:              5,
			EnableIPThrottle:         true,
			EnableIdentifierThrottle: true,
			ResendMaxAttempts:        5,
			ResendCooldown:           15 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			ResetTTL:                 1 * time.Hour,
			EnableIPThrottle:         true,
			EnableIdentifierThrottle: true,
			RequestMaxAttempts:       5,
			RequestCooldown:          15 * time.Minute,
		},
		PasswordChange: PasswordChangeConfig{
			CodeTTL:     10 * time.Minute,
			CodeDigits:  6,
			MaxAttempts: 5,
		},
		Registration: RegistrationConfig{
			SchoolIDPrefix: "22-1-",
			StudentIDBase:  2000,
			TeacherIDBase:  50000,
		},
		Security: SecurityConfig{
			ProductionMode:        false,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Notify: NotifyConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP ChallengeTTL must be > 0")
	}
	if c.TOTP.ChallengeMaxAttempts <= 0 {
		return errors.New("TOTP ChallengeMaxAttempts must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Trusted devices
	if c.TrustedDevice.TTL <= 0 {
		return errors.New("TrustedDevice TTL must be > 0")
	}

	// Verification
	if c.Verification.CodeTTL <= 0 {
		return errors.New("Verification CodeTTL must be > 0")
	}
	if c.Verification.CodeDigits < 6 || c.Verification.CodeDigits > 10 {
		return errors.New("Verification CodeDigits must be between 6 and 10")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}
	if c.Verification.ResendMaxAttempts <= 0 {
		return errors.New("Verification ResendMaxAttempts must be > 0")
	}
	if c.Verification.ResendCooldown <= 0 {
		return errors.New("Verification ResendCooldown must be > 0")
	}

	// Password reset
	if c.PasswordReset.ResetTTL <= 0 {
		return errors.New("PasswordReset ResetTTL must be > 0")
	}
	if c.PasswordReset.RequestMaxAttempts <= 0 {
		return errors.New("PasswordReset RequestMaxAttempts must be > 0")
	}
	if c.PasswordReset.RequestCooldown <= 0 {
		return errors.New("PasswordReset RequestCooldown must be > 0")
	}

	// Password change
	if c.PasswordChange.CodeTTL <= 0 {
		return errors.New("PasswordChange CodeTTL must be > 0")
	}
	if c.PasswordChange.CodeDigits < 6 || c.PasswordChange.CodeDigits > 10 {
		return errors.New("PasswordChange CodeDigits must be between 6 and 10")
	}
	if c.PasswordChange.MaxAttempts <= 0 {
		return errors.New("PasswordChange MaxAttempts must be > 0")
	}

	// Registration
	if c.Registration.SchoolIDPrefix == "" {
		return errors.New("Registration SchoolIDPrefix is required")
	}
	if c.Registration.StudentIDBase < 0 || c.Registration.TeacherIDBase < 0 {
		return errors.New("Registration ID bases must be >= 0")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("LoginCooldownDuration must be > 0")
	}

	// Notify / Audit
	if c.Notify.Enabled && c.Notify.BufferSize <= 0 {
		return errors.New("Notify BufferSize must be > 0 when notify is enabled")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.TOTP.Digits < 6 {
			return errors.New("ProductionMode requires TOTP Digits >= 6")
		}
		if c.TOTP.Period > 60 {
			return errors.New("ProductionMode requires TOTP Period <= 60")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.TrustedDevice.TTL > 90*24*time.Hour {
			return errors.New("ProductionMode requires TrustedDevice TTL <= 90d")
		}
		if c.Verification.CodeTTL > 30*time.Minute {
			return errors.New("ProductionMode requires Verification CodeTTL <= 30m")
		}
		if c.PasswordChange.CodeTTL > 15*time.Minute {
			return errors.New("ProductionMode requires PasswordChange CodeTTL <= 15m")
		}
		if c.PasswordReset.ResetTTL > 2*time.Hour {
			return errors.New("ProductionMode requires PasswordReset ResetTTL <= 2h")
		}
		if !c.PasswordReset.EnableIPThrottle || !c.PasswordReset.EnableIdentifierThrottle {
			return errors.New("ProductionMode requires PasswordReset throttles")
		}
		if !c.Verification.EnableIPThrottle || !c.Verification.EnableIdentifierThrottle {
			return errors.New("ProductionMode requires Verification throttles")
		}
	}

	return nil
}
