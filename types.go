package samAuth

import (
	"context"
	"time"
)

// AccountStatus represents the administrative lifecycle state of a principal.
//
//	Docs: docs/functionality-account-status.md
type AccountStatus uint8

const (
	// StatusActive is an exported constant or variable used by the authentication engine.
	StatusActive AccountStatus = iota
	// StatusBlocked is an exported constant or variable used by the authentication engine.
	StatusBlocked
	// StatusTimedOut is an exported constant or variable used by the authentication engine.
	StatusTimedOut
)

// Role name constants recognized by destination dispatch. Dispatch priority
// is department over teacher over student.
const (
	// RoleStudent is an exported constant or variable used by the authentication engine.
	RoleStudent = "STUDENT"
	// RoleTeacher is an exported constant or variable used by the authentication engine.
	RoleTeacher = "TEACHER"
	// RoleDepartment is an exported constant or variable used by the authentication engine.
	RoleDepartment = "DEPARTMENT"
)

// Registration step bounds. A principal at RegistrationStepComplete has
// finished onboarding and is no longer gated.
const (
	// RegistrationStepInitial is an exported constant or variable used by the authentication engine.
	RegistrationStepInitial = 1
	// RegistrationStepComplete is an exported constant or variable used by the authentication engine.
	RegistrationStepComplete = 5
)

// Principal is the full account record exchanged with [PrincipalProvider].
// TimeoutUntil is meaningful only while Status is [StatusTimedOut]; once it
// has elapsed the principal is treated as active on the next evaluation.
type Principal struct {
	ID               string
	Username         string
	Email            string
	DisplayName      string
	SchoolID         string
	PasswordHash     string
	Enabled          bool
	Status           AccountStatus
	TimeoutUntil     *time.Time
	MFAEnabled       bool
	MFASecret        []byte
	RegistrationStep int
	Roles            []string
}

// HasRole reports whether the principal carries the given role tag.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrincipalProvider is the primary interface that callers must implement to
// integrate samAuth with their principal database. It covers record lookup,
// account creation, credential updates, MFA secret management, and the
// registration-step bookkeeping.
//
// Every mutating method must be atomic per record: partial multi-field
// updates must not be observable by concurrent readers.
//
//	Docs: docs/engine.md, docs/usage.md
type PrincipalProvider interface {
	GetByID(ctx context.Context, id string) (Principal, error)
	GetByUsername(ctx context.Context, username string) (Principal, error)
	GetByEmail(ctx context.Context, email string) (Principal, error)
	Create(ctx context.Context, input CreatePrincipalInput) (Principal, error)
	UpdatePasswordHash(ctx context.Context, id, newHash string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetAccountStatus(ctx context.Context, id string, status AccountStatus, timeoutUntil *time.Time) error
	SetRegistrationStep(ctx context.Context, id string, step int) error
	SetMFASecret(ctx context.Context, id string, secret []byte) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
	SaveOnboardingData(ctx context.Context, id string, step int, fields map[string]string) error
}

// CreatePrincipalInput is the input for [PrincipalProvider.Create].
type CreatePrincipalInput struct {
	Username         string
	Email            string
	DisplayName      string
	SchoolID         string
	PasswordHash     string
	Enabled          bool
	Status           AccountStatus
	RegistrationStep int
	Roles            []string
}

// Notifier is the outbound notification sink. Send is invoked from the
// engine's async dispatcher; delivery is best-effort and a Send failure never
// rolls back the state transition that triggered it.
type Notifier interface {
	Send(ctx context.Context, destination, template string, params map[string]string) error
}

// Notification template identifiers passed to [Notifier.Send].
const (
	// TemplateAccountVerification is an exported constant or variable used by the authentication engine.
	TemplateAccountVerification = "account_verification"
	// TemplatePasswordReset is an exported constant or variable used by the authentication engine.
	TemplatePasswordReset = "password_reset"
	// TemplatePasswordChangeCode is an exported constant or variable used by the authentication engine.
	TemplatePasswordChangeCode = "password_change_code"
)

// SessionBridge connects the engine to the hosting web layer's session
// storage. Both methods are optional hooks: a nil bridge disables them.
//
// InvalidatePrincipalSessions is called after credential changes so that a
// stolen session cannot outlive the password that created it.
// RefreshPrincipalSnapshot is called after writes that change role-relevant
// or step-relevant fields, so authorization checks see the updated record
// without a re-login.
type SessionBridge interface {
	InvalidatePrincipalSessions(ctx context.Context, principalID string) error
	RefreshPrincipalSnapshot(ctx context.Context, principal Principal) error
}

// AuthState is the terminal state of a login attempt.
type AuthState uint8

const (
	// StateFullyAuthenticated is an exported constant or variable used by the authentication engine.
	StateFullyAuthenticated AuthState = iota
	// StatePendingMFA is an exported constant or variable used by the authentication engine.
	StatePendingMFA
)

// DestinationRoute identifies the post-login surface a fully authenticated
// principal should land on.
type DestinationRoute uint8

const (
	// RouteDepartmentDashboard is an exported constant or variable used by the authentication engine.
	RouteDepartmentDashboard DestinationRoute = iota
	// RouteTeacherDashboard is an exported constant or variable used by the authentication engine.
	RouteTeacherDashboard
	// RouteStudentDashboard is an exported constant or variable used by the authentication engine.
	RouteStudentDashboard
	// RouteOnboardingStep is an exported constant or variable used by the authentication engine.
	RouteOnboardingStep
)

// Destination is the dispatch decision for a fully authenticated principal.
// Step is set only when Route is [RouteOnboardingStep].
type Destination struct {
	Route DestinationRoute
	Step  int
}

// LoginResult is returned by [Engine.Authenticate]. When State is
// [StatePendingMFA] the ChallengeID correlates the follow-up
// [Engine.SubmitMFACode] call and Destination is meaningless.
type LoginResult struct {
	State       AuthState
	PrincipalID string
	ChallengeID string
	Destination Destination
}

// MFAResult is returned by [Engine.SubmitMFACode]. DeviceToken and
// DeviceExpiry are set only when the caller asked to trust the device; the
// web layer emits the token as an HTTP-only cookie scoped to the whole site.
type MFAResult struct {
	PrincipalID  string
	Destination  Destination
	DeviceToken  string
	DeviceExpiry time.Time
}

// TOTPSetup holds the base32-encoded shared secret and otpauth:// URI
// returned by [Engine.BeginTOTPEnrollment].
type TOTPSetup struct {
	SecretBase32 string
	QRCodeURL    string
}

// StepDecision is the outcome of a registration-step gate check.
type StepDecision uint8

const (
	// StepAllow is an exported constant or variable used by the authentication engine.
	StepAllow StepDecision = iota
	// StepRedirect is an exported constant or variable used by the authentication engine.
	StepRedirect
	// StepDashboard is an exported constant or variable used by the authentication engine.
	StepDashboard
)

// StepAccess is returned by [Engine.CheckStepAccess]. RedirectStep is set
// only when Decision is [StepRedirect] and names the step the principal must
// complete next.
type StepAccess struct {
	Decision     StepDecision
	RedirectStep int
}

// RegisterInput is the input for [Engine.RegisterStudent] and
// [Engine.RegisterTeacher].
type RegisterInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
}
