package samAuth

import (
	"context"
	"errors"
	"strings"
)

// RegisterStudent describes the registerstudent operation and its observable behavior.
//
// RegisterStudent may return an error when input validation, dependency calls, or security checks fail.
// RegisterStudent does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The new account starts disabled at the first onboarding step. A
// verification code is issued immediately; the account gains authority only
// after [Engine.VerifyAccount] consumes it.
func (e *Engine) RegisterStudent(ctx context.Context, input RegisterInput) (Principal, error) {
	return e.register(ctx, input, RoleStudent)
}

// RegisterTeacher describes the registerteacher operation and its observable behavior.
//
// RegisterTeacher may return an error when input validation, dependency calls, or security checks fail.
// RegisterTeacher does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Teacher accounts skip the student onboarding flow entirely; they are
// created at the completed step and only need email verification.
func (e *Engine) RegisterTeacher(ctx context.Context, input RegisterInput) (Principal, error) {
	return e.register(ctx, input, RoleTeacher)
}

func (e *Engine) register(ctx context.Context, input RegisterInput, role string) (Principal, error) {
	if e == nil || e.principals == nil {
		return Principal{}, ErrEngineNotReady
	}

	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" || email == "" {
		return Principal{}, ErrInvalidCredentials
	}

	hash, err := e.passwordHash.Hash(input.Password)
	if err != nil {
		return Principal{}, ErrPasswordPolicy
	}

	if err := e.ensureUnclaimed(ctx, username, email); err != nil {
		e.emitAudit(ctx, auditEventRegistration, false, "", "", err, func() map[string]string {
			return map[string]string{"username": username, "role": role}
		})
		return Principal{}, err
	}

	var schoolID string
	step := RegistrationStepInitial
	switch role {
	case RoleTeacher:
		schoolID, err = e.sequence.NextTeacherID(ctx)
		step = RegistrationStepComplete
	default:
		schoolID, err = e.sequence.NextStudentID(ctx)
	}
	if err != nil {
		return Principal{}, wrapBackend(err)
	}

	principal, err := e.principals.Create(ctx, CreatePrincipalInput{
		Username:         username,
		Email:            email,
		DisplayName:      input.DisplayName,
		SchoolID:         schoolID,
		PasswordHash:     hash,
		Enabled:          false,
		Status:           StatusActive,
		RegistrationStep: step,
		Roles:            []string{role},
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return Principal{}, ErrAccountExists
		}
		return Principal{}, wrapBackend(err)
	}

	switch role {
	case RoleTeacher:
		e.metricInc(MetricRegistrationTeacher)
	default:
		e.metricInc(MetricRegistrationStudent)
	}
	e.emitAudit(ctx, auditEventRegistration, true, principal.ID, "", nil, func() map[string]string {
		return map[string]string{"role": role, "school_id": schoolID}
	})

	if err := e.issueVerificationCode(ctx, principal); err != nil {
		return Principal{}, err
	}

	return principal, nil
}

func (e *Engine) ensureUnclaimed(ctx context.Context, username, email string) error {
	if _, err := e.principals.GetByUsername(ctx, username); err == nil {
		return ErrAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return wrapBackend(err)
	}

	if _, err := e.principals.GetByEmail(ctx, email); err == nil {
		return ErrAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return wrapBackend(err)
	}

	return nil
}

// CheckStepAccess describes the checkstepaccess operation and its observable behavior.
//
// CheckStepAccess may return an error when input validation, dependency calls, or security checks fail.
// CheckStepAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Steps must be completed strictly in order. A request for any step other
// than the principal's current one is redirected to the current step, and a
// principal that finished onboarding is sent to the dashboard.
func (e *Engine) CheckStepAccess(ctx context.Context, principalID string, requestedStep int) (StepAccess, error) {
	if e == nil || e.principals == nil {
		return StepAccess{}, ErrEngineNotReady
	}

	principal, err := e.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StepAccess{}, ErrNotFound
		}
		return StepAccess{}, wrapBackend(err)
	}

	if principal.RegistrationStep >= RegistrationStepComplete {
		return StepAccess{Decision: StepDashboard}, nil
	}
	if requestedStep == principal.RegistrationStep {
		return StepAccess{Decision: StepAllow}, nil
	}
	return StepAccess{
		Decision:     StepRedirect,
		RedirectStep: principal.RegistrationStep,
	}, nil
}

// SubmitEducationalInfo describes the submiteducationalinfo operation and its observable behavior.
//
// SubmitEducationalInfo may return an error when input validation, dependency calls, or security checks fail.
// SubmitEducationalInfo does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitEducationalInfo(ctx context.Context, principalID string, fields map[string]string) error {
	return e.submitOnboardingStep(ctx, principalID, 2, fields)
}

// SubmitFamilyInfo describes the submitfamilyinfo operation and its observable behavior.
//
// SubmitFamilyInfo may return an error when input validation, dependency calls, or security checks fail.
// SubmitFamilyInfo does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) SubmitFamilyInfo(ctx context.Context, principalID string, fields map[string]string) error {
	return e.submitOnboardingStep(ctx, principalID, 3, fields)
}

// SubmitOtherInfo describes the submitotherinfo operation and its observable behavior.
//
// SubmitOtherInfo may return an error when input validation, dependency calls, or security checks fail.
// SubmitOtherInfo does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// Completing the final step refreshes the session snapshot so the next
// authorization check routes the principal to the dashboard without a
// re-login.
func (e *Engine) SubmitOtherInfo(ctx context.Context, principalID string, fields map[string]string) error {
	return e.submitOnboardingStep(ctx, principalID, 4, fields)
}

func (e *Engine) submitOnboardingStep(ctx context.Context, principalID string, step int, fields map[string]string) error {
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

	if principal.RegistrationStep != step {
		e.emitAudit(ctx, auditEventOnboardingStep, false, principal.ID, "", ErrRegistrationStepOrder, onboardingStepMetadata(step))
		return ErrRegistrationStepOrder
	}

	if err := e.principals.SaveOnboardingData(ctx, principal.ID, step, fields); err != nil {
		return wrapBackend(err)
	}
	if err := e.principals.SetRegistrationStep(ctx, principal.ID, step+1); err != nil {
		return wrapBackend(err)
	}

	e.metricInc(MetricOnboardingStepAdvanced)
	e.emitAudit(ctx, auditEventOnboardingStep, true, principal.ID, "", nil, onboardingStepMetadata(step))

	if step+1 >= RegistrationStepComplete {
		e.metricInc(MetricOnboardingCompleted)
		e.refreshSnapshot(ctx, principal.ID)
	}

	return nil
}

func onboardingStepMetadata(step int) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"step": stepLabel(step)}
	}
}

func stepLabel(step int) string {
	switch step {
	case 2:
		return "educational"
	case 3:
		return "family"
	case 4:
		return "other"
	default:
		return "initial"
	}
}
