package onboarding

import "fmt"

// Step is a stage of the onboarding wizard.
type Step string

const (
	StepNotStarted        Step = "NOT_STARTED"
	StepBasicInfo         Step = "BASIC_INFO"
	StepAdditionalDetails Step = "ADDITIONAL_DETAILS"
	StepPayment           Step = "PAYMENT"
	StepCompleted         Step = "COMPLETED"
)

var stepRank = map[Step]int{
	StepNotStarted:        0,
	StepBasicInfo:         1,
	StepAdditionalDetails: 2,
	StepPayment:           3,
	StepCompleted:         4,
}

// Valid reports whether s is one of the five known steps.
func (s Step) Valid() bool {
	_, ok := stepRank[s]
	return ok
}

// Before reports whether s comes strictly before other in the wizard.
func (s Step) Before(other Step) bool {
	return stepRank[s] < stepRank[other]
}

// ParseStep converts a stored value back into a Step.
func ParseStep(v string) (Step, error) {
	if v == "" {
		return StepNotStarted, nil
	}
	s := Step(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown onboarding step %q", v)
	}
	return s, nil
}

// advance returns the later of current and to. Submitting an earlier step's
// data again never moves the pointer backwards.
func advance(current, to Step) Step {
	if current.Before(to) {
		return to
	}
	return current
}

// DeriveStep re-derives the step a user must complete next from field
// population alone, ignoring the stored CurrentStep pointer. The checks run in
// precondition order, so the result is also the first precondition that
// CompleteOnboarding would reject.
func DeriveStep(rec *Record) Step {
	switch {
	case rec == nil:
		return StepBasicInfo
	case rec.OnboardingComplete:
		return StepCompleted
	case !rec.HasBasicInfo():
		return StepBasicInfo
	case !rec.HasAdditionalDetails():
		return StepAdditionalDetails
	case !rec.HasActiveSubscription():
		return StepPayment
	default:
		return StepCompleted
	}
}
