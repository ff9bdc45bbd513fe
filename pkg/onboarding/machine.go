package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

const maxUserIDLength = 255

// Billing is the part of the Synchronizer the state machine depends on.
type Billing interface {
	EnsureCustomer(ctx context.Context, rec *Record) (string, error)
	CreateSubscription(ctx context.Context, rec *Record, priceID string) (*SubscriptionIntent, error)
}

// Config holds configuration for the Machine.
type Config struct {
	// Billing creates customers and subscriptions. Usually a *Synchronizer.
	// Without it the payment step fails with billing.ErrProviderNotConfigured.
	Billing Billing

	// Logger is optional. Defaults to NoopLogger.
	Logger Logger

	// Metrics is optional. Defaults to NoopMetrics.
	Metrics Metrics

	// Now is optional. Defaults to time.Now.
	Now func() time.Time
}

// Machine drives a user through the onboarding steps. Every transition
// validates its input and preconditions and then performs a single atomic
// record update; preconditions are evaluated again inside that update.
type Machine struct {
	storage Storage
	billing Billing
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewMachine creates a new onboarding state machine.
func NewMachine(storage Storage, config Config) (*Machine, error) {
	if storage == nil {
		return nil, errors.New("onboarding: storage is required")
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Machine{
		storage: storage,
		billing: config.Billing,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}, nil
}

// SubmitBasicInfo stores the step-1 fields. It is always allowed before
// onboarding completes; submitting again overwrites the data without moving
// the current step backwards.
func (m *Machine) SubmitBasicInfo(ctx context.Context, userID string, input BasicInfoInput) (*StepResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	input = input.normalize()
	if err := Validate(input); err != nil {
		m.recordOutcome(StepBasicInfo, err)
		return nil, err
	}

	rec, err := m.update(ctx, "submit_basic_info", userID, func(r *Record) error {
		if r.OnboardingComplete {
			return &SequenceError{Attempted: StepBasicInfo, NextStep: StepCompleted}
		}
		r.FullName = input.FullName
		r.Email = input.Email
		r.Phone = input.Phone
		r.CompanyName = input.CompanyName
		r.CurrentStep = advance(r.CurrentStep, StepBasicInfo)
		return nil
	})
	m.recordOutcome(StepBasicInfo, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Basic info submitted", Field{Key: "user_id", Value: userID})
	return &StepResult{Profile: rec, NextStep: DeriveStep(rec)}, nil
}

// SubmitAdditionalDetails stores the step-2 fields. Step 1 must be complete.
// When the user has no billing customer yet one is created opportunistically;
// a failure there is logged and retried at the payment step.
func (m *Machine) SubmitAdditionalDetails(ctx context.Context, userID string, input AdditionalDetailsInput) (*StepResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	input = input.normalize()
	if err := Validate(input); err != nil {
		m.recordOutcome(StepAdditionalDetails, err)
		return nil, err
	}

	rec, err := m.update(ctx, "submit_additional_details", userID, func(r *Record) error {
		switch {
		case r.OnboardingComplete:
			return &SequenceError{Attempted: StepAdditionalDetails, NextStep: StepCompleted}
		case !r.HasBasicInfo():
			return &SequenceError{Attempted: StepAdditionalDetails, NextStep: StepBasicInfo}
		}
		r.Industry = input.Industry
		r.CompanySize = input.CompanySize
		r.Role = input.Role
		r.Goals = append([]string(nil), input.Goals...)
		r.ReferralSource = input.ReferralSource
		r.CurrentStep = advance(r.CurrentStep, StepAdditionalDetails)
		return nil
	})
	m.recordOutcome(StepAdditionalDetails, err)
	if err != nil {
		return nil, err
	}

	if rec.BillingCustomerID == "" && m.billing != nil {
		customerID, _ := runBilling(ctx, m, "ensure_customer", billing.PolicyWarn, userID,
			func(ctx context.Context) (string, error) {
				return m.billing.EnsureCustomer(ctx, rec)
			})
		if customerID != "" {
			rec.BillingCustomerID = customerID
		}
	}

	m.logger.Info("Additional details submitted", Field{Key: "user_id", Value: userID})
	return &StepResult{Profile: rec, NextStep: DeriveStep(rec)}, nil
}

// SubmitPayment creates the user's subscription in an incomplete state and
// returns the client secret used to confirm the first payment. Both form steps
// must be complete. Billing failures abort the transition and leave the
// record as it was, so the user can retry.
func (m *Machine) SubmitPayment(ctx context.Context, userID string, input PaymentInput) (*PaymentResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	input = input.normalize()
	if err := Validate(input); err != nil {
		m.recordOutcome(StepPayment, err)
		return nil, err
	}

	rec, err := m.load(ctx, userID)
	if err != nil {
		m.recordOutcome(StepPayment, err)
		return nil, err
	}
	if err := paymentPrecondition(rec); err != nil {
		m.recordOutcome(StepPayment, err)
		return nil, err
	}
	if m.billing == nil {
		err := &billing.Error{Op: "create_subscription", Code: billing.CodeProviderUnavailable,
			Message: "no billing provider configured", Err: billing.ErrProviderNotConfigured}
		m.recordOutcome(StepPayment, err)
		return nil, err
	}

	customerID, err := runBilling(ctx, m, "ensure_customer", billing.PolicyAbort, userID,
		func(ctx context.Context) (string, error) {
			return m.billing.EnsureCustomer(ctx, rec)
		})
	if err != nil {
		m.recordOutcome(StepPayment, err)
		return nil, err
	}
	rec.BillingCustomerID = customerID

	intent, err := runBilling(ctx, m, "create_subscription", billing.PolicyAbort, userID,
		func(ctx context.Context) (*SubscriptionIntent, error) {
			return m.billing.CreateSubscription(ctx, rec, input.PriceID)
		})
	m.recordOutcome(StepPayment, err)
	if err != nil {
		return nil, err
	}

	next := StepPayment
	if intent.Record != nil {
		next = DeriveStep(intent.Record)
	}
	m.logger.Info("Subscription created",
		Field{Key: "user_id", Value: userID},
		Field{Key: "subscription_id", Value: intent.SubscriptionID},
		Field{Key: "status", Value: string(intent.Status)},
	)
	return &PaymentResult{
		ClientSecret:   intent.ClientSecret,
		SubscriptionID: intent.SubscriptionID,
		Status:         intent.Status,
		NextStep:       next,
	}, nil
}

func paymentPrecondition(r *Record) error {
	switch {
	case r.OnboardingComplete:
		return &SequenceError{Attempted: StepPayment, NextStep: StepCompleted}
	case !r.HasBasicInfo():
		return &SequenceError{Attempted: StepPayment, NextStep: StepBasicInfo}
	case !r.HasAdditionalDetails():
		return &SequenceError{Attempted: StepPayment, NextStep: StepAdditionalDetails}
	case r.HasActiveSubscription():
		// Already paid; the only thing left is to complete.
		return &SequenceError{Attempted: StepPayment, NextStep: StepCompleted}
	}
	return nil
}

// CompleteOnboarding marks onboarding as complete once both form steps are
// done and the subscription is active. Calling it again afterwards returns the
// same result without writing.
func (m *Machine) CompleteOnboarding(ctx context.Context, userID string) (*StepResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}

	completedNow := false
	rec, err := m.update(ctx, "complete_onboarding", userID, func(r *Record) error {
		completedNow = false
		if r.OnboardingComplete {
			return ErrNoChange
		}
		if next := DeriveStep(r); next != StepCompleted {
			return &SequenceError{Attempted: StepCompleted, NextStep: next}
		}
		now := m.now().UTC()
		r.OnboardingComplete = true
		r.CurrentStep = StepCompleted
		r.CompletedAt = &now
		completedNow = true
		return nil
	})
	m.recordOutcome(StepCompleted, err)
	if err != nil {
		return nil, err
	}

	if completedNow {
		m.metrics.RecordCompletion()
		m.logger.Info("Onboarding completed", Field{Key: "user_id", Value: userID})
	}
	return &StepResult{Profile: rec, NextStep: StepCompleted}, nil
}

// GetStatus returns the stored step and the step the user must complete next,
// derived from the record's fields. Unknown users get the default record.
func (m *Machine) GetStatus(ctx context.Context, userID string) (*Status, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	rec, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Status{
		CurrentStep: rec.CurrentStep,
		NextStep:    DeriveStep(rec),
		Profile:     rec,
	}, nil
}

func (m *Machine) load(ctx context.Context, userID string) (*Record, error) {
	start := time.Now()
	rec, err := m.storage.GetRecord(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		err = nil
		rec = NewRecord(userID)
	}
	m.metrics.RecordStorageOperation("get_record", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("load onboarding record: %w", err)
	}
	return rec, nil
}

func (m *Machine) update(ctx context.Context, op, userID string, fn UpdateFunc) (*Record, error) {
	start := time.Now()
	rec, err := m.storage.UpdateRecord(ctx, userID, fn)
	m.metrics.RecordStorageOperation(op, time.Since(start), err)
	if err != nil {
		var seq *SequenceError
		if errors.As(err, &seq) {
			return nil, seq
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (m *Machine) recordOutcome(step Step, err error) {
	outcome := "ok"
	if err != nil {
		switch {
		case isValidation(err):
			outcome = "validation"
		case isSequence(err):
			outcome = "sequence"
		default:
			outcome = "error"
		}
	}
	m.metrics.RecordTransition(step, outcome)
}

func isValidation(err error) bool {
	_, ok := AsValidationError(err)
	return ok
}

func isSequence(err error) bool {
	_, ok := AsSequenceError(err)
	return ok
}

// runBilling runs a billing call under the policy declared by the call site.
// PolicyWarn logs a failure and returns the zero value with a nil error;
// PolicyAbort returns the failure to the caller.
func runBilling[T any](ctx context.Context, m *Machine, op string, policy billing.Policy, userID string,
	fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	m.metrics.RecordBillingCall(op, policy.String(), err)
	if err == nil {
		return v, nil
	}

	fields := []Field{
		{Key: "op", Value: op},
		{Key: "user_id", Value: userID},
		{Key: "policy", Value: policy.String()},
		{Key: "error", Value: err.Error()},
	}
	if policy == billing.PolicyWarn {
		m.logger.Warn("Billing call failed, continuing", fields...)
		var zero T
		return zero, nil
	}
	m.logger.Error("Billing call failed", fields...)
	return v, err
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > maxUserIDLength {
		return ErrInvalidUserID
	}
	return nil
}
