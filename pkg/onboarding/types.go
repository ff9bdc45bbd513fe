package onboarding

import (
	"strings"
	"time"

	"github.com/mihaimyh/goonboard/pkg/billing"
)

// Record is the onboarding state of one user.
type Record struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	CurrentStep Step   `json:"currentStep"`

	// Step 1
	FullName    string `json:"fullName,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CompanyName string `json:"companyName,omitempty"`

	// Step 2
	Industry       string   `json:"industry,omitempty"`
	CompanySize    string   `json:"companySize,omitempty"`
	Role           string   `json:"role,omitempty"`
	Goals          []string `json:"goals,omitempty"`
	ReferralSource string   `json:"referralSource,omitempty"`

	// BillingCustomerID is set at most once and never cleared.
	BillingCustomerID string `json:"billingCustomerId,omitempty"`

	// Mirror of the provider subscription. Last writer wins, subject to the
	// SubscriptionSyncedAt ordering guard.
	SubscriptionID          string                     `json:"subscriptionId,omitempty"`
	SubscriptionStatus      billing.SubscriptionStatus `json:"subscriptionStatus,omitempty"`
	SubscriptionPriceID     string                     `json:"subscriptionPriceId,omitempty"`
	SubscriptionPeriodStart *time.Time                 `json:"subscriptionPeriodStart,omitempty"`
	SubscriptionPeriodEnd   *time.Time                 `json:"subscriptionPeriodEnd,omitempty"`
	SubscriptionSyncedAt    time.Time                  `json:"subscriptionSyncedAt,omitempty"`
	LastPaymentAt           *time.Time                 `json:"lastPaymentAt,omitempty"`

	OnboardingComplete bool       `json:"onboardingComplete"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord returns the implicit default record of a user who has not
// submitted anything yet.
func NewRecord(userID string) *Record {
	return &Record{
		UserID:      userID,
		CurrentStep: StepNotStarted,
	}
}

// HasBasicInfo reports whether the step-1 fields the wizard depends on are set.
func (r *Record) HasBasicInfo() bool {
	return notBlank(r.FullName) && notBlank(r.Phone) && notBlank(r.CompanyName)
}

// HasAdditionalDetails reports whether all required step-2 fields are set.
func (r *Record) HasAdditionalDetails() bool {
	return notBlank(r.Industry) && notBlank(r.CompanySize) && notBlank(r.Role) && len(r.Goals) > 0
}

// HasActiveSubscription reports whether the mirrored subscription is active.
func (r *Record) HasActiveSubscription() bool {
	return r.SubscriptionID != "" && r.SubscriptionStatus == billing.StatusActive
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Goals != nil {
		c.Goals = append([]string(nil), r.Goals...)
	}
	c.SubscriptionPeriodStart = cloneTime(r.SubscriptionPeriodStart)
	c.SubscriptionPeriodEnd = cloneTime(r.SubscriptionPeriodEnd)
	c.LastPaymentAt = cloneTime(r.LastPaymentAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func notBlank(s string) bool {
	return strings.TrimSpace(s) != ""
}

// BasicInfoInput is the step-1 payload.
type BasicInfoInput struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone" validate:"required,phone"`
	CompanyName string `json:"companyName" validate:"required,max=200"`
}

// AdditionalDetailsInput is the step-2 payload.
type AdditionalDetailsInput struct {
	Industry       string   `json:"industry" validate:"required,max=100"`
	CompanySize    string   `json:"companySize" validate:"required,max=50"`
	Role           string   `json:"role" validate:"required,max=100"`
	Goals          []string `json:"goals" validate:"required,min=1,max=20,dive,required,max=200"`
	ReferralSource string   `json:"referralSource,omitempty" validate:"omitempty,max=200"`
}

// PaymentInput is the step-3 payload.
type PaymentInput struct {
	PriceID string `json:"priceId" validate:"required,max=255"`
}

// StepResult is returned by the step transitions.
type StepResult struct {
	Profile  *Record `json:"profile"`
	NextStep Step    `json:"nextStep"`
}

// PaymentResult is returned by SubmitPayment.
type PaymentResult struct {
	ClientSecret   string                     `json:"clientSecret"`
	SubscriptionID string                     `json:"subscriptionId"`
	Status         billing.SubscriptionStatus `json:"status"`
	NextStep       Step                       `json:"nextStep"`
}

// Status is returned by GetStatus.
type Status struct {
	CurrentStep Step    `json:"currentStep"`
	NextStep    Step    `json:"nextStep"`
	Profile     *Record `json:"profile"`
}

// SubscriptionInfo is the normalized subscription status of a user.
type SubscriptionInfo struct {
	Active            bool                       `json:"active"`
	Status            billing.SubscriptionStatus `json:"status,omitempty"`
	SubscriptionID    string                     `json:"subscriptionId,omitempty"`
	PriceID           string                     `json:"priceId,omitempty"`
	ProductName       string                     `json:"productName,omitempty"`
	PeriodStart       *time.Time                 `json:"periodStart,omitempty"`
	PeriodEnd         *time.Time                 `json:"periodEnd,omitempty"`
	CancelAtPeriodEnd bool                       `json:"cancelAtPeriodEnd"`
}

// SubscriptionIntent is the outcome of creating a subscription. Record is the
// onboarding record after the subscription mirror was written.
type SubscriptionIntent struct {
	ClientSecret   string
	SubscriptionID string
	Status         billing.SubscriptionStatus
	Record         *Record
}
