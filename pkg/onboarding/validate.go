package onboarding

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	// Digits with optional leading +, spaces, dots, dashes and parentheses.
	phonePattern = regexp.MustCompile(`^\+?[0-9 ().-]{7,20}$`)
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	})
	return validate
}

// Validate checks a step input and returns a *ValidationError listing every
// offending field.
func Validate(input interface{}) error {
	err := inputValidator().Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	ve := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return ve
}

// fieldPath strips the struct name so "BasicInfoInput.email" becomes "email"
// and "AdditionalDetailsInput.goals[0]" becomes "goals[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// normalize trims surrounding whitespace from the free-text inputs.
func (in BasicInfoInput) normalize() BasicInfoInput {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	return in
}

func (in AdditionalDetailsInput) normalize() AdditionalDetailsInput {
	in.Industry = strings.TrimSpace(in.Industry)
	in.CompanySize = strings.TrimSpace(in.CompanySize)
	in.Role = strings.TrimSpace(in.Role)
	in.ReferralSource = strings.TrimSpace(in.ReferralSource)
	if in.Goals != nil {
		goals := make([]string, len(in.Goals))
		for i, g := range in.Goals {
			goals[i] = strings.TrimSpace(g)
		}
		in.Goals = goals
	}
	return in
}

func (in PaymentInput) normalize() PaymentInput {
	in.PriceID = strings.TrimSpace(in.PriceID)
	return in
}
