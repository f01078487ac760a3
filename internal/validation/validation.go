// Package validation checks request bodies against their struct tags and reports every
// failing field at once.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/shopspring/decimal"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so clients can map errors back to inputs.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("decimal", isDecimal); err != nil {
		panic(fmt.Sprintf("register decimal validation: %v", err))
	}

	return &Validator{v: v}
}

// isDecimal accepts non-negative decimal strings such as "700" or "8.50".
func isDecimal(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && !d.IsNegative()
}

// Struct validates s. Failures come back as *apperr.ValidationError keyed by field path,
// e.g. "email" or "items[0].quantity".
func (v *Validator) Struct(s interface{}) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}

	out := &apperr.ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		key := fieldPath(fe.Namespace())
		if _, exists := out.Fields[key]; exists {
			continue
		}
		out.Fields[key] = message(fe)
	}
	return out
}

// fieldPath drops the root struct name from a namespace like "CheckoutRequest.items[0].price".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "decimal":
		return "must be a non-negative decimal amount"
	case "datetime":
		return "must match the format " + fe.Param()
	default:
		return "is invalid"
	}
}
