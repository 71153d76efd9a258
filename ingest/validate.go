package ingest

import (
	"errors"
	"fmt"
	"strings"

	"tdrf/core"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEvent checks the field constraints declared on core.Event. The
// first violation is returned as a *core.ValidationError.
func ValidateEvent(e *core.Event) error {
	if e == nil {
		return &core.ValidationError{Field: "event", Message: "nil event"}
	}
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("event validation failed: %w", err)
	}
	fe := verrs[0]
	return &core.ValidationError{
		Field:   toSnake(fe.Field()),
		Message: describe(fe),
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "ip":
		return fmt.Sprintf("%q is not an IP address", fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%v is out of range", fe.Value())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
