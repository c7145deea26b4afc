package rows

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidatorOnce sync.Once
	structValidator     *validator.Validate
)

// structValidate returns the shared validator.Validate instance, lazily
// built so packages that never call ValidateStruct don't pay its
// reflection-cache warmup cost.
func structValidate() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// ValidateStruct runs tag-based validation over payload (a *XPayload) and
// translates each failing field into a ValidationError, for the handful of
// constraints (oneof, required on a field the hand-written Validate
// doesn't already check) that read more clearly as a struct tag than as
// another if-block.
func ValidateStruct(rowID string, payload any) []*ValidationError {
	if err := structValidate().Struct(payload); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*ValidationError{{RowID: rowID, Message: err.Error()}}
		}
		out := make([]*ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, &ValidationError{
				RowID:   rowID,
				Field:   strings.ToLower(fe.Field()),
				Message: tagMessage(fe),
			})
		}
		return out
	}
	return nil
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
