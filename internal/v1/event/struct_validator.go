package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator adapts go-playground/validator struct-tag validation to the
// Validator capability. The incoming value is round-tripped through JSON into
// T, so clients get coercion into the declared shape plus tag validation.
type structValidator[T any] struct {
	validate *validator.Validate
}

// StructValidator builds a Validator that decodes the payload into T and
// validates it with `validate` struct tags.
func StructValidator[T any]() Validator {
	return &structValidator[T]{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (s *structValidator[T]) Validate(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("data: not serializable")
	}

	var typed T
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&typed); err != nil {
		return nil, fmt.Errorf("data: %s", decodeIssue(err))
	}

	if err := s.validate.Struct(typed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			issues := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				issues = append(issues, fieldPath(fe)+": "+fieldIssue(fe))
			}
			return nil, errors.New(joinIssues(issues))
		}
		return nil, err
	}

	return typed, nil
}

// FuncValidator wraps a plain function as a Validator.
type FuncValidator func(value any) (any, error)

func (f FuncValidator) Validate(value any) (any, error) { return f(value) }

// fieldPath strips the root struct name from the namespace so messages read
// `profile.age` rather than `SetProfile.Profile.Age`.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns[:1]) + ns[1:]
}

func fieldIssue(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed '%s' constraint", fe.Tag())
	}
}

func decodeIssue(err error) string {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		if ute.Field != "" {
			return fmt.Sprintf("%s: expected %s", ute.Field, ute.Type.String())
		}
		return fmt.Sprintf("expected %s", ute.Type.String())
	}
	return "malformed payload"
}
