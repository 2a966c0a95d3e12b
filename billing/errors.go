package billing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/tuition_backend/store"
)

// Error kinds. Every error returned by the engine matches exactly one of them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrInternal     = errors.New("internal error")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFound(what string, id int) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel an error belongs to, ErrInternal when it carries none.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrInvalidState} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// classify maps store and unknown failures onto the engine's kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

// fromValidator turns the first validator failure into a ValidationError.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return invalid(lowerFirst(fe.Field()), msg)
	}
	return invalid("", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
