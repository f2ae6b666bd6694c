package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyQuery is the terminal user error for a blank research query.
	ErrEmptyQuery = errors.New("query must be non-empty")

	// ErrInvalidOptions wraps struct validation failures.
	ErrInvalidOptions = errors.New("invalid options")
)

// ValidateQuery trims q and rejects blank input.
func ValidateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

var validate = validator.New()

// ValidateStruct checks validate tags and flattens the failures into one error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value: %v)", e.Namespace(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, "; "))
}
