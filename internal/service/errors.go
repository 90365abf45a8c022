package service

import (
	"errors"

	"github.com/stemsi/exstem-client/internal/validator"
)

// Common service errors.
var (
	ErrMalformedResponse = errors.New("backend returned an unexpected response")
)

// InputError is a payload rejected locally before any request was sent.
type InputError struct {
	Fields map[string]string
}

func (e *InputError) Error() string {
	return "invalid input: " + validator.FieldError(e.Fields)
}

func validate(v interface{}) error {
	if fields := validator.Struct(v); fields != nil {
		return &InputError{Fields: fields}
	}
	return nil
}
