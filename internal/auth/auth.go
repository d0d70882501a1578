// Package auth provides the shared-secret check used by the session
// handshake.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a handshake secret.
type Validator interface {
	Validate(secret string) error
}

// SharedSecret accepts exactly one configured secret. An empty secret
// denies everyone.
type SharedSecret struct {
	Secret string
}

func (s SharedSecret) Validate(secret string) error {
	if s.Secret == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Secret), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// AnyOf accepts a secret matching any of its validators.
type AnyOf []Validator

func (a AnyOf) Validate(secret string) error {
	for _, v := range a {
		if v != nil && v.Validate(secret) == nil {
			return nil
		}
	}
	return ErrUnauthorized
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(secret string) error

func (f FuncValidator) Validate(secret string) error {
	return f(secret)
}
