package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/ledctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestSharedSecretValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty secret denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched secret denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "prefix denied", stored: "abc", input: "ab", wantErr: ErrUnauthorized},
		{name: "matching secret accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			err := (SharedSecret{Secret: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Err(err).Msg("auth/shared-secret: result")
		})
	}
}

func TestAnyOf(t *testing.T) {
	testlog.Start(t)
	v := AnyOf{nil, SharedSecret{Secret: "browser"}, SharedSecret{Secret: "helper"}}
	if err := v.Validate("helper"); err != nil {
		t.Fatalf("expected helper secret accepted, got %v", err)
	}
	if err := v.Validate("other"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := (AnyOf{}).Validate("x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected empty set to deny, got %v", err)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(secret string) error {
		if secret != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad secret, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok secret, got %v", err)
	}
}
