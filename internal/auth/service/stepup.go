package service

import (
	"context"
	"time"
)

// PinVerifier checks a user's transaction PIN. The real implementation
// lives with the account service; the auth core only consumes the verdict.
type PinVerifier interface {
	VerifyPin(ctx context.Context, userID, pin string) (bool, error)
}

// PinVerifierFunc adapts a function to PinVerifier.
type PinVerifierFunc func(ctx context.Context, userID, pin string) (bool, error)

func (f PinVerifierFunc) VerifyPin(ctx context.Context, userID, pin string) (bool, error) {
	return f(ctx, userID, pin)
}

// StepUpService guards elevated-scope token issuance behind an out-of-band
// PIN check.
type StepUpService struct {
	tokens   *TokenService
	verifier PinVerifier
}

func NewStepUpService(tokens *TokenService, verifier PinVerifier) *StepUpService {
	return &StepUpService{tokens: tokens, verifier: verifier}
}

// Elevate verifies the PIN and mints a short-lived token scoped to the
// requested sensitive operation.
func (s *StepUpService) Elevate(ctx context.Context, userID, deviceID, pin, scope string) (string, time.Time, error) {
	ok, err := s.verifier.VerifyPin(ctx, userID, pin)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, ErrStepUpDenied
	}
	return s.tokens.StepUp(ctx, userID, deviceID, scope)
}
