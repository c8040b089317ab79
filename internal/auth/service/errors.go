package service

import (
	"errors"
	"net/http"
)

// AuthError is a terminal request verdict carrying the stable wire code
// clients key their behaviour off. Codes never change meaning once shipped;
// mobile releases in the field depend on them.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Code }

func authErr(status int, code, message string) *AuthError {
	return &AuthError{Status: status, Code: code, Message: message}
}

// AsAuthError extracts an AuthError from an error chain, if present.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// DPoP validation verdicts, in pipeline order.
var (
	ErrMissingDPoPHeader     = authErr(http.StatusBadRequest, "missing_dpop_header", "DPoP proof header is required")
	ErrUnauthenticatedDevice = authErr(http.StatusUnauthorized, "unauthenticated_device", "device is not trusted")
	ErrDPoPRateLimited       = authErr(http.StatusTooManyRequests, "dpop_rate_limited", "too many proof validations for this device")
	ErrDPoPInvalidProof      = authErr(http.StatusUnauthorized, "dpop_invalid_proof", "proof is malformed")
	ErrDPoPMissingJWK        = authErr(http.StatusBadRequest, "dpop_missing_jwk", "proof carries no public key")
	ErrDPoPUnsupportedKey    = authErr(http.StatusBadRequest, "dpop_unsupported_key", "proof key type is not supported")
	ErrDPoPSignatureFailed   = authErr(http.StatusUnauthorized, "dpop_signature_failed", "proof signature verification failed")
	ErrDPoPBadIat            = authErr(http.StatusUnauthorized, "dpop_bad_iat", "proof iat is missing or stale")
	ErrDPoPMissingJTI        = authErr(http.StatusBadRequest, "dpop_missing_jti", "proof carries no jti")
	ErrDPoPJTIReplay         = authErr(http.StatusUnauthorized, "dpop_jti_replay", "proof jti was already used")
	ErrDPoPHtmHtuMismatch    = authErr(http.StatusUnauthorized, "dpop_htm_htu_mismatch", "proof does not match the request method or URI")
	ErrDPoPMissingNonce      = authErr(http.StatusUnauthorized, "dpop_missing_nonce", "proof carries no nonce")
	ErrDPoPInvalidNonce      = authErr(http.StatusUnauthorized, "dpop_invalid_nonce", "proof nonce is unknown or expired")
	ErrMissingCnfJkt         = authErr(http.StatusUnauthorized, "missing_cnf_jkt", "access token carries no key confirmation")
	ErrTokenBindingMismatch  = authErr(http.StatusUnauthorized, "dpop_token_binding_mismatch", "access token is bound to a different key")
	ErrServiceUnavailable    = authErr(http.StatusServiceUnavailable, "service_unavailable", "validation temporarily unavailable")
)

// Bearer and refresh verdicts.
var (
	ErrInvalidAuthHeader     = authErr(http.StatusBadRequest, "invalid_auth_header", "Authorization header is missing or malformed")
	ErrJWTVerificationFailed = authErr(http.StatusUnauthorized, "jwt_verification_failed", "access token verification failed")
	ErrRateLimitExceeded     = authErr(http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded")
	ErrInvalidRefreshToken   = authErr(http.StatusUnauthorized, "invalid_refresh_token", "refresh token is not recognised")
	ErrTokenExpiredOrRevoked = authErr(http.StatusUnauthorized, "token_expired_or_revoked", "refresh token is expired or revoked")
	ErrDeviceMismatch        = authErr(http.StatusUnauthorized, "device_mismatch", "refresh token belongs to a different device")
)

// Device registration verdicts.
var (
	ErrDeviceSuspended          = authErr(http.StatusForbidden, "device_suspended", "device is suspended")
	ErrDeviceFingerprintChanged = authErr(http.StatusUnauthorized, "device_fingerprint_mismatch", "device fingerprint does not match registration")
	ErrUnknownDevice            = authErr(http.StatusUnauthorized, "unknown_device", "device is not registered")
	ErrInvalidDeviceKey         = authErr(http.StatusBadRequest, "invalid_device_key", "device public key is not valid PEM")
	ErrStepUpDenied             = authErr(http.StatusUnauthorized, "step_up_denied", "step-up verification failed")
)
