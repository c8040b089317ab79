package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/require"

	"github.com/ezpay/wallet-auth/internal/auth/store/ttl/memory"
	"github.com/ezpay/wallet-auth/pkg/dpopx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
)

const testURI = "https://api.example.com/v1/transfer"

type validationFixture struct {
	svc *ValidationService
	ttl *memory.Store
	key *ecdsa.PrivateKey
}

func newValidationFixture(t *testing.T) *validationFixture {
	t.Helper()

	mem := memory.New()
	limiter := NewRateLimiter(mem, nil, nil, 100, time.Minute)
	svc := NewValidationService(mem, limiter, nil, nil, DefaultValidationConfig())

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	return &validationFixture{svc: svc, ttl: mem, key: key}
}

func (f *validationFixture) trustDevice(t *testing.T, deviceID string) {
	t.Helper()
	require.NoError(t, f.ttl.Set(context.Background(), keyTrust(deviceID), "true", 0))
}

func (f *validationFixture) mintNonce(t *testing.T, deviceID string) string {
	t.Helper()
	nonce, err := f.svc.NewNonce(context.Background(), deviceID)
	require.NoError(t, err)
	return nonce
}

func (f *validationFixture) boundClaims(t *testing.T) *jwtx.Claims {
	t.Helper()
	thumb, err := dpopx.ThumbprintRaw(&f.key.PublicKey)
	require.NoError(t, err)
	claims := jwtx.NewAccessClaims("wallet-auth", "wallet-api", "user-1", "", "dev-1", time.Minute).
		WithBinding(thumb)
	return &claims
}

func (f *validationFixture) request(t *testing.T, opts dpopx.SignOptions, claims *jwtx.Claims) ValidationRequest {
	t.Helper()
	if opts.Method == "" {
		opts.Method = "POST"
	}
	if opts.URI == "" {
		opts.URI = testURI
	}
	proof, err := dpopx.Sign(f.key, opts)
	require.NoError(t, err)
	return ValidationRequest{
		Proof:    proof,
		Method:   opts.Method,
		URI:      opts.URI,
		DeviceID: "dev-1",
		UserType: UserTypeRegistered,
		Claims:   claims,
	}
}

func TestValidate_HappyPathThenReplay(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	ctx := context.Background()
	f.trustDevice(t, "dev-1")
	nonce := f.mintNonce(t, "dev-1")

	req := f.request(t, dpopx.SignOptions{Nonce: nonce}, f.boundClaims(t))

	proof, err := f.svc.Validate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, proof)
	require.Equal(t, nonce, proof.Nonce)

	// The identical proof can never validate twice.
	_, err = f.svc.Validate(ctx, req)
	require.ErrorIs(t, err, ErrDPoPJTIReplay)
}

func TestValidate_NonceConsumedOnce(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	ctx := context.Background()
	f.trustDevice(t, "dev-1")
	nonce := f.mintNonce(t, "dev-1")

	_, err := f.svc.Validate(ctx, f.request(t, dpopx.SignOptions{Nonce: nonce}, f.boundClaims(t)))
	require.NoError(t, err)

	// A fresh proof reusing the consumed nonce is rejected.
	_, err = f.svc.Validate(ctx, f.request(t, dpopx.SignOptions{Nonce: nonce}, f.boundClaims(t)))
	require.ErrorIs(t, err, ErrDPoPInvalidNonce)
}

func TestValidate_WritesAuditRecord(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	ctx := context.Background()
	f.trustDevice(t, "dev-1")
	nonce := f.mintNonce(t, "dev-1")

	req := f.request(t, dpopx.SignOptions{Nonce: nonce}, f.boundClaims(t))
	req.RequestID = "req-9"

	_, err := f.svc.Validate(ctx, req)
	require.NoError(t, err)

	record, err := f.ttl.Get(ctx, keyAudit("req-9"))
	require.NoError(t, err)
	require.Contains(t, record, "dev-1")
}

func TestValidate_MissingHeader(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	_, err := f.svc.Validate(context.Background(), ValidationRequest{DeviceID: "dev-1"})
	require.ErrorIs(t, err, ErrMissingDPoPHeader)
}

func TestValidate_UntrustedDevice(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	req := f.request(t, dpopx.SignOptions{Nonce: "n"}, nil)
	_, err := f.svc.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrUnauthenticatedDevice)
}

func TestValidate_RateLimited(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	limiter := NewRateLimiter(mem, nil, nil, 1, time.Minute)
	svc := NewValidationService(mem, limiter, nil, nil, DefaultValidationConfig())

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	f := &validationFixture{svc: svc, ttl: mem, key: key}

	ctx := context.Background()
	f.trustDevice(t, "dev-1")

	nonce := f.mintNonce(t, "dev-1")
	_, err = svc.Validate(ctx, f.request(t, dpopx.SignOptions{Nonce: nonce}, f.boundClaims(t)))
	require.NoError(t, err)

	_, err = svc.Validate(ctx, f.request(t, dpopx.SignOptions{Nonce: "x"}, nil))
	require.ErrorIs(t, err, ErrDPoPRateLimited)
}

func TestValidate_StaleIat(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	f.trustDevice(t, "dev-1")
	nonce := f.mintNonce(t, "dev-1")

	req := f.request(t, dpopx.SignOptions{
		Nonce:    nonce,
		IssuedAt: time.Now().Add(-6 * time.Minute),
	}, f.boundClaims(t))

	_, err := f.svc.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrDPoPBadIat)
}

func TestValidate_HtmHtuMismatch(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	ctx := context.Background()
	f.trustDevice(t, "dev-1")

	t.Run("method", func(t *testing.T) {
		nonce := f.mintNonce(t, "dev-1")
		req := f.request(t, dpopx.SignOptions{Nonce: nonce, Method: "GET"}, nil)
		req.Method = "POST"
		_, err := f.svc.Validate(ctx, req)
		require.ErrorIs(t, err, ErrDPoPHtmHtuMismatch)
	})

	t.Run("uri", func(t *testing.T) {
		nonce := f.mintNonce(t, "dev-1")
		req := f.request(t, dpopx.SignOptions{Nonce: nonce, URI: "https://api.example.com/v1/other"}, nil)
		req.URI = testURI
		_, err := f.svc.Validate(ctx, req)
		require.ErrorIs(t, err, ErrDPoPHtmHtuMismatch)
	})

	t.Run("case and default port are ignored", func(t *testing.T) {
		nonce := f.mintNonce(t, "dev-1")
		req := f.request(t, dpopx.SignOptions{Nonce: nonce, URI: "https://API.Example.com:443/v1/transfer"}, nil)
		req.URI = testURI
		req.Claims = nil
		_, err := f.svc.Validate(ctx, req)
		require.NoError(t, err)
	})
}

func TestValidate_MissingNonce(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	f.trustDevice(t, "dev-1")

	req := f.request(t, dpopx.SignOptions{}, nil)
	_, err := f.svc.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrDPoPMissingNonce)
}

func TestValidate_TokenBinding(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	ctx := context.Background()
	f.trustDevice(t, "dev-1")

	t.Run("missing cnf", func(t *testing.T) {
		nonce := f.mintNonce(t, "dev-1")
		unbound := jwtx.NewAccessClaims("wallet-auth", "wallet-api", "user-1", "", "dev-1", time.Minute)
		req := f.request(t, dpopx.SignOptions{Nonce: nonce}, &unbound)
		_, err := f.svc.Validate(ctx, req)
		require.ErrorIs(t, err, ErrMissingCnfJkt)
	})

	t.Run("thumbprint mismatch", func(t *testing.T) {
		nonce := f.mintNonce(t, "dev-1")
		wrong := jwtx.NewAccessClaims("wallet-auth", "wallet-api", "user-1", "", "dev-1", time.Minute).
			WithBinding("someone-elses-thumbprint")
		req := f.request(t, dpopx.SignOptions{Nonce: nonce}, &wrong)
		_, err := f.svc.Validate(ctx, req)
		require.ErrorIs(t, err, ErrTokenBindingMismatch)
	})
}

func TestValidate_MissingJTI(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	f.trustDevice(t, "dev-1")
	nonce := f.mintNonce(t, "dev-1")

	// Hand-rolled proof without a jti; the packaged signer always sets one.
	payload, err := json.Marshal(map[string]any{
		"htm":   "POST",
		"htu":   testURI,
		"iat":   time.Now().Unix(),
		"nonce": nonce,
	})
	require.NoError(t, err)

	req := ValidationRequest{
		Proof:    signRawProof(t, f.key, payload),
		Method:   "POST",
		URI:      testURI,
		DeviceID: "dev-1",
		UserType: UserTypeRegistered,
	}
	_, err = f.svc.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrDPoPMissingJTI)
}

func TestValidate_UnsupportedKeyType(t *testing.T) {
	t.Parallel()

	f := newValidationFixture(t)
	f.trustDevice(t, "dev-1")

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"jti": "jti-okp", "htm": "POST", "htu": testURI,
		"iat": time.Now().Unix(), "nonce": "n",
	})
	require.NoError(t, err)

	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	pub, err := key.PublicKey()
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.TypeKey, dpopx.HeaderType))
	require.NoError(t, hdrs.Set(jws.JWKKey, pub))
	proof, err := jws.Sign(payload, jws.WithKey(jwa.EdDSA, key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)

	req := ValidationRequest{
		Proof: string(proof), Method: "POST", URI: testURI,
		DeviceID: "dev-1", UserType: UserTypeRegistered,
	}
	_, err = f.svc.Validate(context.Background(), req)
	require.ErrorIs(t, err, ErrDPoPUnsupportedKey)
}

func signRawProof(t *testing.T, key *ecdsa.PrivateKey, payload []byte) string {
	t.Helper()

	jwkKey, err := jwk.FromRaw(key)
	require.NoError(t, err)
	pub, err := jwkKey.PublicKey()
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.TypeKey, dpopx.HeaderType))
	require.NoError(t, hdrs.Set(jws.JWKKey, pub))

	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256, jwkKey, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

func TestNormalizeURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"https://api.example.com/v1/x", "https://api.example.com/v1/x"},
		{"HTTPS://API.example.com/v1/x", "https://api.example.com/v1/x"},
		{"https://api.example.com:443/v1/x", "https://api.example.com/v1/x"},
		{"http://api.example.com:80/v1/x", "http://api.example.com/v1/x"},
		{"https://api.example.com/v1/x/", "https://api.example.com/v1/x"},
		{"https://api.example.com/v1/x?y=1", "https://api.example.com/v1/x"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, normalizeURI(tt.in), tt.in)
	}
}
