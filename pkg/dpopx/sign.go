package dpopx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/ezpay/wallet-auth/pkg/idx"
)

// SignOptions controls proof construction.
type SignOptions struct {
	Method   string
	URI      string
	Nonce    string
	IssuedAt time.Time
	JTI      string
}

// Sign builds a DPoP proof over the given request using a raw private key
// (RSA or ECDSA). The public half is embedded in the protected header.
// Primarily used by test clients.
func Sign(priv any, opts SignOptions) (string, error) {
	key, err := jwk.FromRaw(priv)
	if err != nil {
		return "", fmt.Errorf("dpopx: import private key: %w", err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return "", fmt.Errorf("dpopx: derive public key: %w", err)
	}

	var alg jwa.SignatureAlgorithm
	switch key.KeyType() {
	case jwa.RSA:
		alg = jwa.RS256
	case jwa.EC:
		alg = jwa.ES256
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKey, key.KeyType())
	}

	if opts.IssuedAt.IsZero() {
		opts.IssuedAt = time.Now().UTC()
	}
	if opts.JTI == "" {
		opts.JTI = idx.New().String()
	}

	payload, err := json.Marshal(proofClaims{
		JTI:   opts.JTI,
		HTM:   opts.Method,
		HTU:   opts.URI,
		IAT:   opts.IssuedAt.Unix(),
		Nonce: opts.Nonce,
	})
	if err != nil {
		return "", fmt.Errorf("dpopx: marshal claims: %w", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, HeaderType); err != nil {
		return "", err
	}
	if err := hdrs.Set(jws.JWKKey, pub); err != nil {
		return "", err
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("dpopx: sign: %w", err)
	}
	return string(signed), nil
}
