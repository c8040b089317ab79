// Package dpopx parses and verifies DPoP proofs: compact JWS objects whose
// protected header embeds the device public key as a JWK. The proof binds a
// request to the device key via the htm/htu/iat/jti/nonce claims; the
// thumbprint of the embedded key is matched against the cnf.jkt claim of the
// access token presented alongside it.
package dpopx

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// HeaderType is the required typ value in the proof's protected header.
const HeaderType = "dpop+jwt"

var (
	ErrMalformed       = errors.New("dpopx: malformed proof")
	ErrMissingJWK      = errors.New("dpopx: proof carries no jwk")
	ErrUnsupportedKey  = errors.New("dpopx: unsupported key type")
	ErrSignatureFailed = errors.New("dpopx: signature verification failed")
	ErrMissingJTI      = errors.New("dpopx: proof carries no jti")
)

// Proof is a parsed and signature-verified DPoP proof.
type Proof struct {
	JTI        string
	HTM        string
	HTU        string
	Nonce      string
	IssuedAt   time.Time
	Key        jwk.Key
	Thumbprint string
}

type proofClaims struct {
	JTI   string          `json:"jti"`
	HTM   string          `json:"htm"`
	HTU   string          `json:"htu"`
	IAT   int64           `json:"iat"`
	Nonce string          `json:"nonce"`
	JWK   json.RawMessage `json:"jwk"`
}

// Parse verifies the proof signature against the key embedded in it and
// returns the extracted claims. It does not check iat freshness, jti replay,
// htm/htu binding or the nonce; those are policy decisions left to the
// caller.
func Parse(proof string) (*Proof, error) {
	msg, err := jws.Parse([]byte(proof))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, ErrMalformed
	}
	hdr := sigs[0].ProtectedHeaders()

	if typ := hdr.Type(); typ != HeaderType {
		return nil, fmt.Errorf("%w: typ %q", ErrMalformed, typ)
	}

	var claims proofClaims
	if err := json.Unmarshal(msg.Payload(), &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	key := hdr.JWK()
	if key == nil && len(claims.JWK) > 0 {
		// Some clients ship the key in the payload instead of the
		// protected header; accept both placements.
		key, err = jwk.ParseKey(claims.JWK)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingJWK, err)
		}
	}
	if key == nil {
		return nil, ErrMissingJWK
	}

	switch key.KeyType() {
	case jwa.RSA, jwa.EC:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, key.KeyType())
	}

	alg := hdr.Algorithm()
	if !supportedAlg(alg) {
		return nil, fmt.Errorf("%w: alg %v", ErrUnsupportedKey, hdr.Algorithm())
	}

	if _, err := jws.Verify([]byte(proof), jws.WithKey(alg, key)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureFailed, err)
	}

	thumb, err := Thumbprint(key)
	if err != nil {
		return nil, err
	}

	return &Proof{
		JTI:        claims.JTI,
		HTM:        claims.HTM,
		HTU:        claims.HTU,
		Nonce:      claims.Nonce,
		IssuedAt:   time.Unix(claims.IAT, 0).UTC(),
		Key:        key,
		Thumbprint: thumb,
	}, nil
}

func supportedAlg(alg jwa.SignatureAlgorithm) bool {
	switch alg {
	case jwa.RS256, jwa.RS384, jwa.RS512, jwa.ES256, jwa.ES384, jwa.ES512:
		return true
	default:
		return false
	}
}

// Thumbprint computes the base64url RFC 7638 SHA-256 thumbprint of a JWK.
func Thumbprint(key jwk.Key) (string, error) {
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("dpopx: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// ThumbprintRaw computes the thumbprint of a raw crypto public key, e.g. one
// parsed from a registered device PEM. Used when minting bound access tokens.
func ThumbprintRaw(pub any) (string, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("dpopx: import key: %w", err)
	}
	return Thumbprint(key)
}
