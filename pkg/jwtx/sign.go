package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Sign signs the claim set with the active key. The kid and alg land in the
// protected header so verifiers can select the right public key.
func (km *KeyManager) Sign(claims Claims) (string, error) {
	sk, err := km.signer()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(sk.method, claims)
	token.Header["kid"] = sk.kid

	signed, err := token.SignedString(sk.priv)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}
