package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ezpay/wallet-auth/pkg/cryptox"
)

var (
	ErrNoActiveKey  = errors.New("jwtx: no active signing key")
	ErrUnknownKeyID = errors.New("jwtx: unknown key id")
)

// signingKey pairs a private key with its derived kid and algorithm.
type signingKey struct {
	kid    string
	alg    string
	priv   crypto.PrivateKey
	pub    crypto.PublicKey
	method jwt.SigningMethod
}

// KeyManager holds the signing key set. The lexicographically greatest key
// file is the active signer; older keys remain verifiable until removed,
// which lets rotation happen without invalidating in-flight tokens.
type KeyManager struct {
	mu     sync.RWMutex
	keys   map[string]*signingKey
	active string
}

// NewKeyManager loads all *.pem files from dir. File names (without
// extension) become key ids, so rotation is "drop a new PEM with a higher
// name and call Reload".
func NewKeyManager(dir string) (*KeyManager, error) {
	km := &KeyManager{keys: make(map[string]*signingKey)}
	if err := km.loadDir(dir); err != nil {
		return nil, err
	}
	return km, nil
}

// NewKeyManagerFromPEM builds a manager holding a single key, mainly for
// tests and single-key deployments.
func NewKeyManagerFromPEM(kid string, pemBytes []byte) (*KeyManager, error) {
	km := &KeyManager{keys: make(map[string]*signingKey)}
	if err := km.add(kid, pemBytes); err != nil {
		return nil, err
	}
	km.active = kid
	return km, nil
}

// Reload re-reads the key directory, replacing the key set atomically.
func (km *KeyManager) Reload(dir string) error {
	return km.loadDir(dir)
}

func (km *KeyManager) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("jwtx: read key dir: %w", err)
	}

	keys := make(map[string]*signingKey)
	var kids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		pemBytes, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("jwtx: read key %s: %w", e.Name(), err)
		}
		kid := strings.TrimSuffix(e.Name(), ".pem")
		sk, err := parseSigningKey(kid, pemBytes)
		if err != nil {
			return err
		}
		keys[kid] = sk
		kids = append(kids, kid)
	}
	if len(kids) == 0 {
		return ErrNoActiveKey
	}
	sort.Strings(kids)

	km.mu.Lock()
	km.keys = keys
	km.active = kids[len(kids)-1]
	km.mu.Unlock()
	return nil
}

func (km *KeyManager) add(kid string, pemBytes []byte) error {
	sk, err := parseSigningKey(kid, pemBytes)
	if err != nil {
		return err
	}
	km.mu.Lock()
	km.keys[kid] = sk
	km.mu.Unlock()
	return nil
}

func parseSigningKey(kid string, pemBytes []byte) (*signingKey, error) {
	priv, err := cryptox.ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: key %s: %w", kid, err)
	}

	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &signingKey{kid: kid, alg: "RS256", priv: k, pub: &k.PublicKey, method: jwt.SigningMethodRS256}, nil
	case *ecdsa.PrivateKey:
		return &signingKey{kid: kid, alg: "ES256", priv: k, pub: &k.PublicKey, method: jwt.SigningMethodES256}, nil
	default:
		return nil, fmt.Errorf("jwtx: key %s: unsupported key type %T", kid, priv)
	}
}

// ActiveKid returns the kid tokens are currently signed with.
func (km *KeyManager) ActiveKid() (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.active == "" {
		return "", ErrNoActiveKey
	}
	return km.active, nil
}

func (km *KeyManager) signer() (*signingKey, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	sk, ok := km.keys[km.active]
	if !ok {
		return nil, ErrNoActiveKey
	}
	return sk, nil
}

func (km *KeyManager) publicKey(kid string) (crypto.PublicKey, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	sk, ok := km.keys[kid]
	if !ok {
		return nil, ErrUnknownKeyID
	}
	return sk.pub, nil
}

// PublicThumbprints returns the base64url SHA-256 thumbprint of every held
// public key, keyed by kid. Exposed by readiness checks for ops visibility.
func (km *KeyManager) PublicThumbprints() map[string]string {
	km.mu.RLock()
	defer km.mu.RUnlock()

	out := make(map[string]string, len(km.keys))
	for kid, sk := range km.keys {
		pemStr, err := cryptox.MarshalPublicKeyPEM(sk.pub)
		if err != nil {
			continue
		}
		sum := sha256.Sum256([]byte(pemStr))
		out[kid] = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return out
}
