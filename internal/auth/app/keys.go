package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ezpay/wallet-auth/pkg/cryptox"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
)

// InitAuthKeys loads signing keys from the configured directory, or
// generates an ephemeral key when none is configured. Ephemeral keys mean
// every restart invalidates outstanding access tokens; refresh rotation
// recovers clients transparently.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	if cfg.KeyDir != "" {
		km, err := jwtx.NewKeyManager(cfg.KeyDir)
		if err != nil {
			return nil, fmt.Errorf("load signing keys: %w", err)
		}
		kid, _ := km.ActiveKid()
		logger.Info("signing keys loaded", "dir", cfg.KeyDir, "active_kid", kid)
		return km, nil
	}

	var (
		pemBytes []byte
		err      error
	)
	switch strings.ToUpper(cfg.Algorithm) {
	case "RS256":
		pemBytes, err = cryptox.GenerateRSAKey(2048)
	case "ES256", "":
		pemBytes, err = cryptox.GenerateES256Key()
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	km, err := jwtx.NewKeyManagerFromPEM("ephemeral-1", pemBytes)
	if err != nil {
		return nil, err
	}
	logger.Warn("using ephemeral signing key; tokens will not survive restart",
		"algorithm", cfg.Algorithm)
	return km, nil
}
