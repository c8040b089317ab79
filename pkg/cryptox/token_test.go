package cryptox

import (
	"crypto"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"256-bit token", TokenSize256},
		{"512-bit token", TokenSize512},
		{"custom size", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			token2, err := GenerateToken(tt.size)
			require.NoError(t, err)
			require.NotEqual(t, token, token2, "tokens should be unique")
		})
	}
}

func TestGenerateToken_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		token, err := GenerateToken(size)
		require.Error(t, err)
		require.Empty(t, token)
	}
}

func TestFingerprintToken(t *testing.T) {
	token, err := GenerateToken(TokenSize512)
	require.NoError(t, err)

	fp1 := FingerprintToken(token)
	fp2 := FingerprintToken(token)
	require.Equal(t, fp1, fp2, "fingerprint must be deterministic")
	require.Len(t, fp1, 43, "base64url SHA-256 without padding")

	other, err := GenerateToken(TokenSize512)
	require.NoError(t, err)
	require.NotEqual(t, fp1, FingerprintToken(other))
}

func TestKeyPEMRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("es256", func(t *testing.T) {
		pemBytes, err := GenerateES256Key()
		require.NoError(t, err)

		priv, err := ParsePrivateKeyPEM(pemBytes)
		require.NoError(t, err)
		require.NotNil(t, priv)
	})

	t.Run("rsa", func(t *testing.T) {
		pemBytes, err := GenerateRSAKey(2048)
		require.NoError(t, err)

		priv, err := ParsePrivateKeyPEM(pemBytes)
		require.NoError(t, err)
		require.NotNil(t, priv)
	})

	t.Run("rsa too small", func(t *testing.T) {
		_, err := GenerateRSAKey(1024)
		require.Error(t, err)
	})
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	pemBytes, err := GenerateES256Key()
	require.NoError(t, err)
	priv, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)

	signer, ok := priv.(crypto.Signer)
	require.True(t, ok)
	pub := signer.Public()

	pubPEM, err := MarshalPublicKeyPEM(pub)
	require.NoError(t, err)

	parsed, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)
	require.Equal(t, pub, parsed)
}

func TestParsePublicKeyPEM_Invalid(t *testing.T) {
	_, err := ParsePublicKeyPEM("not a pem")
	require.Error(t, err)
}
