package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSealOpenRoundTrip(t *testing.T) {
	resolver, err := NewAESResolver(testKey)
	require.NoError(t, err)

	sealed, err := resolver.Seal("api-key-secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))

	plain, err := resolver.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-key-secret", plain)
}

func TestOpenPassesThroughPlaintext(t *testing.T) {
	resolver, err := NewAESResolver(testKey)
	require.NoError(t, err)

	plain, err := resolver.Open("not-sealed")
	require.NoError(t, err)
	assert.Equal(t, "not-sealed", plain)
}

func TestOpenRejectsTamperedEnvelope(t *testing.T) {
	resolver, err := NewAESResolver(testKey)
	require.NoError(t, err)

	sealed, err := resolver.Seal("secret")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "xx"
	_, err = resolver.Open(tampered)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpenRejectsForeignKey(t *testing.T) {
	sealer, err := NewAESResolver(testKey)
	require.NoError(t, err)
	opener, err := NewAESResolver([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("secret")
	require.NoError(t, err)

	_, err = opener.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewAESResolverRejectsBadKeyLength(t *testing.T) {
	_, err := NewAESResolver([]byte("short"))
	assert.Error(t, err)
}

func TestResolveOpensNestedLeaves(t *testing.T) {
	resolver, err := NewAESResolver(testKey)
	require.NoError(t, err)

	sealedToken, err := resolver.Seal("tok-123")
	require.NoError(t, err)

	creds := map[string]interface{}{
		"endpointUrl": "https://tools.example.com/mcp",
		"auth": map[string]interface{}{
			"type":  "bearer",
			"token": sealedToken,
		},
		"timeout": float64(30),
	}

	resolved, err := resolver.Resolve(creds)
	require.NoError(t, err)

	assert.Equal(t, "https://tools.example.com/mcp", resolved["endpointUrl"])
	assert.Equal(t, float64(30), resolved["timeout"])
	auth := resolved["auth"].(map[string]interface{})
	assert.Equal(t, "tok-123", auth["token"])

	// The original map is untouched.
	assert.Equal(t, sealedToken, creds["auth"].(map[string]interface{})["token"])
}

func TestPassthroughResolver(t *testing.T) {
	t.Run("plaintext passes through", func(t *testing.T) {
		resolved, err := PassthroughResolver{}.Resolve(map[string]interface{}{
			"command": "mcp-server",
		})
		require.NoError(t, err)
		assert.Equal(t, "mcp-server", resolved["command"])
	})

	t.Run("sealed value is an error", func(t *testing.T) {
		_, err := PassthroughResolver{}.Resolve(map[string]interface{}{
			"token": envelopePrefix + "AAAA",
		})
		assert.ErrorIs(t, err, ErrNoKey)
	})
}
