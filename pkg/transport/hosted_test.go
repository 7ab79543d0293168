package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/tracing"
)

func hostedDescriptor(selected ...string) *IntegrationDescriptor {
	return &IntegrationDescriptor{
		Type: TransportHosted,
		Name: "linear",
		Credentials: map[string]interface{}{
			"remoteUrl":   "https://mcp.example.com/linear",
			"remoteLabel": "linear",
		},
		SelectedTools: selected,
		Enabled:       true,
	}
}

func TestTokenMinterRoundTrip(t *testing.T) {
	minter := NewTokenMinter([]byte("test-secret"), time.Minute)

	token, err := minter.Mint("org-42", TransportHosted, map[string]interface{}{
		"remoteUrl": "https://mcp.example.com/linear",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	org, err := minter.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "org-42", org)
}

func TestTokenMinterRejectsForeignSignature(t *testing.T) {
	minter := NewTokenMinter([]byte("secret-a"), time.Minute)
	other := NewTokenMinter([]byte("secret-b"), time.Minute)

	token, err := minter.Mint("org-42", TransportHosted, nil)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenMinterRequiresSecret(t *testing.T) {
	minter := NewTokenMinter(nil, time.Minute)

	_, err := minter.Mint("org-42", TransportHosted, nil)
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestHostedAdapterCreate(t *testing.T) {
	adapter := NewHostedAdapter(NewTokenMinter([]byte("test-secret"), time.Minute))
	ctx := tracing.WithOrganizationID(context.Background(), "org-42")

	source, err := adapter.Create(ctx, hostedDescriptor())
	require.NoError(t, err)

	hosted, ok := source.(*HostedSource)
	require.True(t, ok)
	assert.Equal(t, "linear", hosted.Integration())
	assert.Equal(t, SourceKindHosted, hosted.Kind())
	assert.Equal(t, "https://mcp.example.com/linear", hosted.RemoteURL)
	assert.Equal(t, "linear", hosted.Label)
	assert.NotEmpty(t, hosted.AuthToken)
}

func TestHostedAdapterCreateWithoutMinter(t *testing.T) {
	adapter := NewHostedAdapter(nil)

	source, err := adapter.Create(context.Background(), hostedDescriptor())
	require.NoError(t, err)

	hosted := source.(*HostedSource)
	assert.Empty(t, hosted.AuthToken)
}

func TestHostedSourceLifecycle(t *testing.T) {
	adapter := NewHostedAdapter(nil)
	source, err := adapter.Create(context.Background(), hostedDescriptor())
	require.NoError(t, err)

	// Hosted sources hold no local connection; the whole lifecycle is
	// no-ops except enumeration, which is delegated to the provider.
	assert.NoError(t, source.Connect(context.Background()))

	_, err = source.Tools(context.Background())
	assert.ErrorIs(t, err, ErrHostedNotEnumerable)

	assert.NoError(t, source.Close())
	assert.NoError(t, source.Close())
}

func TestHostedSourceCarriesIgnoredSelection(t *testing.T) {
	adapter := NewHostedAdapter(nil)
	source, err := adapter.Create(context.Background(), hostedDescriptor("create_issue"))
	require.NoError(t, err)

	hosted := source.(*HostedSource)
	assert.Equal(t, []string{"create_issue"}, hosted.IgnoredToolSelection())
}
