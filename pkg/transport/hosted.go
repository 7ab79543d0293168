package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/internal/tracing"
)

// Token errors
var (
	ErrNoSigningSecret = errors.New("hosted token signing secret is not configured")
)

// TokenMinter mints short-lived bearer tokens for hosted tool endpoints.
// The remote endpoint verifies the HS256 signature and reads the
// organization, integration type and credentials from the claims.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenMinter creates a token minter with the given secret and token
// lifetime. A zero lifetime defaults to one hour.
func NewTokenMinter(secret []byte, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenMinter{secret: secret, ttl: ttl}
}

// Mint creates a signed bearer token scoped to one integration.
func (m *TokenMinter) Mint(organizationID string, integrationType TransportType, credentials map[string]interface{}) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNoSigningSecret
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"org":              organizationID,
		"integration_type": string(integrationType),
		"credentials":      credentials,
		"iat":              now.Unix(),
		"exp":              now.Add(m.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates a minted token and returns the organization claim. The
// remote endpoint performs the same check; this side of it exists for
// tests and local verification.
func (m *TokenMinter) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	org, _ := claims["org"].(string)
	return org, nil
}

// HostedAdapter produces hosted-tool references. It opens no local
// connection; the model provider talks to the remote endpoint directly.
type HostedAdapter struct {
	minter *TokenMinter
}

// NewHostedAdapter creates a hosted transport adapter. A nil minter
// disables token minting (development posture).
func NewHostedAdapter(minter *TokenMinter) *HostedAdapter {
	return &HostedAdapter{minter: minter}
}

// Type returns TransportHosted
func (a *HostedAdapter) Type() TransportType { return TransportHosted }

// Create builds a hosted-tool reference from the descriptor.
func (a *HostedAdapter) Create(ctx context.Context, desc *IntegrationDescriptor) (ToolSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	source := &HostedSource{
		integration:   desc.Name,
		RemoteURL:     stringCredential(desc.Credentials, "remoteUrl"),
		Label:         stringCredential(desc.Credentials, "remoteLabel"),
		selectedTools: desc.SelectedTools,
	}

	if a.minter != nil {
		token, err := a.minter.Mint(tracing.GetOrganizationID(ctx), desc.Type, desc.Credentials)
		if err != nil {
			return nil, fmt.Errorf("%w: minting hosted token for %s: %v", ErrBadConfiguration, desc.Name, err)
		}
		source.AuthToken = token
	}

	// Hosted servers expose their whole catalog; a selection list is
	// configuration without runtime effect and must not be silently eaten.
	if len(desc.SelectedTools) > 0 {
		log.Warn().
			Str("integration", desc.Name).
			Strs("selected_tools", desc.SelectedTools).
			Msg("Tool selection has no effect on hosted transports")
	}

	return source, nil
}
