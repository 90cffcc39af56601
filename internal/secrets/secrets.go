package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/secrets"
)

var (
	ErrEmptySecret       = errors.New("secret bundle is empty")
	ErrUnsupportedBundle = errors.New("unsupported secret bundle content")
)

// TokenProvider supplies the bearer token of the autoscaler's Kubernetes
// service account.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type bundleGetter interface {
	GetSecretBundle(ctx context.Context, request secrets.GetSecretBundleRequest) (secrets.GetSecretBundleResponse, error)
}

// VaultTokenProvider reads the token from an OCI Vault secret whose content
// is the base64 encoded token.
type VaultTokenProvider struct {
	client   bundleGetter
	secretID string
}

func NewVaultTokenProvider(provider common.ConfigurationProvider, region, secretID string) (*VaultTokenProvider, error) {
	client, err := secrets.NewSecretsClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets client: %w", err)
	}
	if region != "" {
		client.SetRegion(region)
	}
	return &VaultTokenProvider{client: client, secretID: secretID}, nil
}

func (p *VaultTokenProvider) Token(ctx context.Context) (string, error) {
	resp, err := p.client.GetSecretBundle(ctx, secrets.GetSecretBundleRequest{
		SecretId: common.String(p.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret bundle %s: %w", p.secretID, err)
	}

	var content *string
	switch c := resp.SecretBundle.SecretBundleContent.(type) {
	case secrets.Base64SecretBundleContentDetails:
		content = c.Content
	case *secrets.Base64SecretBundleContentDetails:
		content = c.Content
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedBundle, c)
	}

	return decodeToken(content)
}

func decodeToken(content *string) (string, error) {
	if content == nil || *content == "" {
		return "", ErrEmptySecret
	}

	raw, err := base64.StdEncoding.DecodeString(*content)
	if err != nil {
		return "", fmt.Errorf("failed to decode secret content: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", ErrEmptySecret
	}
	return token, nil
}

// StaticTokenProvider returns a fixed token.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p == "" {
		return "", ErrEmptySecret
	}
	return string(p), nil
}
