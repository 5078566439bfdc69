package secrets

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// KeyVault reads secrets from an Azure Key Vault.
type KeyVault struct {
	client *azsecrets.Client
}

// NewKeyVault creates a Key Vault accessor for vaultURL.
func NewKeyVault(vaultURL string, cred azcore.TokenCredential) (*KeyVault, error) {
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key vault client: %w", err)
	}
	return &KeyVault{client: client}, nil
}

// Get returns the latest version of the named secret.
func (k *KeyVault) Get(ctx context.Context, key string) (string, error) {
	resp, err := k.client.GetSecret(ctx, key, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %q from key vault: %w", key, err)
	}
	if resp.Value == nil {
		return "", fmt.Errorf("%w: %s has no value", ErrNotFound, key)
	}
	return *resp.Value, nil
}
