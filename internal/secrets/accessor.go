// Package secrets provides opaque lookup of named secrets.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"ghrunner/internal/config"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ErrNotFound is returned when a backend has no value for a key.
var ErrNotFound = errors.New("secret not found")

// Accessor retrieves secret values by name. Failures are returned to the
// caller as-is; implementations never retry.
type Accessor interface {
	Get(ctx context.Context, key string) (string, error)
}

// NewAccessor creates the accessor selected by cfg.Backend.
func NewAccessor(cfg config.SecretsConfig, cred azcore.TokenCredential) (Accessor, error) {
	switch cfg.Backend {
	case config.SecretBackendKeyVault:
		if cred == nil {
			return nil, fmt.Errorf("keyvault backend requires a credential")
		}
		return NewKeyVault(cfg.VaultURL, cred)

	case config.SecretBackendEtcd:
		return NewEtcd(cfg.EtcdEndpoints)

	case config.SecretBackendEnv:
		return NewEnv(), nil

	default:
		return nil, fmt.Errorf("unsupported secret backend: %s", cfg.Backend)
	}
}

// Error is a failed secret lookup.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to access secret %q: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetch reads key from acc and wraps any failure in *Error.
func Fetch(ctx context.Context, acc Accessor, key string) (string, error) {
	v, err := acc.Get(ctx, key)
	if err != nil {
		return "", &Error{Key: key, Err: err}
	}
	return v, nil
}

// Memory is a fixed in-process secret map.
type Memory map[string]string

// Get implements Accessor
func (m Memory) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}
