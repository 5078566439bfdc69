package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env reads secrets from SECRET_<KEY> variables, where the key is upper-cased
// and dashes become underscores (github-runner-pat -> SECRET_GITHUB_RUNNER_PAT).
type Env struct {
	lookup func(string) (string, bool)
}

// NewEnv creates an accessor over the process environment.
func NewEnv() *Env {
	return &Env{lookup: os.LookupEnv}
}

// EnvName returns the variable name that holds key.
func EnvName(key string) string {
	return "SECRET_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Get implements Accessor
func (e *Env) Get(_ context.Context, key string) (string, error) {
	v, ok := e.lookup(EnvName(key))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotFound, key, EnvName(key))
	}
	return v, nil
}
