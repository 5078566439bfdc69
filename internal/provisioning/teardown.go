package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ghrunner/internal/logging"

	"go.uber.org/zap"
)

// ErrReservedPrefix is returned for resource group names outside the
// reserved prefix. No destructive call is made for them.
var ErrReservedPrefix = errors.New("resource group name does not start with the reserved prefix")

// ValidateGroupName checks name against the reserved prefix.
func ValidateGroupName(prefix, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrReservedPrefix)
	}
	if !strings.HasPrefix(name, prefix) {
		return fmt.Errorf("%w: %q must start with %q", ErrReservedPrefix, name, prefix)
	}
	return nil
}

// Teardown deletes whole resource groups whose names carry the reserved prefix.
type Teardown struct {
	groups ResourceGroupManager
	prefix string
}

// NewTeardown creates a Teardown operator
func NewTeardown(groups ResourceGroupManager, prefix string) *Teardown {
	return &Teardown{groups: groups, prefix: prefix}
}

// Validate checks name against the reserved prefix.
func (t *Teardown) Validate(name string) error {
	return ValidateGroupName(t.prefix, name)
}

// Delete validates name and deletes the group, waiting for completion.
func (t *Teardown) Delete(ctx context.Context, name string) error {
	if err := t.Validate(name); err != nil {
		return err
	}

	logging.Logger().Info("Deleting resource group", zap.String("resource_group", name))
	if err := t.groups.DeleteResourceGroup(ctx, name); err != nil {
		return err
	}
	logging.Logger().Info("Resource group deleted", zap.String("resource_group", name))
	return nil
}
