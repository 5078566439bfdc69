package provisioning

import (
	"context"
	"errors"

	"ghrunner/internal/config"
	"ghrunner/internal/logging"
	"ghrunner/internal/secrets"

	"go.uber.org/zap"
)

// ErrMissingImage means CUSTOM_IMAGE_ID is not configured. There is no
// marketplace fallback.
var ErrMissingImage = errors.New("custom image id is not configured (set CUSTOM_IMAGE_ID)")

// maxComputerNameLength is the Windows NetBIOS limit.
const maxComputerNameLength = 15

// ComputeProvisioner ensures the resource group and submits the runner VM.
type ComputeProvisioner struct {
	groups  ResourceGroupManager
	compute ComputeManager
	secrets secrets.Accessor
	cfg     config.AzureConfig
}

// NewComputeProvisioner creates a ComputeProvisioner
func NewComputeProvisioner(groups ResourceGroupManager, compute ComputeManager, acc secrets.Accessor, cfg config.AzureConfig) *ComputeProvisioner {
	return &ComputeProvisioner{
		groups:  groups,
		compute: compute,
		secrets: acc,
		cfg:     cfg,
	}
}

// ResolveImage returns the configured custom image ID.
func ResolveImage(cfg config.AzureConfig) (string, error) {
	if cfg.CustomImageID == "" {
		return "", ErrMissingImage
	}
	return cfg.CustomImageID, nil
}

// EnsureResourceGroup creates or updates resourceGroup at the configured location.
func (p *ComputeProvisioner) EnsureResourceGroup(ctx context.Context, resourceGroup string) error {
	logging.Logger().Info("Reconciling resource group",
		zap.String("resource_group", resourceGroup),
		zap.String("location", p.cfg.Location))
	return p.groups.EnsureResourceGroup(ctx, resourceGroup, p.cfg.Location)
}

// Submit fetches the admin password and submits VM creation with customData
// attached. It returns as soon as the provider accepts the request.
func (p *ComputeProvisioner) Submit(ctx context.Context, resourceGroup, customData, nicID string) error {
	imageID, err := ResolveImage(p.cfg)
	if err != nil {
		return err
	}

	adminPassword, err := secrets.Fetch(ctx, p.secrets, config.SecretVMAdminPassword)
	if err != nil {
		return err
	}

	spec := VMSpec{
		Name:               p.cfg.VMName,
		Location:           p.cfg.Location,
		Size:               p.cfg.VMSize,
		ImageID:            imageID,
		ComputerName:       ComputerName(p.cfg.VMName),
		AdminUsername:      p.cfg.AdminUsername,
		AdminPassword:      adminPassword,
		CustomData:         customData,
		NetworkInterfaceID: nicID,
	}

	logging.Logger().Info("Submitting virtual machine",
		zap.String("resource_group", resourceGroup),
		zap.String("vm", spec.Name),
		zap.String("image", spec.ImageID),
		zap.String("custom_data", logging.Redact(customData)))

	return p.compute.BeginCreateVirtualMachine(ctx, resourceGroup, spec)
}

// ComputerName derives a guest host name from the VM name.
func ComputerName(vmName string) string {
	if len(vmName) > maxComputerNameLength {
		return vmName[:maxComputerNameLength]
	}
	return vmName
}
