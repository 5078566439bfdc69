package provisioning

import (
	"context"
	"fmt"

	"ghrunner/internal/logging"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"go.uber.org/zap"
)

// AzureCloud implements Cloud against Azure Resource Manager. It is built
// per request from injected settings and holds no shared state.
type AzureCloud struct {
	groups     *armresources.ResourceGroupsClient
	vnets      *armnetwork.VirtualNetworksClient
	subnets    *armnetwork.SubnetsClient
	publicIPs  *armnetwork.PublicIPAddressesClient
	nsgs       *armnetwork.SecurityGroupsClient
	rules      *armnetwork.SecurityRulesClient
	interfaces *armnetwork.InterfacesClient
	vms        *armcompute.VirtualMachinesClient
}

// NewAzureCloud creates the ARM clients for subscriptionID.
func NewAzureCloud(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions) (*AzureCloud, error) {
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource group client: %w", err)
	}
	network, err := armnetwork.NewClientFactory(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create network client factory: %w", err)
	}
	vms, err := armcompute.NewVirtualMachinesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual machine client: %w", err)
	}

	return &AzureCloud{
		groups:     groups,
		vnets:      network.NewVirtualNetworksClient(),
		subnets:    network.NewSubnetsClient(),
		publicIPs:  network.NewPublicIPAddressesClient(),
		nsgs:       network.NewSecurityGroupsClient(),
		rules:      network.NewSecurityRulesClient(),
		interfaces: network.NewInterfacesClient(),
		vms:        vms,
	}, nil
}

// EnsureResourceGroup implements ResourceGroupManager
func (c *AzureCloud) EnsureResourceGroup(ctx context.Context, name, location string) error {
	_, err := c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return &Error{Resource: "resource group", Name: name, Err: err}
	}
	return nil
}

// DeleteResourceGroup implements ResourceGroupManager
func (c *AzureCloud) DeleteResourceGroup(ctx context.Context, name string) error {
	poller, err := c.groups.BeginDelete(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("failed to delete resource group %q: %w", name, err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return fmt.Errorf("failed to wait for deletion of resource group %q: %w", name, err)
	}
	return nil
}

// ListResourceGroups implements ResourceGroupManager
func (c *AzureCloud) ListResourceGroups(ctx context.Context) ([]string, error) {
	var names []string
	pager := c.groups.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resource groups: %w", err)
		}
		for _, group := range page.Value {
			if group != nil && group.Name != nil {
				names = append(names, *group.Name)
			}
		}
	}
	return names, nil
}

// EnsureVirtualNetwork implements NetworkManager
func (c *AzureCloud) EnsureVirtualNetwork(ctx context.Context, resourceGroup string, spec VirtualNetworkSpec) (string, error) {
	poller, err := c.vnets.BeginCreateOrUpdate(ctx, resourceGroup, spec.Name, armnetwork.VirtualNetwork{
		Location: to.Ptr(spec.Location),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{
				AddressPrefixes: []*string{to.Ptr(spec.AddressPrefix)},
			},
		},
	}, nil)
	if err != nil {
		return "", &Error{Resource: "virtual network", Name: spec.Name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "virtual network", Name: spec.Name, Err: err}
	}
	return deref(resp.ID), nil
}

// EnsureSubnet implements NetworkManager
func (c *AzureCloud) EnsureSubnet(ctx context.Context, resourceGroup, vnetName string, spec SubnetSpec) (string, error) {
	poller, err := c.subnets.BeginCreateOrUpdate(ctx, resourceGroup, vnetName, spec.Name, armnetwork.Subnet{
		Properties: &armnetwork.SubnetPropertiesFormat{
			AddressPrefix: to.Ptr(spec.AddressPrefix),
		},
	}, nil)
	if err != nil {
		return "", &Error{Resource: "subnet", Name: spec.Name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "subnet", Name: spec.Name, Err: err}
	}
	return deref(resp.ID), nil
}

// EnsurePublicIP implements NetworkManager
func (c *AzureCloud) EnsurePublicIP(ctx context.Context, resourceGroup, name, location string) (string, error) {
	poller, err := c.publicIPs.BeginCreateOrUpdate(ctx, resourceGroup, name, armnetwork.PublicIPAddress{
		Location: to.Ptr(location),
		SKU: &armnetwork.PublicIPAddressSKU{
			Name: to.Ptr(armnetwork.PublicIPAddressSKUNameStandard),
			Tier: to.Ptr(armnetwork.PublicIPAddressSKUTierRegional),
		},
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodStatic),
			PublicIPAddressVersion:   to.Ptr(armnetwork.IPVersionIPv4),
		},
	}, nil)
	if err != nil {
		return "", &Error{Resource: "public ip", Name: name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "public ip", Name: name, Err: err}
	}
	return deref(resp.ID), nil
}

// EnsureSecurityGroup implements NetworkManager
func (c *AzureCloud) EnsureSecurityGroup(ctx context.Context, resourceGroup, name, location string) (string, error) {
	poller, err := c.nsgs.BeginCreateOrUpdate(ctx, resourceGroup, name, armnetwork.SecurityGroup{
		Location: to.Ptr(location),
	}, nil)
	if err != nil {
		return "", &Error{Resource: "network security group", Name: name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "network security group", Name: name, Err: err}
	}
	return deref(resp.ID), nil
}

// EnsureSecurityRule implements NetworkManager
func (c *AzureCloud) EnsureSecurityRule(ctx context.Context, resourceGroup, nsgName string, spec SecurityRuleSpec) (string, error) {
	poller, err := c.rules.BeginCreateOrUpdate(ctx, resourceGroup, nsgName, spec.Name, armnetwork.SecurityRule{
		Properties: &armnetwork.SecurityRulePropertiesFormat{
			Protocol:                 to.Ptr(armnetwork.SecurityRuleProtocolTCP),
			Access:                   to.Ptr(armnetwork.SecurityRuleAccessAllow),
			Direction:                to.Ptr(armnetwork.SecurityRuleDirectionInbound),
			Priority:                 to.Ptr(spec.Priority),
			SourceAddressPrefix:      to.Ptr("*"),
			SourcePortRange:          to.Ptr("*"),
			DestinationAddressPrefix: to.Ptr("*"),
			DestinationPortRange:     to.Ptr(fmt.Sprintf("%d", spec.Port)),
		},
	}, nil)
	if err != nil {
		return "", &Error{Resource: "security rule", Name: spec.Name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "security rule", Name: spec.Name, Err: err}
	}
	return deref(resp.ID), nil
}

// EnsureNetworkInterface implements NetworkManager
func (c *AzureCloud) EnsureNetworkInterface(ctx context.Context, resourceGroup string, spec InterfaceSpec) (string, error) {
	if err := spec.validate(); err != nil {
		return "", &Error{Resource: "network interface", Name: spec.Name, Err: err}
	}

	poller, err := c.interfaces.BeginCreateOrUpdate(ctx, resourceGroup, spec.Name, armnetwork.Interface{
		Location: to.Ptr(spec.Location),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{
				{
					Name: to.Ptr("ipconfig1"),
					Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
						Subnet:                    &armnetwork.Subnet{ID: to.Ptr(spec.SubnetID)},
						PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(spec.PublicIPID)},
						PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
					},
				},
			},
			NetworkSecurityGroup: &armnetwork.SecurityGroup{ID: to.Ptr(spec.SecurityGroupID)},
		},
	}, nil)
	if err != nil {
		return "", &Error{Resource: "network interface", Name: spec.Name, Err: err}
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", &Error{Resource: "network interface", Name: spec.Name, Err: err}
	}
	return deref(resp.ID), nil
}

// BeginCreateVirtualMachine implements ComputeManager. The poller is not
// awaited; callers poll the provider for VM readiness.
func (c *AzureCloud) BeginCreateVirtualMachine(ctx context.Context, resourceGroup string, spec VMSpec) error {
	_, err := c.vms.BeginCreateOrUpdate(ctx, resourceGroup, spec.Name, armcompute.VirtualMachine{
		Location: to.Ptr(spec.Location),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(spec.Size)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{
					ID: to.Ptr(spec.ImageID),
				},
				OSDisk: &armcompute.OSDisk{
					CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
					DeleteOption: to.Ptr(armcompute.DiskDeleteOptionTypesDelete),
					ManagedDisk: &armcompute.ManagedDiskParameters{
						StorageAccountType: to.Ptr(armcompute.StorageAccountTypesPremiumLRS),
					},
				},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:  to.Ptr(spec.ComputerName),
				AdminUsername: to.Ptr(spec.AdminUsername),
				AdminPassword: to.Ptr(spec.AdminPassword),
				CustomData:    to.Ptr(spec.CustomData),
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{
					{
						ID: to.Ptr(spec.NetworkInterfaceID),
						Properties: &armcompute.NetworkInterfaceReferenceProperties{
							Primary: to.Ptr(true),
						},
					},
				},
			},
		},
	}, nil)
	if err != nil {
		return &Error{Resource: "virtual machine", Name: spec.Name, Err: err}
	}

	logging.Logger().Info("Virtual machine creation submitted",
		zap.String("resource_group", resourceGroup),
		zap.String("vm", spec.Name),
		zap.String("size", spec.Size))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
