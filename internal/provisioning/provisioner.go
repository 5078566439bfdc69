// Package provisioning creates the network and compute resources a runner VM
// needs inside one resource group, and tears resource groups down again.
package provisioning

import (
	"context"
	"fmt"
)

// VirtualNetworkSpec describes the runner's virtual network.
type VirtualNetworkSpec struct {
	Name          string
	Location      string
	AddressPrefix string
}

// SubnetSpec describes the subnet inside the virtual network.
type SubnetSpec struct {
	Name          string
	AddressPrefix string
}

// SecurityRuleSpec describes an inbound allow rule.
type SecurityRuleSpec struct {
	Name     string
	Port     int
	Priority int32
}

// InterfaceSpec describes the runner's network interface. All three IDs
// must reference existing resources.
type InterfaceSpec struct {
	Name            string
	Location        string
	SubnetID        string
	PublicIPID      string
	SecurityGroupID string
}

// VMSpec describes the runner VM.
type VMSpec struct {
	Name               string
	Location           string
	Size               string
	ImageID            string
	ComputerName       string
	AdminUsername      string
	AdminPassword      string
	CustomData         string
	NetworkInterfaceID string
}

// ResourceGroupManager manages resource groups.
type ResourceGroupManager interface {
	// EnsureResourceGroup creates or updates a resource group.
	EnsureResourceGroup(ctx context.Context, name, location string) error
	// DeleteResourceGroup deletes a resource group and waits for completion.
	DeleteResourceGroup(ctx context.Context, name string) error
	ListResourceGroups(ctx context.Context) ([]string, error)
}

// NetworkManager creates or updates network primitives. Every method waits
// for the operation to finish and returns the resource ID.
type NetworkManager interface {
	EnsureVirtualNetwork(ctx context.Context, resourceGroup string, spec VirtualNetworkSpec) (string, error)
	EnsureSubnet(ctx context.Context, resourceGroup, vnetName string, spec SubnetSpec) (string, error)
	EnsurePublicIP(ctx context.Context, resourceGroup, name, location string) (string, error)
	EnsureSecurityGroup(ctx context.Context, resourceGroup, name, location string) (string, error)
	EnsureSecurityRule(ctx context.Context, resourceGroup, nsgName string, spec SecurityRuleSpec) (string, error)
	EnsureNetworkInterface(ctx context.Context, resourceGroup string, spec InterfaceSpec) (string, error)
}

// ComputeManager submits virtual machines.
type ComputeManager interface {
	// BeginCreateVirtualMachine submits the VM and returns once the provider
	// has accepted the request. It does not wait for the VM to be running.
	BeginCreateVirtualMachine(ctx context.Context, resourceGroup string, spec VMSpec) error
}

// Cloud is everything the runner workflow needs from the cloud provider.
type Cloud interface {
	ResourceGroupManager
	NetworkManager
	ComputeManager
}

// Error is a failed cloud call. It carries the provider's message verbatim.
type Error struct {
	Resource string
	Name     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to create or update %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (s InterfaceSpec) validate() error {
	var missing []string
	if s.SubnetID == "" {
		missing = append(missing, "subnet")
	}
	if s.PublicIPID == "" {
		missing = append(missing, "public ip")
	}
	if s.SecurityGroupID == "" {
		missing = append(missing, "network security group")
	}
	if len(missing) > 0 {
		return fmt.Errorf("network interface %q is missing prerequisite ids: %v", s.Name, missing)
	}
	return nil
}
