package provisioning

import (
	"context"

	"ghrunner/internal/config"
	"ghrunner/internal/logging"

	"go.uber.org/zap"
)

const (
	vnetAddressPrefix   = "10.0.0.0/16"
	subnetAddressPrefix = "10.0.0.0/24"

	// RemoteAccessPort is the inbound port opened for interactive access (RDP).
	RemoteAccessPort   = 3389
	remoteAccessRule   = "allow-rdp"
	remoteAccessWeight = int32(1000)
)

// Topology holds the IDs of the network resources created for one runner.
type Topology struct {
	VirtualNetworkID   string
	SubnetID           string
	PublicIPID         string
	SecurityGroupID    string
	SecurityRuleID     string
	NetworkInterfaceID string
}

// NetworkProvisioner builds the runner network as a strict chain: each step
// is awaited and feeds its ID into the next.
type NetworkProvisioner struct {
	network  NetworkManager
	names    config.NetworkConfig
	location string
}

// NewNetworkProvisioner creates a NetworkProvisioner
func NewNetworkProvisioner(network NetworkManager, names config.NetworkConfig, location string) *NetworkProvisioner {
	return &NetworkProvisioner{
		network:  network,
		names:    names,
		location: location,
	}
}

// Provision creates or updates the network in resourceGroup. The first
// failure aborts the chain; resources created before it are left in place.
func (p *NetworkProvisioner) Provision(ctx context.Context, resourceGroup string) (*Topology, error) {
	log := logging.Logger().With(zap.String("resource_group", resourceGroup))
	topo := &Topology{}
	var err error

	log.Info("Reconciling virtual network", zap.String("name", p.names.VNetName))
	topo.VirtualNetworkID, err = p.network.EnsureVirtualNetwork(ctx, resourceGroup, VirtualNetworkSpec{
		Name:          p.names.VNetName,
		Location:      p.location,
		AddressPrefix: vnetAddressPrefix,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Reconciling subnet", zap.String("name", p.names.SubnetName))
	topo.SubnetID, err = p.network.EnsureSubnet(ctx, resourceGroup, p.names.VNetName, SubnetSpec{
		Name:          p.names.SubnetName,
		AddressPrefix: subnetAddressPrefix,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Reconciling public ip", zap.String("name", p.names.IPName))
	topo.PublicIPID, err = p.network.EnsurePublicIP(ctx, resourceGroup, p.names.IPName, p.location)
	if err != nil {
		return nil, err
	}

	log.Info("Reconciling network security group", zap.String("name", p.names.NSGName))
	topo.SecurityGroupID, err = p.network.EnsureSecurityGroup(ctx, resourceGroup, p.names.NSGName, p.location)
	if err != nil {
		return nil, err
	}

	log.Info("Reconciling security rule",
		zap.String("name", remoteAccessRule),
		zap.Int("port", RemoteAccessPort))
	topo.SecurityRuleID, err = p.network.EnsureSecurityRule(ctx, resourceGroup, p.names.NSGName, SecurityRuleSpec{
		Name:     remoteAccessRule,
		Port:     RemoteAccessPort,
		Priority: remoteAccessWeight,
	})
	if err != nil {
		return nil, err
	}

	log.Info("Reconciling network interface", zap.String("name", p.names.NICName))
	nic := InterfaceSpec{
		Name:            p.names.NICName,
		Location:        p.location,
		SubnetID:        topo.SubnetID,
		PublicIPID:      topo.PublicIPID,
		SecurityGroupID: topo.SecurityGroupID,
	}
	if err := nic.validate(); err != nil {
		return nil, &Error{Resource: "network interface", Name: nic.Name, Err: err}
	}
	topo.NetworkInterfaceID, err = p.network.EnsureNetworkInterface(ctx, resourceGroup, nic)
	if err != nil {
		return nil, err
	}

	log.Info("Network provisioned", zap.String("nic_id", topo.NetworkInterfaceID))
	return topo, nil
}
