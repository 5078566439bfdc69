package provisioning

import (
	"context"
	"fmt"
	"sync"
)

// Operation names recorded by MockCloud.
const (
	OpEnsureResourceGroup    = "EnsureResourceGroup"
	OpDeleteResourceGroup    = "DeleteResourceGroup"
	OpListResourceGroups     = "ListResourceGroups"
	OpEnsureVirtualNetwork   = "EnsureVirtualNetwork"
	OpEnsureSubnet           = "EnsureSubnet"
	OpEnsurePublicIP         = "EnsurePublicIP"
	OpEnsureSecurityGroup    = "EnsureSecurityGroup"
	OpEnsureSecurityRule     = "EnsureSecurityRule"
	OpEnsureNetworkInterface = "EnsureNetworkInterface"
	OpBeginCreateVM          = "BeginCreateVirtualMachine"
)

// MockCall is one recorded call.
type MockCall struct {
	Op            string
	ResourceGroup string
	Name          string
}

// MockCloud is an in-memory Cloud that records calls in order. Set Failures
// to make an operation fail.
type MockCloud struct {
	mu       sync.Mutex
	Calls    []MockCall
	Failures map[string]error
	Groups   []string
	VMs      []VMSpec
	NICs     []InterfaceSpec
}

// NewMockCloud creates an empty MockCloud
func NewMockCloud() *MockCloud {
	return &MockCloud{Failures: make(map[string]error)}
}

// Fail makes op return err.
func (m *MockCloud) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[op] = err
}

// Ops returns the recorded operation names in call order.
func (m *MockCloud) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		ops[i] = c.Op
	}
	return ops
}

// CallsFor returns recorded calls of op.
func (m *MockCloud) CallsFor(op string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockCloud) record(op, rg, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Op: op, ResourceGroup: rg, Name: name})
	return m.Failures[op]
}

func mockID(rg, kind, name string) string {
	return fmt.Sprintf("/subscriptions/mock/resourceGroups/%s/providers/%s/%s", rg, kind, name)
}

// EnsureResourceGroup implements ResourceGroupManager
func (m *MockCloud) EnsureResourceGroup(_ context.Context, name, _ string) error {
	if err := m.record(OpEnsureResourceGroup, name, name); err != nil {
		return &Error{Resource: "resource group", Name: name, Err: err}
	}
	return nil
}

// DeleteResourceGroup implements ResourceGroupManager
func (m *MockCloud) DeleteResourceGroup(_ context.Context, name string) error {
	return m.record(OpDeleteResourceGroup, name, name)
}

// ListResourceGroups implements ResourceGroupManager
func (m *MockCloud) ListResourceGroups(_ context.Context) ([]string, error) {
	if err := m.record(OpListResourceGroups, "", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Groups...), nil
}

// EnsureVirtualNetwork implements NetworkManager
func (m *MockCloud) EnsureVirtualNetwork(_ context.Context, rg string, spec VirtualNetworkSpec) (string, error) {
	if err := m.record(OpEnsureVirtualNetwork, rg, spec.Name); err != nil {
		return "", &Error{Resource: "virtual network", Name: spec.Name, Err: err}
	}
	return mockID(rg, "Microsoft.Network/virtualNetworks", spec.Name), nil
}

// EnsureSubnet implements NetworkManager
func (m *MockCloud) EnsureSubnet(_ context.Context, rg, vnetName string, spec SubnetSpec) (string, error) {
	if err := m.record(OpEnsureSubnet, rg, spec.Name); err != nil {
		return "", &Error{Resource: "subnet", Name: spec.Name, Err: err}
	}
	return mockID(rg, "Microsoft.Network/virtualNetworks/"+vnetName+"/subnets", spec.Name), nil
}

// EnsurePublicIP implements NetworkManager
func (m *MockCloud) EnsurePublicIP(_ context.Context, rg, name, _ string) (string, error) {
	if err := m.record(OpEnsurePublicIP, rg, name); err != nil {
		return "", &Error{Resource: "public ip", Name: name, Err: err}
	}
	return mockID(rg, "Microsoft.Network/publicIPAddresses", name), nil
}

// EnsureSecurityGroup implements NetworkManager
func (m *MockCloud) EnsureSecurityGroup(_ context.Context, rg, name, _ string) (string, error) {
	if err := m.record(OpEnsureSecurityGroup, rg, name); err != nil {
		return "", &Error{Resource: "network security group", Name: name, Err: err}
	}
	return mockID(rg, "Microsoft.Network/networkSecurityGroups", name), nil
}

// EnsureSecurityRule implements NetworkManager
func (m *MockCloud) EnsureSecurityRule(_ context.Context, rg, nsgName string, spec SecurityRuleSpec) (string, error) {
	if err := m.record(OpEnsureSecurityRule, rg, spec.Name); err != nil {
		return "", &Error{Resource: "security rule", Name: spec.Name, Err: err}
	}
	return mockID(rg, "Microsoft.Network/networkSecurityGroups/"+nsgName+"/securityRules", spec.Name), nil
}

// EnsureNetworkInterface implements NetworkManager. Like the real provider it
// rejects interfaces with missing prerequisite IDs.
func (m *MockCloud) EnsureNetworkInterface(_ context.Context, rg string, spec InterfaceSpec) (string, error) {
	if err := m.record(OpEnsureNetworkInterface, rg, spec.Name); err != nil {
		return "", &Error{Resource: "network interface", Name: spec.Name, Err: err}
	}
	if err := spec.validate(); err != nil {
		return "", &Error{Resource: "network interface", Name: spec.Name, Err: err}
	}
	m.mu.Lock()
	m.NICs = append(m.NICs, spec)
	m.mu.Unlock()
	return mockID(rg, "Microsoft.Network/networkInterfaces", spec.Name), nil
}

// BeginCreateVirtualMachine implements ComputeManager
func (m *MockCloud) BeginCreateVirtualMachine(_ context.Context, rg string, spec VMSpec) error {
	if err := m.record(OpBeginCreateVM, rg, spec.Name); err != nil {
		return &Error{Resource: "virtual machine", Name: spec.Name, Err: err}
	}
	m.mu.Lock()
	m.VMs = append(m.VMs, spec)
	m.mu.Unlock()
	return nil
}
