package manager_test

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"ghrunner/internal/bootscript"
	"ghrunner/internal/config"
	"ghrunner/internal/github"
	"ghrunner/internal/manager"
	"ghrunner/internal/provisioning"
	"ghrunner/internal/secrets"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// MockBroker implements manager.TokenBroker
type MockBroker struct {
	mu    sync.Mutex
	Repos []string
	PATs  []string
	Token string
	Err   error
}

func (m *MockBroker) RegistrationToken(_ context.Context, repo, pat string) (*github.RegistrationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Repos = append(m.Repos, repo)
	m.PATs = append(m.PATs, pat)
	if m.Err != nil {
		return nil, m.Err
	}
	return &github.RegistrationToken{Token: m.Token}, nil
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Azure.SubscriptionID = "00000000-0000-0000-0000-000000000000"
	cfg.Azure.CustomImageID = "/subscriptions/x/resourceGroups/images/providers/Microsoft.Compute/images/win11-runner"
	cfg.Secrets.Backend = config.SecretBackendEnv
	return cfg
}

func testSecrets() secrets.Memory {
	return secrets.Memory{
		config.SecretRunnerPAT:       "ghp_example",
		config.SecretVMAdminPassword: "AdminPassw0rd!",
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		cfg       *config.Config
		cloud     *provisioning.MockCloud
		broker    *MockBroker
		acc       secrets.Memory
		factories int
		orch      *manager.Orchestrator
	)

	newOrchestrator := func() *manager.Orchestrator {
		return manager.NewOrchestrator(cfg, broker, acc, func(context.Context) (provisioning.Cloud, error) {
			factories++
			return cloud, nil
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = createTestConfig()
		cloud = provisioning.NewMockCloud()
		broker = &MockBroker{Token: "abc123"}
		acc = testSecrets()
		factories = 0
		orch = newOrchestrator()
	})

	Describe("Provision", func() {
		It("provisions a runner for acme/widgets", func() {
			out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.Stage).To(Equal(manager.StageAcknowledged))
			Expect(out.VMName).To(Equal("gh-runner-vm"))
			Expect(out.ResourceGroup).To(Equal("gh-runner-tmp-rg"))
			Expect(out.RunnerName).To(MatchRegexp(`^gh-runner-[0-9a-f]{8}$`))
			Expect(out.RequestID).NotTo(BeEmpty())

			Expect(broker.Repos).To(Equal([]string{"acme/widgets"}))
			Expect(broker.PATs).To(Equal([]string{"ghp_example"}))

			Expect(cloud.VMs).To(HaveLen(1))
			script, err := bootscript.Decode(cloud.VMs[0].CustomData)
			Expect(err).NotTo(HaveOccurred())
			Expect(script).To(ContainSubstring("https://github.com/acme/widgets"))
			Expect(script).To(ContainSubstring("abc123"))
			Expect(script).To(ContainSubstring(out.RunnerName))
		})

		It("walks every stage in order", func() {
			out := orch.Provision(ctx, nil, manager.ProvisioningRequest{Repository: "acme/widgets"})

			var stages []manager.Stage
			for _, s := range out.Steps {
				Expect(s.OK()).To(BeTrue())
				stages = append(stages, s.Stage)
			}
			Expect(stages).To(Equal([]manager.Stage{
				manager.StageAuthorized,
				manager.StageAuthorized,
				manager.StageAuthorized,
				manager.StageTokenAcquired,
				manager.StagePayloadComposed,
				manager.StageResourceGroupEnsured,
				manager.StageNetworkProvisioned,
				manager.StageComputeSubmitted,
			}))
			Expect(out.FailedStep()).To(BeEmpty())
		})

		It("creates the resource group before the network and the VM last", func() {
			orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

			Expect(cloud.Ops()).To(Equal([]string{
				provisioning.OpEnsureResourceGroup,
				provisioning.OpEnsureVirtualNetwork,
				provisioning.OpEnsureSubnet,
				provisioning.OpEnsurePublicIP,
				provisioning.OpEnsureSecurityGroup,
				provisioning.OpEnsureSecurityRule,
				provisioning.OpEnsureNetworkInterface,
				provisioning.OpBeginCreateVM,
			}))
			Expect(cloud.VMs[0].NetworkInterfaceID).To(ContainSubstring("gh-runner-nic"))
			Expect(factories).To(Equal(1))
		})

		It("honours an explicit runner name and resource group", func() {
			out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{
				Repository:    "acme/widgets",
				RunnerName:    "build-01",
				ResourceGroup: "gh-runner-tmp-42",
			})

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.RunnerName).To(Equal("build-01"))
			for _, c := range cloud.Calls {
				Expect(c.ResourceGroup).To(Equal("gh-runner-tmp-42"))
			}
		})

		It("embeds a generated local account when one is configured", func() {
			cfg.GitHub.RunnerAccount = "runner"
			orch = newOrchestrator()

			out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})
			Expect(out.Err).NotTo(HaveOccurred())

			script, err := bootscript.Decode(cloud.VMs[0].CustomData)
			Expect(err).NotTo(HaveOccurred())
			Expect(script).To(ContainSubstring("New-LocalUser"))
			Expect(script).To(ContainSubstring("--windowslogonaccount"))
		})

		Context("when authorization fails", func() {
			It("makes no remote call", func() {
				out := orch.Provision(ctx, func() error { return errors.New("unauthorized") },
					manager.ProvisioningRequest{Repository: "acme/widgets"})

				Expect(out.Stage).To(Equal(manager.StageFailed))
				Expect(out.FailedStep()).To(Equal(manager.StepAuthorize))
				Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusUnauthorized))
				Expect(broker.Repos).To(BeEmpty())
				Expect(cloud.Calls).To(BeEmpty())
				Expect(factories).To(BeZero())
			})
		})

		Context("when the request is invalid", func() {
			DescribeTable("rejects it with 400 before any remote call",
				func(req manager.ProvisioningRequest) {
					out := orch.Provision(ctx, manager.Trusted, req)

					Expect(out.FailedStep()).To(Equal(manager.StepValidate))
					Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusBadRequest))
					Expect(broker.Repos).To(BeEmpty())
					Expect(cloud.Calls).To(BeEmpty())
				},
				Entry("missing repo", manager.ProvisioningRequest{}),
				Entry("repo without owner", manager.ProvisioningRequest{Repository: "widgets"}),
				Entry("repo with extra segment", manager.ProvisioningRequest{Repository: "acme/widgets/extra"}),
				Entry("dot-segment repo", manager.ProvisioningRequest{Repository: "acme/.."}),
				Entry("single-dot repo", manager.ProvisioningRequest{Repository: "acme/."}),
				Entry("bad runner name", manager.ProvisioningRequest{Repository: "acme/widgets", RunnerName: "has space"}),
				Entry("resource group outside prefix", manager.ProvisioningRequest{Repository: "acme/widgets", ResourceGroup: "prod-rg"}),
			)
		})

		Context("when CUSTOM_IMAGE_ID is missing", func() {
			It("fails before any token or cloud call", func() {
				cfg.Azure.CustomImageID = ""
				orch = newOrchestrator()

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var cfgErr *manager.ConfigurationError
				Expect(errors.As(out.Err, &cfgErr)).To(BeTrue())
				Expect(errors.Is(out.Err, provisioning.ErrMissingImage)).To(BeTrue())
				Expect(out.FailedStep()).To(Equal(manager.StepPreflight))
				Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusInternalServerError))
				Expect(broker.Repos).To(BeEmpty())
				Expect(cloud.Calls).To(BeEmpty())
				Expect(factories).To(BeZero())
			})
		})

		Context("when the runner label set is empty", func() {
			It("fails before the registration token is issued", func() {
				cfg.GitHub.RunnerLabels = nil
				orch = newOrchestrator()

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var cfgErr *manager.ConfigurationError
				Expect(errors.As(out.Err, &cfgErr)).To(BeTrue())
				Expect(errors.Is(out.Err, config.ErrNoRunnerLabels)).To(BeTrue())
				Expect(out.FailedStep()).To(Equal(manager.StepPreflight))
				Expect(broker.Repos).To(BeEmpty())
				Expect(cloud.Calls).To(BeEmpty())
			})
		})

		It("accepts repository names that contain dots", func() {
			out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/.github"})
			Expect(out.Err).NotTo(HaveOccurred())
			Expect(broker.Repos).To(Equal([]string{"acme/.github"}))
		})

		Context("when the token exchange does not return 201", func() {
			It("stops before any cloud call and surfaces status and body", func() {
				broker.Err = &github.APIError{StatusCode: http.StatusForbidden, Body: `{"message":"Resource not accessible"}`}

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var upstream *manager.UpstreamTokenError
				Expect(errors.As(out.Err, &upstream)).To(BeTrue())
				Expect(upstream.StatusCode).To(Equal(http.StatusForbidden))
				Expect(out.Err.Error()).To(ContainSubstring("403"))
				Expect(out.Err.Error()).To(ContainSubstring("Resource not accessible"))
				Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusInternalServerError))
				Expect(cloud.CallsFor(provisioning.OpBeginCreateVM)).To(BeEmpty())
				Expect(cloud.Calls).To(BeEmpty())
				Expect(broker.Repos).To(HaveLen(1))
			})

			It("treats transport failures as upstream token errors", func() {
				broker.Err = context.DeadlineExceeded

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var upstream *manager.UpstreamTokenError
				Expect(errors.As(out.Err, &upstream)).To(BeTrue())
				Expect(upstream.StatusCode).To(BeZero())
				Expect(cloud.Calls).To(BeEmpty())
			})
		})

		Context("when the PAT cannot be read", func() {
			It("returns a secret access error without calling the broker", func() {
				delete(acc, config.SecretRunnerPAT)

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var secretErr *manager.SecretAccessError
				Expect(errors.As(out.Err, &secretErr)).To(BeTrue())
				Expect(secretErr.Key).To(Equal(config.SecretRunnerPAT))
				Expect(broker.Repos).To(BeEmpty())
			})
		})

		Context("when the admin password cannot be read", func() {
			It("fails at the compute step after the network is built", func() {
				delete(acc, config.SecretVMAdminPassword)

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var secretErr *manager.SecretAccessError
				Expect(errors.As(out.Err, &secretErr)).To(BeTrue())
				Expect(out.FailedStep()).To(Equal(manager.StepCompute))
				Expect(cloud.CallsFor(provisioning.OpEnsureNetworkInterface)).To(HaveLen(1))
				Expect(cloud.VMs).To(BeEmpty())
			})
		})

		Context("when a network step fails", func() {
			It("aborts, leaves earlier resources and surfaces the provider message", func() {
				cloud.Fail(provisioning.OpEnsurePublicIP, errors.New("PublicIPCountLimitReached"))

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var provErr *manager.ProvisioningError
				Expect(errors.As(out.Err, &provErr)).To(BeTrue())
				Expect(provErr.Step).To(Equal(manager.StepNetwork))
				Expect(out.Err.Error()).To(ContainSubstring("PublicIPCountLimitReached"))
				Expect(cloud.CallsFor(provisioning.OpEnsureNetworkInterface)).To(BeEmpty())
				Expect(cloud.CallsFor(provisioning.OpBeginCreateVM)).To(BeEmpty())
				Expect(cloud.CallsFor(provisioning.OpDeleteResourceGroup)).To(BeEmpty())
			})
		})

		Context("when the cloud handles cannot be built", func() {
			It("reports a configuration error", func() {
				orch = manager.NewOrchestrator(cfg, broker, acc, func(context.Context) (provisioning.Cloud, error) {
					return nil, errors.New("no credential")
				})

				out := orch.Provision(ctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})

				var cfgErr *manager.ConfigurationError
				Expect(errors.As(out.Err, &cfgErr)).To(BeTrue())
				Expect(out.FailedStep()).To(Equal(manager.StepResourceGroup))
			})
		})

		It("is not cancelled by the caller's context", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			out := orch.Provision(cctx, manager.Trusted, manager.ProvisioningRequest{Repository: "acme/widgets"})
			Expect(out.Err).NotTo(HaveOccurred())
		})
	})

	Describe("Teardown", func() {
		It("deletes a group carrying the prefix", func() {
			out := orch.Teardown(ctx, manager.Trusted, manager.TeardownRequest{ResourceGroup: "gh-runner-tmp-42"})

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.Stage).To(Equal(manager.StageDeleted))
			Expect(cloud.CallsFor(provisioning.OpDeleteResourceGroup)).To(HaveLen(1))
		})

		It("defaults to the configured resource group", func() {
			out := orch.Teardown(ctx, manager.Trusted, manager.TeardownRequest{})

			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.ResourceGroup).To(Equal("gh-runner-tmp-rg"))
		})

		It("rejects a group outside the prefix without a delete call", func() {
			out := orch.Teardown(ctx, manager.Trusted, manager.TeardownRequest{ResourceGroup: "prod-rg"})

			Expect(out.Stage).To(Equal(manager.StageFailed))
			Expect(out.FailedStep()).To(Equal(manager.StepValidate))
			Expect(errors.Is(out.Err, provisioning.ErrReservedPrefix)).To(BeTrue())
			Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusBadRequest))
			Expect(cloud.Calls).To(BeEmpty())
			Expect(factories).To(BeZero())
		})

		It("rejects unauthorized requests", func() {
			out := orch.Teardown(ctx, func() error { return errors.New("unauthorized") },
				manager.TeardownRequest{ResourceGroup: "gh-runner-tmp-42"})

			Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusUnauthorized))
			Expect(cloud.Calls).To(BeEmpty())
		})

		It("surfaces provider errors verbatim", func() {
			cloud.Fail(provisioning.OpDeleteResourceGroup, errors.New("ScopeLocked"))

			out := orch.Teardown(ctx, manager.Trusted, manager.TeardownRequest{ResourceGroup: "gh-runner-tmp-42"})

			Expect(out.Err).To(MatchError("ScopeLocked"))
			Expect(manager.HTTPStatus(out.Err)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Sweep", func() {
		It("deletes only prefixed groups", func() {
			cloud.Groups = []string{"gh-runner-tmp-1", "prod-rg", "gh-runner-tmp-2"}

			results, err := orch.Sweep(ctx, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(cloud.CallsFor(provisioning.OpDeleteResourceGroup)).To(HaveLen(2))
		})
	})
})
