package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"ghrunner/internal/auth"
	"ghrunner/internal/bootscript"
	"ghrunner/internal/config"
	"ghrunner/internal/github"
	"ghrunner/internal/manager"
	"ghrunner/internal/provisioning"
	"ghrunner/internal/secrets"
	"ghrunner/internal/server"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const functionKey = "s3cret"

// MockBroker implements manager.TokenBroker
type MockBroker struct {
	Repos []string
	Token string
	Err   error
}

func (m *MockBroker) RegistrationToken(_ context.Context, repo, _ string) (*github.RegistrationToken, error) {
	m.Repos = append(m.Repos, repo)
	if m.Err != nil {
		return nil, m.Err
	}
	return &github.RegistrationToken{Token: m.Token}, nil
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Azure.SubscriptionID = "00000000-0000-0000-0000-000000000000"
	cfg.Azure.CustomImageID = "/subscriptions/x/resourceGroups/images/providers/Microsoft.Compute/images/win11-runner"
	cfg.Auth.FunctionKey = functionKey
	cfg.Auth.AllowedRepository = "acme/widgets"
	cfg.Auth.AllowedActor = "release-bot"
	return cfg
}

var _ = Describe("HTTP server", func() {
	var (
		cfg     *config.Config
		cloud   *provisioning.MockCloud
		broker  *MockBroker
		handler http.Handler
	)

	BeforeEach(func() {
		cfg = createTestConfig()
		cloud = provisioning.NewMockCloud()
		broker = &MockBroker{Token: "abc123"}
		acc := secrets.Memory{
			config.SecretRunnerPAT:       "ghp_example",
			config.SecretVMAdminPassword: "AdminPassw0rd!",
		}
		orch := manager.NewOrchestrator(cfg, broker, acc, func(context.Context) (provisioning.Cloud, error) {
			return cloud, nil
		})
		handler = server.NewServer(orch, auth.NewGate(cfg.Auth)).Handler()
	})

	do := func(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	withKey := map[string]string{auth.KeyHeader: functionKey}

	decode := func(rec *httptest.ResponseRecorder) map[string]string {
		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("POST /api/request_runner", func() {
		It("accepts a request authorized by the shared key", func() {
			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`, withKey)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			body := decode(rec)
			Expect(body["message"]).To(Equal("Runner VM creation started"))
			Expect(body["vm"]).To(Equal("gh-runner-vm"))
			Expect(body["resource-group"]).To(Equal("gh-runner-tmp-rg"))
			Expect(body["runner"]).To(HavePrefix("gh-runner-"))
			Expect(rec.Header().Get("X-Request-ID")).NotTo(BeEmpty())

			Expect(broker.Repos).To(Equal([]string{"acme/widgets"}))
			script, err := bootscript.Decode(cloud.VMs[0].CustomData)
			Expect(err).NotTo(HaveOccurred())
			Expect(script).To(ContainSubstring("https://github.com/acme/widgets"))
			Expect(script).To(ContainSubstring("abc123"))
		})

		It("accepts the key as the code query parameter", func() {
			rec := do(http.MethodPost, "/api/request_runner?code="+functionKey, `{"repo":"acme/widgets"}`, nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})

		It("accepts a valid federated claim", func() {
			claim := auth.EncodeClaims(auth.Claims{Repository: "acme/widgets", Ref: "refs/heads/main", Actor: "release-bot"})
			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`,
				map[string]string{config.DefaultClaimsHeader: claim})
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})

		It("propagates the caller's request id", func() {
			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`,
				map[string]string{auth.KeyHeader: functionKey, "X-Request-ID": "req-1"})
			Expect(rec.Header().Get("X-Request-ID")).To(Equal("req-1"))
		})

		It("rejects unauthenticated requests with 401 and no remote call", func() {
			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`,
				map[string]string{auth.KeyHeader: "wrong"})

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Body.String()).To(Equal("unauthorized"))
			Expect(broker.Repos).To(BeEmpty())
			Expect(cloud.Calls).To(BeEmpty())
		})

		It("rejects a claim for another repository even with the right actor and ref", func() {
			claim := auth.EncodeClaims(auth.Claims{Repository: "acme/other", Ref: "refs/heads/main", Actor: "release-bot"})
			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`,
				map[string]string{config.DefaultClaimsHeader: claim})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("answers 401 rather than 400 to unauthenticated malformed bodies", func() {
			rec := do(http.MethodPost, "/api/request_runner", `{not json`, nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		DescribeTable("rejects invalid bodies with 400",
			func(body string) {
				rec := do(http.MethodPost, "/api/request_runner", body, withKey)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(broker.Repos).To(BeEmpty())
				Expect(cloud.Calls).To(BeEmpty())
			},
			Entry("malformed JSON", `{not json`),
			Entry("empty body", ""),
			Entry("missing repo", `{}`),
			Entry("bad repo", `{"repo":"widgets"}`),
			Entry("resource group outside prefix", `{"repo":"acme/widgets","resource-group":"prod-rg"}`),
		)

		It("returns 500 with the upstream status and body when the token call fails", func() {
			broker.Err = &github.APIError{StatusCode: http.StatusNotFound, Body: `{"message":"Not Found"}`}

			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`, withKey)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(Equal(`GitHub API error: 404 {"message":"Not Found"}`))
			Expect(cloud.Calls).To(BeEmpty())
		})

		It("returns 500 when the image is not configured", func() {
			cfg.Azure.CustomImageID = ""

			rec := do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`, withKey)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("CUSTOM_IMAGE_ID"))
			Expect(broker.Repos).To(BeEmpty())
			Expect(cloud.Calls).To(BeEmpty())
		})
	})

	Describe("/api/delete_resource_group", func() {
		for _, method := range []string{http.MethodDelete, http.MethodPost} {
			It("deletes a prefixed group via "+method, func() {
				rec := do(method, "/api/delete_resource_group", `{"resource-group":"gh-runner-tmp-42"}`, withKey)

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(decode(rec)["message"]).To(Equal("Resource group 'gh-runner-tmp-42' deleted."))
				Expect(cloud.CallsFor(provisioning.OpDeleteResourceGroup)).To(HaveLen(1))
			})
		}

		It("falls back to the configured group without a body", func() {
			rec := do(http.MethodDelete, "/api/delete_resource_group", "", withKey)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["message"]).To(Equal("Resource group 'gh-runner-tmp-rg' deleted."))
		})

		It("rejects a group outside the prefix without a delete call", func() {
			rec := do(http.MethodDelete, "/api/delete_resource_group", `{"resource-group":"prod-rg"}`, withKey)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(cloud.CallsFor(provisioning.OpDeleteResourceGroup)).To(BeEmpty())
		})

		It("rejects unauthenticated requests", func() {
			rec := do(http.MethodDelete, "/api/delete_resource_group", `{"resource-group":"gh-runner-tmp-42"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(cloud.Calls).To(BeEmpty())
		})
	})

	Describe("operational endpoints", func() {
		It("serves /healthz without auth", func() {
			rec := do(http.MethodGet, "/healthz", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("serves /metrics without auth", func() {
			do(http.MethodPost, "/api/request_runner", `{"repo":"acme/widgets"}`, withKey)

			rec := do(http.MethodGet, "/metrics", "", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("ghrunner_requests_total"))
		})
	})
})
