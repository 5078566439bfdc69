// Package manager runs provisioning and teardown requests as explicit state
// machines over the token broker, boot script composer and cloud provisioners.
package manager

import (
	"context"
	"errors"
	"time"

	"ghrunner/internal/bootscript"
	"ghrunner/internal/config"
	"ghrunner/internal/github"
	"ghrunner/internal/logging"
	"ghrunner/internal/metrics"
	"ghrunner/internal/provisioning"
	"ghrunner/internal/secrets"

	"go.uber.org/zap"
)

// Authorizer admits or rejects a request. It runs before any other step.
type Authorizer func() error

// Trusted admits every request. The CLI uses it: the operator's own cloud
// credential is the authorization.
func Trusted() error { return nil }

// TokenBroker issues runner registration tokens.
type TokenBroker interface {
	RegistrationToken(ctx context.Context, repo, pat string) (*github.RegistrationToken, error)
}

// CloudFactory builds the cloud client handles for one request.
type CloudFactory func(ctx context.Context) (provisioning.Cloud, error)

// Orchestrator runs requests. It holds no per-request state; every request
// gets its own cloud handles from the factory.
type Orchestrator struct {
	cfg     *config.Config
	broker  TokenBroker
	secrets secrets.Accessor
	clouds  CloudFactory
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg *config.Config, broker TokenBroker, acc secrets.Accessor, clouds CloudFactory) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		broker:  broker,
		secrets: acc,
		clouds:  clouds,
	}
}

type provisionRun struct {
	ctx       context.Context
	log       *zap.Logger
	authorize Authorizer
	req       ProvisioningRequest

	token    *github.RegistrationToken
	payload  *bootscript.Payload
	cloud    provisioning.Cloud
	compute  *provisioning.ComputeProvisioner
	topology *provisioning.Topology
}

// Provision runs the provisioning state machine:
// Unauthenticated → Authorized → TokenAcquired → PayloadComposed →
// ResourceGroupEnsured → NetworkProvisioned → ComputeSubmitted → Acknowledged.
//
// The request is not cancelled with ctx once started. Resources created
// before a failing step are left in place.
func (o *Orchestrator) Provision(ctx context.Context, authorize Authorizer, req ProvisioningRequest) *ProvisionOutcome {
	start := time.Now()
	req.RequestID = newRequestID(req.RequestID)
	if authorize == nil {
		authorize = Trusted
	}

	run := &provisionRun{
		ctx:       context.WithoutCancel(ctx),
		log:       logging.Logger().With(zap.String("request_id", req.RequestID), zap.String("operation", metrics.OperationProvision)),
		authorize: authorize,
		req:       req,
	}

	stage, steps := runMachine(run, StageUnauthenticated, []transition[provisionRun]{
		{StepAuthorize, StageAuthorized, o.authorizeProvision},
		{StepValidate, StageAuthorized, o.validateProvision},
		{StepPreflight, StageAuthorized, o.preflight},
		{StepToken, StageTokenAcquired, o.acquireToken},
		{StepCompose, StagePayloadComposed, o.composePayload},
		{StepResourceGroup, StageResourceGroupEnsured, o.ensureResourceGroup},
		{StepNetwork, StageNetworkProvisioned, o.provisionNetwork},
		{StepCompute, StageComputeSubmitted, o.submitCompute},
	})
	if stage == StageComputeSubmitted {
		stage = StageAcknowledged
	}

	outcome := &ProvisionOutcome{
		RequestID:     run.req.RequestID,
		Stage:         stage,
		Steps:         steps,
		Repository:    run.req.Repository,
		RunnerName:    run.req.RunnerName,
		ResourceGroup: run.req.ResourceGroup,
		VMName:        o.cfg.Azure.VMName,
	}
	if stage == StageFailed {
		outcome.Err = steps[len(steps)-1].Err
	}

	o.finish(run.log, metrics.OperationProvision, outcome.FailedStep(), outcome.Err, start)
	if outcome.Err == nil {
		run.log.Info("Runner VM creation started",
			zap.String("repository", outcome.Repository),
			zap.String("runner", outcome.RunnerName),
			zap.String("resource_group", outcome.ResourceGroup),
			zap.String("vm", outcome.VMName))
	}
	return outcome
}

func (o *Orchestrator) authorizeProvision(r *provisionRun) error {
	if err := r.authorize(); err != nil {
		return &AuthorizationError{Err: err}
	}
	return nil
}

func (o *Orchestrator) validateProvision(r *provisionRun) error {
	if r.req.Repository == "" {
		return invalid(`invalid request: expected { "repo": "org/repo" }`)
	}
	if !validRepository(r.req.Repository) {
		return invalid("invalid repository %q: expected org/repo", r.req.Repository)
	}

	if r.req.RunnerName == "" {
		r.req.RunnerName = DefaultRunnerName()
	} else if !runnerNamePattern.MatchString(r.req.RunnerName) {
		return invalid("invalid runner name %q", r.req.RunnerName)
	}

	if r.req.ResourceGroup == "" {
		r.req.ResourceGroup = o.cfg.Azure.ResourceGroup
	}
	if err := provisioning.ValidateGroupName(o.cfg.Azure.ResourceGroupPrefix, r.req.ResourceGroup); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// preflight checks configuration the later steps need, so that a missing
// image or label set fails before the token is issued or any cloud call is made.
func (o *Orchestrator) preflight(r *provisionRun) error {
	if _, err := provisioning.ResolveImage(o.cfg.Azure); err != nil {
		return &ConfigurationError{Err: err}
	}
	if len(o.cfg.GitHub.RunnerLabels) == 0 {
		return &ConfigurationError{Err: config.ErrNoRunnerLabels}
	}
	return nil
}

func (o *Orchestrator) acquireToken(r *provisionRun) error {
	pat, err := secrets.Fetch(r.ctx, o.secrets, config.SecretRunnerPAT)
	if err != nil {
		return classify(StepToken, err)
	}

	r.log.Info("Requesting registration token", zap.String("repository", r.req.Repository))
	token, err := o.broker.RegistrationToken(r.ctx, r.req.Repository, pat)
	if err != nil {
		return classify(StepToken, err)
	}
	r.token = token
	return nil
}

func (o *Orchestrator) composePayload(r *provisionRun) error {
	params := bootscript.Params{
		Token:         r.token.Token,
		RepositoryURL: bootscript.RepositoryURL(r.req.Repository),
		RunnerName:    r.req.RunnerName,
		Labels:        o.cfg.GitHub.RunnerLabels,
	}
	if o.cfg.GitHub.RunnerAccount != "" {
		account, err := bootscript.NewLocalAccount(o.cfg.GitHub.RunnerAccount)
		if err != nil {
			return err
		}
		params.LocalAccount = account
	}

	payload, err := bootscript.Compose(params)
	if err != nil {
		return err
	}
	r.payload = payload
	r.log.Debug("Boot payload composed",
		zap.Bool("local_account", params.LocalAccount != nil),
		zap.String("payload", logging.Redact(payload.Encode())))
	return nil
}

func (o *Orchestrator) ensureResourceGroup(r *provisionRun) error {
	cloud, err := o.clouds(r.ctx)
	if err != nil {
		return &ConfigurationError{Err: err}
	}
	r.cloud = cloud
	r.compute = provisioning.NewComputeProvisioner(cloud, cloud, o.secrets, o.cfg.Azure)

	if err := r.compute.EnsureResourceGroup(r.ctx, r.req.ResourceGroup); err != nil {
		return classify(StepResourceGroup, err)
	}
	return nil
}

func (o *Orchestrator) provisionNetwork(r *provisionRun) error {
	network := provisioning.NewNetworkProvisioner(r.cloud, o.cfg.Network, o.cfg.Azure.Location)
	topo, err := network.Provision(r.ctx, r.req.ResourceGroup)
	if err != nil {
		return classify(StepNetwork, err)
	}
	r.topology = topo
	return nil
}

func (o *Orchestrator) submitCompute(r *provisionRun) error {
	err := r.compute.Submit(r.ctx, r.req.ResourceGroup, r.payload.Encode(), r.topology.NetworkInterfaceID)
	if err != nil {
		return classify(StepCompute, err)
	}
	return nil
}

type teardownRun struct {
	ctx       context.Context
	log       *zap.Logger
	authorize Authorizer
	req       TeardownRequest
}

// Teardown runs the teardown state machine:
// Unauthenticated → Authorized → Validated → Deleted.
// Deletion is awaited.
func (o *Orchestrator) Teardown(ctx context.Context, authorize Authorizer, req TeardownRequest) *TeardownOutcome {
	start := time.Now()
	req.RequestID = newRequestID(req.RequestID)
	if authorize == nil {
		authorize = Trusted
	}

	run := &teardownRun{
		ctx:       context.WithoutCancel(ctx),
		log:       logging.Logger().With(zap.String("request_id", req.RequestID), zap.String("operation", metrics.OperationTeardown)),
		authorize: authorize,
		req:       req,
	}

	stage, steps := runMachine(run, StageUnauthenticated, []transition[teardownRun]{
		{StepAuthorize, StageAuthorized, o.authorizeTeardown},
		{StepValidate, StageValidated, o.validateTeardown},
		{StepDelete, StageDeleted, o.deleteGroup},
	})

	outcome := &TeardownOutcome{
		RequestID:     run.req.RequestID,
		Stage:         stage,
		Steps:         steps,
		ResourceGroup: run.req.ResourceGroup,
	}
	if stage == StageFailed {
		outcome.Err = steps[len(steps)-1].Err
	}

	o.finish(run.log, metrics.OperationTeardown, outcome.FailedStep(), outcome.Err, start)
	return outcome
}

func (o *Orchestrator) authorizeTeardown(r *teardownRun) error {
	if err := r.authorize(); err != nil {
		return &AuthorizationError{Err: err}
	}
	return nil
}

func (o *Orchestrator) validateTeardown(r *teardownRun) error {
	if r.req.ResourceGroup == "" {
		r.req.ResourceGroup = o.cfg.Azure.ResourceGroup
	}
	if err := provisioning.ValidateGroupName(o.cfg.Azure.ResourceGroupPrefix, r.req.ResourceGroup); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (o *Orchestrator) deleteGroup(r *teardownRun) error {
	cloud, err := o.clouds(r.ctx)
	if err != nil {
		return &ConfigurationError{Err: err}
	}
	td := provisioning.NewTeardown(cloud, o.cfg.Azure.ResourceGroupPrefix)
	if err := td.Delete(r.ctx, r.req.ResourceGroup); err != nil {
		return classify(StepDelete, err)
	}
	return nil
}

// Sweep tears down every resource group carrying the reserved prefix.
func (o *Orchestrator) Sweep(ctx context.Context, concurrency int) ([]provisioning.SweepResult, error) {
	cloud, err := o.clouds(ctx)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	td := provisioning.NewTeardown(cloud, o.cfg.Azure.ResourceGroupPrefix)
	return provisioning.Sweep(ctx, cloud, td, concurrency)
}

func (o *Orchestrator) finish(log *zap.Logger, operation string, failed Step, err error, start time.Time) {
	elapsed := time.Since(start)
	if err == nil {
		metrics.RecordRequest(operation, metrics.ResultSuccess, elapsed)
		return
	}

	result := metrics.ResultError
	var authErr *AuthorizationError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &authErr):
		result = metrics.ResultUnauthorized
		log.Warn("Request rejected", zap.Error(err))
	case errors.As(err, &validationErr):
		result = metrics.ResultInvalid
		log.Warn("Invalid request", zap.Error(err))
	default:
		log.Error("Request failed",
			zap.String("step", string(failed)),
			zap.String("error", logging.Truncate(err.Error())))
	}
	metrics.RecordRequest(operation, result, elapsed)
	metrics.RecordStepFailure(string(failed))
}

// classify maps an error from a lower layer onto the taxonomy.
func classify(step Step, err error) error {
	var apiErr *github.APIError
	var secretErr *secrets.Error
	switch {
	case errors.As(err, &secretErr):
		return &SecretAccessError{Key: secretErr.Key, Err: err}
	case errors.As(err, &apiErr):
		return &UpstreamTokenError{StatusCode: apiErr.StatusCode, Body: apiErr.Body, Err: err}
	case step == StepToken:
		return &UpstreamTokenError{Err: err}
	case errors.Is(err, provisioning.ErrMissingImage):
		return &ConfigurationError{Err: err}
	default:
		return &ProvisioningError{Step: step, Err: err}
	}
}
