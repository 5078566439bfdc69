package manager

// Stage is a state of a request's state machine.
type Stage string

const (
	StageUnauthenticated      Stage = "Unauthenticated"
	StageAuthorized           Stage = "Authorized"
	StageTokenAcquired        Stage = "TokenAcquired"
	StagePayloadComposed      Stage = "PayloadComposed"
	StageResourceGroupEnsured Stage = "ResourceGroupEnsured"
	StageNetworkProvisioned   Stage = "NetworkProvisioned"
	StageComputeSubmitted     Stage = "ComputeSubmitted"
	StageAcknowledged         Stage = "Acknowledged"

	StageValidated Stage = "Validated"
	StageDeleted   Stage = "Deleted"

	StageFailed Stage = "Failed"
)

// Step names one orchestration step. Several steps may share a target stage.
type Step string

const (
	StepAuthorize     Step = "authorize"
	StepValidate      Step = "validate"
	StepPreflight     Step = "preflight"
	StepToken         Step = "token"
	StepCompose       Step = "compose"
	StepResourceGroup Step = "resource-group"
	StepNetwork       Step = "network"
	StepCompute       Step = "compute"
	StepDelete        Step = "delete"
)

// StepResult is the value every step produces. Err is nil on success, in
// which case the request moves to Stage.
type StepResult struct {
	Step  Step
	Stage Stage
	Err   error
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool {
	return r.Err == nil
}

// transition is one edge of a state machine.
type transition[S any] struct {
	step  Step
	stage Stage
	run   func(*S) error
}

// runMachine executes transitions in order. The first failure ends the run
// in StageFailed; no step is re-entered or retried.
func runMachine[S any](state *S, from Stage, edges []transition[S]) (Stage, []StepResult) {
	current := from
	results := make([]StepResult, 0, len(edges))
	for _, e := range edges {
		res := StepResult{Step: e.step, Stage: e.stage, Err: e.run(state)}
		results = append(results, res)
		if !res.OK() {
			return StageFailed, results
		}
		current = e.stage
	}
	return current, results
}
