package manager

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*/[A-Za-z0-9._-]+$`)
	runnerNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
)

// ProvisioningRequest asks for one ephemeral runner.
type ProvisioningRequest struct {
	RequestID     string `json:"-"`
	Repository    string `json:"repo"`
	RunnerName    string `json:"runner-name,omitempty"`
	ResourceGroup string `json:"resource-group,omitempty"`
}

// TeardownRequest asks for a resource group to be deleted.
type TeardownRequest struct {
	RequestID     string `json:"-"`
	ResourceGroup string `json:"resource-group,omitempty"`
}

// ProvisionOutcome is the terminal state of a provisioning request.
type ProvisionOutcome struct {
	RequestID     string
	Stage         Stage
	Steps         []StepResult
	Repository    string
	RunnerName    string
	ResourceGroup string
	VMName        string
	Err           error
}

// TeardownOutcome is the terminal state of a teardown request.
type TeardownOutcome struct {
	RequestID     string
	Stage         Stage
	Steps         []StepResult
	ResourceGroup string
	Err           error
}

// FailedStep returns the step that failed, or "" on success.
func (o *ProvisionOutcome) FailedStep() Step {
	return failedStep(o.Steps)
}

// FailedStep returns the step that failed, or "" on success.
func (o *TeardownOutcome) FailedStep() Step {
	return failedStep(o.Steps)
}

func failedStep(steps []StepResult) Step {
	if n := len(steps); n > 0 && !steps[n-1].OK() {
		return steps[n-1].Step
	}
	return ""
}

// validRepository reports whether repo is an "org/repo" name GitHub could
// issue. The dot segments "." and ".." match the pattern but are not names.
func validRepository(repo string) bool {
	if !repositoryPattern.MatchString(repo) {
		return false
	}
	_, name, _ := strings.Cut(repo, "/")
	return name != "." && name != ".."
}

// DefaultRunnerName returns a fresh "gh-runner-xxxxxxxx" name.
func DefaultRunnerName() string {
	return "gh-runner-" + uuid.NewString()[:8]
}

func newRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
