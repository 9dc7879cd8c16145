package runner

import "time"

// ExecutionStatus classifies the outcome of one configuration unit execution.
// It is a tagged result, never inferred from log text, so "the unit does not
// exist" and "the unit ran and failed" stay distinguishable.
type ExecutionStatus string

const (
	// StatusSuccess means the unit ran and exited zero.
	StatusSuccess ExecutionStatus = "success"

	// StatusUnitNotFound means no search root contained the unit. The caller
	// decides whether that is fatal; this layer does not.
	StatusUnitNotFound ExecutionStatus = "unit_not_found"

	// StatusExecutionFailed means the unit ran and exited non-zero, or was
	// cut off by the caller-supplied timeout.
	StatusExecutionFailed ExecutionStatus = "execution_failed"
)

// FailureReason refines StatusExecutionFailed.
type FailureReason string

const (
	// ReasonNone is set on successful and not-found results.
	ReasonNone FailureReason = ""

	// ReasonNonZeroExit means the engine process exited with a failure code.
	ReasonNonZeroExit FailureReason = "non_zero_exit"

	// ReasonTimeout means the engine process exceeded the caller's deadline.
	// The runner never retries on timeout; retry policy belongs to the
	// caller, which knows whether a retry is safe mid-migration.
	ReasonTimeout FailureReason = "timeout"
)

// ConfigurationUnit is a named, idempotent remote-change payload plus the
// variables to inject at execution time. The contents are opaque here.
type ConfigurationUnit struct {
	// Name resolves against the locator's search roots.
	Name string `yaml:"name" validate:"required"`

	// Variables are injected into the engine invocation as extra vars.
	Variables map[string]string `yaml:"variables,omitempty"`
}

// ExecutionResult is the immutable outcome of one Run call.
type ExecutionResult struct {
	// Unit is the name of the executed configuration unit.
	Unit string `json:"unit"`

	// Status is the tagged classification of the outcome.
	Status ExecutionStatus `json:"status"`

	// Reason refines a failed status.
	Reason FailureReason `json:"reason,omitempty"`

	// ExitCode is the engine process exit code, -1 when it never ran.
	ExitCode int `json:"exit_code"`

	// Stdout is the full captured standard output, untruncated.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the full captured standard error, untruncated.
	Stderr string `json:"stderr,omitempty"`

	// Duration is the wall time of the engine invocation.
	Duration time.Duration `json:"duration"`
}

// OK reports whether the unit ran to success.
func (r ExecutionResult) OK() bool {
	return r.Status == StatusSuccess
}
