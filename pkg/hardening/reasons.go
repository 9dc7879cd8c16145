package hardening

import (
	"fmt"

	"github.com/fortress-sh/fortress/pkg/runner"
)

// HaltReason classifies why a host's run stopped before the terminal phase.
// Reasons are tagged values consumed programmatically; they are never derived
// from matching log text.
type HaltReason string

const (
	// HaltInvalidInput is a malformed host or credential. Config defect,
	// fails fast, not retried.
	HaltInvalidInput HaltReason = "invalid_input"

	// HaltPreconditionUnreachable means the host did not answer at the
	// credential the phase requires, so its units were never attempted.
	HaltPreconditionUnreachable HaltReason = "precondition_unreachable"

	// HaltUnitNotFound means a required configuration unit is missing from
	// every search root. Usually a deployment or packaging defect.
	HaltUnitNotFound HaltReason = "unit_not_found"

	// HaltExecutionFailed means a unit ran and failed. Full stdout/stderr
	// are preserved on the attached result.
	HaltExecutionFailed HaltReason = "execution_failed"

	// HaltMigrationVerificationFailed means the migration unit reported
	// success but the hardened access path never came up. Highest severity:
	// the old path may already be gone and an operator must intervene
	// out-of-band.
	HaltMigrationVerificationFailed HaltReason = "migration_verification_failed"

	// HaltCancelled means the run-level cancellation signal stopped this
	// host between units.
	HaltCancelled HaltReason = "cancelled"
)

// Severity buckets a reason for operator triage: transient reasons suggest
// re-run, the rest demand investigation.
func (r HaltReason) Severity() string {
	switch r {
	case HaltMigrationVerificationFailed:
		return "critical"
	case HaltExecutionFailed, HaltUnitNotFound, HaltInvalidInput:
		return "error"
	case HaltPreconditionUnreachable:
		return "warning"
	case HaltCancelled:
		return "info"
	default:
		return "error"
	}
}

// Retriable reports whether a plain re-run is a reasonable first response.
func (r HaltReason) Retriable() bool {
	return r == HaltPreconditionUnreachable || r == HaltCancelled
}

// Halt records why and where a host's run stopped.
type Halt struct {
	// Reason is the tagged classification.
	Reason HaltReason `json:"reason"`

	// Phase is where the cursor froze.
	Phase Phase `json:"phase"`

	// Detail is a human-readable explanation.
	Detail string `json:"detail,omitempty"`

	// Result is the failing unit execution, when one exists.
	Result *runner.ExecutionResult `json:"result,omitempty"`
}

// Error implements the error interface so a Halt can flow through error
// channels where convenient.
func (h *Halt) Error() string {
	return fmt.Sprintf("halted in %s: %s (%s)", h.Phase, h.Reason, h.Detail)
}
