// Package runner executes opaque configuration units against one host by
// shelling out to the external execution engine. It is a pure executor: it
// carries no unit-specific business logic and never raises on the unit's own
// failure, only on programmer or I/O setup error.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/units"
)

// DefaultEngine is the execution engine binary resolved on PATH.
const DefaultEngine = "ansible-playbook"

// Runner executes configuration units via the external execution engine.
type Runner struct {
	locator *units.Locator
	engine  string
	env     []string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEngine overrides the execution engine binary. Used by tests and by
// operators pinning a specific engine install.
func WithEngine(path string) Option {
	return func(r *Runner) { r.engine = path }
}

// WithEnv sets extra environment variables for engine invocations.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

// New creates a Runner resolving units through locator.
func New(locator *units.Locator, opts ...Option) *Runner {
	r := &Runner{
		locator: locator,
		engine:  DefaultEngine,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one configuration unit against one inventory with a bounded
// timeout. The subprocess's own failure is reported in the result, never as
// an error; the error return is reserved for malformed arguments, setup
// failures, and cancellation of the parent context.
func (r *Runner) Run(ctx context.Context, unit ConfigurationUnit, inv inventory.Inventory, timeout time.Duration) (ExecutionResult, error) {
	if unit.Name == "" {
		return ExecutionResult{}, fmt.Errorf("unit name is required")
	}
	if timeout <= 0 {
		return ExecutionResult{}, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, err
	}

	path, err := r.locator.Locate(unit.Name)
	if err != nil {
		var notFound *units.NotFoundError
		if errors.As(err, &notFound) {
			return ExecutionResult{
				Unit:     unit.Name,
				Status:   StatusUnitNotFound,
				ExitCode: -1,
			}, nil
		}
		return ExecutionResult{}, fmt.Errorf("locating unit %s: %w", unit.Name, err)
	}

	args := append([]string{path}, inv.EngineArgs()...)
	for _, key := range sortedKeys(unit.Variables) {
		args = append(args, "--extra-vars", key+"="+unit.Variables[key])
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.engine, args...)
	if len(r.env) > 0 {
		cmd.Env = r.env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().
		Str("unit", unit.Name).
		Str("path", path).
		Str("address", inv.Address()).
		Int("port", inv.Port()).
		Dur("timeout", timeout).
		Msg("executing configuration unit")

	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	result := ExecutionResult{
		Unit:     unit.Name,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		ExitCode: -1,
	}

	switch {
	case runErr == nil:
		result.Status = StatusSuccess
		result.ExitCode = 0

	case ctx.Err() != nil:
		// Run-level cancellation, not a unit outcome. Surface to the caller
		// so it can stop between units.
		return ExecutionResult{}, ctx.Err()

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusExecutionFailed
		result.Reason = ReasonTimeout
		log.Warn().
			Str("unit", unit.Name).
			Dur("timeout", timeout).
			Msg("configuration unit timed out")

	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Engine never started: missing binary, fork failure. This is a
			// setup defect, not a unit outcome.
			return ExecutionResult{}, fmt.Errorf("starting execution engine %s: %w", r.engine, runErr)
		}
		result.Status = StatusExecutionFailed
		result.Reason = ReasonNonZeroExit
		result.ExitCode = exitErr.ExitCode()
		log.Warn().
			Str("unit", unit.Name).
			Int("exit_code", result.ExitCode).
			Int("stderr_len", len(result.Stderr)).
			Msg("configuration unit failed")
	}

	if result.Status == StatusSuccess {
		log.Debug().
			Str("unit", unit.Name).
			Dur("duration", duration).
			Msg("configuration unit succeeded")
	}

	return result, nil
}

// sortedKeys keeps variable injection order deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
