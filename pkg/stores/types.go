// Package stores persists fleet reports for after-the-fact audit queries.
// The engine itself never reads state back from here; a hardening run is
// driven entirely by its run configuration.
package stores

import (
	"context"
	"time"

	"github.com/fortress-sh/fortress/pkg/hardening"
)

// RunRecord is one persisted hardening run.
type RunRecord struct {
	ID          string    `json:"id"`
	Profile     string    `json:"profile"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Total       int       `json:"total"`
	Hardened    int       `json:"hardened"`
	Halted      int       `json:"halted"`
}

// HostRecord is one host's outcome within a run.
type HostRecord struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	FinalPhase string `json:"final_phase"`
	Completed  bool   `json:"completed"`
	HaltReason string `json:"halt_reason,omitempty"`
	HaltDetail string `json:"halt_detail,omitempty"`
	Reachable  bool   `json:"reachable"`
}

// UnitRecord is one configuration unit execution within a run, kept in
// declared order for audit.
type UnitRecord struct {
	RunID      string `json:"run_id"`
	Host       string `json:"host"`
	Seq        int    `json:"seq"`
	Phase      string `json:"phase"`
	Unit       string `json:"unit"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Store is the report persistence interface.
type Store interface {
	// Init opens the backing database and applies migrations.
	Init(ctx context.Context) error

	// Close releases the database.
	Close() error

	// SaveReport persists a completed fleet report.
	SaveReport(ctx context.Context, report *hardening.FleetReport) error

	// ListRuns returns runs newest first, bounded by limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// LatestRun returns the most recent run, or ErrNotFound.
	LatestRun(ctx context.Context) (*RunRecord, error)

	// HostsByHaltReason returns the hosts of a run halted with reason.
	HostsByHaltReason(ctx context.Context, runID, reason string) ([]HostRecord, error)

	// HostsForRun returns every host outcome of a run.
	HostsForRun(ctx context.Context, runID string) ([]HostRecord, error)

	// UnitsForHost returns a host's unit executions in declared order.
	UnitsForHost(ctx context.Context, runID, host string) ([]UnitRecord, error)
}

// FlattenReport converts a fleet report into its persistence records.
func FlattenReport(report *hardening.FleetReport) (RunRecord, []HostRecord, []UnitRecord) {
	run := RunRecord{
		ID:          report.RunID,
		Profile:     report.Profile,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Total:       report.Summary.Total,
		Hardened:    report.Summary.Hardened,
		Halted:      report.Summary.Halted,
	}

	var hosts []HostRecord
	var units []UnitRecord
	for _, hostRun := range report.SortedHosts() {
		record := HostRecord{
			RunID:      report.RunID,
			Name:       hostRun.Host.Name,
			Address:    hostRun.Host.Address,
			FinalPhase: hostRun.FinalPhase.String(),
			Completed:  hostRun.Completed,
			Reachable:  hostRun.FinalReachable,
		}
		if hostRun.Halt != nil {
			record.HaltReason = string(hostRun.Halt.Reason)
			record.HaltDetail = hostRun.Halt.Detail
		}
		hosts = append(hosts, record)

		seq := 0
		for _, phase := range hostRun.Phases {
			for _, unit := range phase.Units {
				units = append(units, UnitRecord{
					RunID:      report.RunID,
					Host:       hostRun.Host.Name,
					Seq:        seq,
					Phase:      phase.Phase.String(),
					Unit:       unit.Unit,
					Status:     string(unit.Status),
					Reason:     string(unit.Reason),
					ExitCode:   unit.ExitCode,
					Stdout:     unit.Stdout,
					Stderr:     unit.Stderr,
					DurationMS: unit.Duration.Milliseconds(),
				})
				seq++
			}
		}
	}

	return run, hosts, units
}
