package hardening

import (
	"sort"
	"time"
)

// Summary is the at-a-glance fleet outcome.
type Summary struct {
	// Total is the number of hosts processed.
	Total int `json:"total"`

	// Hardened is the number of hosts that reached the terminal phase.
	Hardened int `json:"hardened"`

	// Halted is the number of hosts that stopped early.
	Halted int `json:"halted"`

	// ByReason groups halted hosts by halt reason.
	ByReason map[HaltReason]int `json:"by_reason,omitempty"`
}

// FleetReport is the one entity that outlives a run: every host's run record
// plus the rolled-up summary. Immutable once a host's entry is recorded.
type FleetReport struct {
	// RunID identifies this hardening run.
	RunID string `json:"run_id"`

	// Profile is the security profile the run used.
	Profile string `json:"profile"`

	// StartedAt and CompletedAt bound the whole run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Hosts maps host name to its run record.
	Hosts map[string]*HostRun `json:"hosts"`

	// Summary is the rolled-up outcome.
	Summary Summary `json:"summary"`
}

// Aggregate folds per-host run records into a FleetReport. Pure function:
// the records are not copied or mutated.
func Aggregate(runID, profile string, startedAt time.Time, runs []*HostRun) *FleetReport {
	report := &FleetReport{
		RunID:     runID,
		Profile:   profile,
		StartedAt: startedAt,
		Hosts:     make(map[string]*HostRun, len(runs)),
		Summary: Summary{
			ByReason: make(map[HaltReason]int),
		},
	}

	for _, run := range runs {
		report.Hosts[run.Host.Name] = run
		report.Summary.Total++
		if run.Completed {
			report.Summary.Hardened++
		} else {
			report.Summary.Halted++
			if run.Halt != nil {
				report.Summary.ByReason[run.Halt.Reason]++
			}
		}
	}

	report.CompletedAt = time.Now()
	return report
}

// FullyHardened reports whether every host reached the terminal phase.
func (r *FleetReport) FullyHardened() bool {
	return r.Summary.Halted == 0 && r.Summary.Total > 0
}

// HostsByHaltReason returns the hosts that halted with reason, sorted by
// name for stable output.
func (r *FleetReport) HostsByHaltReason(reason HaltReason) []*HostRun {
	var out []*HostRun
	for _, run := range r.Hosts {
		if run.Halt != nil && run.Halt.Reason == reason {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host.Name < out[j].Host.Name })
	return out
}

// SortedHosts returns all host runs sorted by name.
func (r *FleetReport) SortedHosts() []*HostRun {
	out := make([]*HostRun, 0, len(r.Hosts))
	for _, run := range r.Hosts {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host.Name < out[j].Host.Name })
	return out
}
