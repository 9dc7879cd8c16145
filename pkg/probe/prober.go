// Package probe answers one question: can this host be reached right now at
// this credential. It never throws for a reachability failure; errors are
// reserved for malformed inputs.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/transports/ssh"
)

// Budget bounds a probe: one initial attempt plus up to Retries more, with
// Delay between attempts. Budgets come from configuration, not from constants
// buried at call sites, because a sensible figure depends on observed remote
// service startup latency.
type Budget struct {
	Retries int
	Delay   time.Duration
}

// Result is the outcome of one Probe call.
type Result struct {
	// Reachable reports whether any attempt established a session.
	Reachable bool

	// Attempts is the number of connection attempts made.
	Attempts int

	// LastError describes the final failure when unreachable.
	LastError string

	// Elapsed is the total probe wall time.
	Elapsed time.Duration
}

// DialFunc attempts a minimal session establishment against address at cred.
// A nil return means reachable.
type DialFunc func(ctx context.Context, address string, cred inventory.Credential) error

// SSHDial returns the production dialer: connect, open one session, close.
func SSHDial(connectTimeout time.Duration) DialFunc {
	return func(ctx context.Context, address string, cred inventory.Credential) error {
		cfg := ssh.ConfigFromCredential(address, cred)
		if connectTimeout > 0 {
			cfg.ConnectTimeout = connectTimeout
		}
		client, err := ssh.NewClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Connect(ctx); err != nil {
			return err
		}
		return client.OpenSession(ctx)
	}
}

// Prober performs reachability checks with retry and backoff.
type Prober struct {
	dial DialFunc
}

// New creates a Prober. A nil dial falls back to SSHDial with defaults.
func New(dial DialFunc) *Prober {
	if dial == nil {
		dial = SSHDial(0)
	}
	return &Prober{dial: dial}
}

// Probe attempts session establishment at address with cred. It reports
// unreachable through the Result, never through the error; the error return
// fires only on malformed inputs or parent-context cancellation.
func (p *Prober) Probe(ctx context.Context, address string, cred inventory.Credential, budget Budget) (Result, error) {
	if address == "" {
		return Result{}, fmt.Errorf("address is required")
	}
	if err := cred.Validate(); err != nil {
		return Result{}, err
	}
	if budget.Retries < 0 {
		return Result{}, fmt.Errorf("retries must be non-negative, got %d", budget.Retries)
	}

	started := time.Now()
	var lastErr error

	attempts := budget.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		lastErr = p.dial(ctx, address, cred)
		if lastErr == nil {
			log.Debug().
				Str("address", address).
				Int("port", cred.Port).
				Int("attempt", attempt).
				Msg("host reachable")
			return Result{
				Reachable: true,
				Attempts:  attempt,
				Elapsed:   time.Since(started),
			}, nil
		}

		log.Debug().
			Str("address", address).
			Int("port", cred.Port).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("probe attempt failed")

		if attempt < attempts {
			select {
			case <-time.After(budget.Delay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
	}

	log.Warn().
		Str("address", address).
		Int("port", cred.Port).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("host unreachable after retry budget")

	return Result{
		Reachable: false,
		Attempts:  attempts,
		LastError: lastErr.Error(),
		Elapsed:   time.Since(started),
	}, nil
}
