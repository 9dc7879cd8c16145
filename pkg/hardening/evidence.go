package hardening

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fortress-sh/fortress/pkg/inventory"
	"github.com/fortress-sh/fortress/pkg/transports/ssh"
)

// SSHEvidenceCollector gathers audit evidence over the hardened access path:
// the live sshd configuration (proof the port migration landed) and the
// intrusion-prevention service state.
type SSHEvidenceCollector struct {
	// ConnectTimeout bounds each SSH dial; zero means the transport default.
	ConnectTimeout time.Duration
}

// Collect connects to host at cred and gathers the evidence set. A partially
// collected set is returned alongside the first error so the report keeps
// whatever proof was obtainable.
func (c *SSHEvidenceCollector) Collect(ctx context.Context, host inventory.Host, cred inventory.Credential) ([]Evidence, error) {
	cfg := ssh.ConfigFromCredential(host.Address, cred)
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}

	client, err := ssh.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building evidence client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting for evidence: %w", err)
	}
	defer client.Close()

	var evidence []Evidence

	sshdConfig, err := client.Download(ctx, "/etc/ssh/sshd_config")
	if err != nil {
		log.Warn().Str("host", host.Name).Err(err).Msg("could not download sshd_config")
	} else {
		evidence = append(evidence, Evidence{Name: "sshd_config", Content: string(sshdConfig)})
	}

	// fail2ban state, best effort: the command exists only after the
	// intrusion-prevention phase installed it.
	stdout, stderr, err := client.Run(ctx, "systemctl is-active fail2ban")
	state := strings.TrimSpace(stdout)
	if state == "" {
		state = strings.TrimSpace(stderr)
	}
	if err != nil && state == "" {
		log.Warn().Str("host", host.Name).Err(err).Msg("could not query fail2ban state")
	} else {
		evidence = append(evidence, Evidence{Name: "fail2ban_state", Content: state})
	}

	if len(evidence) == 0 {
		return nil, fmt.Errorf("no evidence collectable from %s", host.Name)
	}
	return evidence, nil
}
