package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortress-sh/fortress/pkg/hardening"
)

const validConfig = `
profile: default
concurrency: 8
unit_timeout: 5m
engine: ansible-playbook
search_roots:
  - ./playbooks/hardening
  - ./playbooks/common
credentials:
  initial:
    port: 22
    principal: root
    identity_file: /tmp/keys/initial
  hardened:
    port: 6677
    principal: ops
    identity_file: /tmp/keys/hardened
    elevate: true
probe:
  connect_timeout: 10s
  gate:
    retries: 2
    delay: 3s
  migration:
    retries: 20
    delay: 5s
hosts:
  - name: web1
    address: 203.0.113.10
  - name: web2
    address: 203.0.113.11
    labels:
      env: prod
phases:
  baseline:
    - name: baseline
  firewall:
    - name: firewall
      variables:
        ssh_port: "6677"
  ssh_migration:
    - name: sshd
      variables:
        ssh_port: "6677"
  intrusion_prevention:
    - name: fail2ban
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Len(t, cfg.Hosts, 2)
	assert.Equal(t, 5*time.Minute, cfg.UnitTimeout.Std())
	assert.Equal(t, "prod", cfg.Hosts[1].Labels["env"])

	opts := cfg.MachineOptions()
	assert.Equal(t, 20, opts.MigrationBudget.Retries)
	assert.Equal(t, 5*time.Second, opts.MigrationBudget.Delay)

	plan, err := cfg.Plan()
	require.NoError(t, err)
	assert.Equal(t, 22, plan.Initial().Port)
	assert.Equal(t, 6677, plan.Hardened().Port)
	assert.Len(t, plan.Units(hardening.PhaseFirewall), 1)
	assert.Empty(t, plan.Units(hardening.PhaseVerification))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nnot_a_real_key: true\n"))
	assert.Error(t, err)
}

func TestLoadRejectsMissingHosts(t *testing.T) {
	body := `
profile: default
search_roots: [./playbooks]
credentials:
  initial: {port: 22, principal: root, identity_file: /tmp/k}
  hardened: {port: 6677, principal: ops, identity_file: /tmp/k}
hosts: []
phases:
  baseline: [{name: baseline}]
`
	_, err := Load(writeConfig(t, body))
	assert.Error(t, err)
}

func TestValidateRejectsIdenticalCredentialPair(t *testing.T) {
	body := `
profile: default
search_roots: [./playbooks]
credentials:
  initial: {port: 22, principal: root, identity_file: /tmp/k}
  hardened: {port: 22, principal: root, identity_file: /tmp/k}
hosts:
  - {name: web1, address: 203.0.113.10}
phases:
  baseline: [{name: baseline}]
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differ")
}

func TestValidateRejectsUnknownPhaseName(t *testing.T) {
	body := `
profile: default
search_roots: [./playbooks]
credentials:
  initial: {port: 22, principal: root, identity_file: /tmp/k}
  hardened: {port: 6677, principal: ops, identity_file: /tmp/k}
hosts:
  - {name: web1, address: 203.0.113.10}
phases:
  warmup: [{name: warmup}]
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestValidateRejectsDuplicateHostNames(t *testing.T) {
	body := `
profile: default
search_roots: [./playbooks]
credentials:
  initial: {port: 22, principal: root, identity_file: /tmp/k}
  hardened: {port: 6677, principal: ops, identity_file: /tmp/k}
hosts:
  - {name: web1, address: 203.0.113.10}
  - {name: web1, address: 203.0.113.11}
phases:
  baseline: [{name: baseline}]
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate host")
}

func TestDurationParsing(t *testing.T) {
	bad := strings.Replace(validConfig, "unit_timeout: 5m", "unit_timeout: not-a-duration", 1)

	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing duration")
}
