package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, []byte("fake key material"), 0o600))
	return path
}

func TestBuildSetsAllConnectionFields(t *testing.T) {
	key := writeKey(t)

	inv, err := Build(
		Host{Name: "web1", Address: "203.0.113.10"},
		Credential{Port: 22, Principal: "root", IdentityFile: key, Elevate: true},
	)
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.10", inv.Address())
	assert.Equal(t, 22, inv.Port())
	assert.Equal(t, "root", inv.Principal())
	assert.Equal(t, key, inv.IdentityFile())
	assert.True(t, inv.Elevate())
}

func TestBuildRejectsEmptyAddress(t *testing.T) {
	_, err := Build(Host{Name: "web1"}, Credential{Port: 22, Principal: "root"})

	var hostErr *InvalidHostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "web1", hostErr.Name)
}

func TestBuildRejectsBadCredential(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
	}{
		{name: "zero port", cred: Credential{Port: 0, Principal: "root"}},
		{name: "port out of range", cred: Credential{Port: 70000, Principal: "root"}},
		{name: "empty principal", cred: Credential{Port: 22}},
		{name: "missing identity file", cred: Credential{Port: 22, Principal: "root", IdentityFile: "/nonexistent/key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(Host{Name: "h", Address: "198.51.100.1"}, tt.cred)
			var credErr *InvalidCredentialError
			assert.True(t, errors.As(err, &credErr), "expected InvalidCredentialError, got %v", err)
		})
	}
}

func TestEngineArgsAlwaysCarryAddressAndPort(t *testing.T) {
	inv, err := Build(
		Host{Name: "web1", Address: "203.0.113.10"},
		Credential{Port: 6677, Principal: "ops"},
	)
	require.NoError(t, err)

	args := inv.EngineArgs()
	assert.Contains(t, args, "--inventory")
	assert.Contains(t, args, "203.0.113.10,")
	assert.Contains(t, args, "ansible_port=6677")
	assert.Contains(t, args, "ansible_user=ops")
	assert.NotContains(t, args, "--become")
}
