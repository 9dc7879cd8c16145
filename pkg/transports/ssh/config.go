// Package ssh provides the SSH transport used for reachability probes and
// post-hardening evidence collection. Configuration units themselves go
// through the external execution engine, not through this package.
package ssh

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fortress-sh/fortress/pkg/inventory"
)

// Config holds the parameters for one SSH connection.
type Config struct {
	// Host is the remote address (IP or DNS name).
	Host string

	// Port is the SSH port.
	Port int

	// User is the login user.
	User string

	// IdentityFile is the private key path. Required; this transport is
	// key-only because hardening removes password authentication.
	IdentityFile string

	// KnownHostsPath enables host key verification when set together with
	// StrictHostKeyChecking. Freshly provisioned instances are unknown by
	// definition, so the default is permissive.
	KnownHostsPath string

	// StrictHostKeyChecking rejects unknown host keys.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout is used when no timeout is configured.
const DefaultConnectTimeout = 10 * time.Second

// ConfigFromCredential builds a connection config for address at cred.
func ConfigFromCredential(address string, cred inventory.Credential) *Config {
	return &Config{
		Host:           address,
		Port:           cred.Port,
		User:           cred.Principal,
		IdentityFile:   cred.IdentityFile,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.IdentityFile == "" {
		return fmt.Errorf("identity file is required")
	}
	if _, err := os.Stat(c.IdentityFile); err != nil {
		return fmt.Errorf("identity file %s: %w", c.IdentityFile, err)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return nil
}

// ClientConfig builds the ssh.ClientConfig for this connection.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() // #nosec G106 -- fresh instances have no recorded key
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
