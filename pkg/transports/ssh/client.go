package ssh

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a single-connection SSH client. Unlike a pooled transport it is
// deliberately short-lived: hardening changes the access path between phases,
// so connections must never outlive the credential they were built with.
type Client struct {
	config *Config

	mu        sync.Mutex
	conn      *ssh.Client
	connected bool
}

// NewClient creates a client for the given configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection. The dial is bounded by both the
// configured connect timeout and ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.ClientConfig()
	if err != nil {
		return err
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Str("user", c.config.User).Msg("dialing ssh")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, dialErr := ssh.Dial("tcp", address, clientConfig)
		if dialErr != nil {
			errChan <- dialErr
			return
		}
		connChan <- conn
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errChan:
		return fmt.Errorf("dialing %s: %w", address, err)
	case conn := <-connChan:
		c.conn = conn
		c.connected = true
		return nil
	}
}

// Close tears down the connection. Safe to call on a disconnected client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

// OpenSession opens and immediately closes a session. This is the minimal
// proof that the endpoint accepts the credential and can allocate a channel,
// which is exactly what a reachability probe needs.
func (c *Client) OpenSession(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	return session.Close()
}

// Run executes cmd remotely and returns the captured streams. The remote
// process is signalled when ctx is cancelled.
func (c *Client) Run(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	conn, err := c.current()
	if err != nil {
		return "", "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		return outBuf.String(), errBuf.String(), ctx.Err()
	case runErr := <-done:
		if runErr != nil {
			return outBuf.String(), errBuf.String(), fmt.Errorf("running %q: %w", cmd, runErr)
		}
		return outBuf.String(), errBuf.String(), nil
	}
}

func (c *Client) current() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.conn, nil
}
