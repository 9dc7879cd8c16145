// Package inventory builds the per-call connection descriptor handed to the
// execution engine. An Inventory is derived from a (Host, Credential) pair at
// call time and is never cached across phases, because the credential can
// change between phases.
package inventory

import (
	"fmt"
	"os"
	"strconv"
)

// Host is one managed machine in the fleet for the duration of a hardening
// run. The engine owns it while the run is active and discards it afterwards;
// persisting final state is the caller's concern.
type Host struct {
	// Name is the fleet-unique identifier used in reports and logs.
	Name string

	// Address is the resolved network address (IP or DNS name).
	Address string

	// Labels are optional operator-supplied key-value pairs, opaque here.
	Labels map[string]string
}

// Credential is the access path to a host at a given point in the hardening
// sequence. It is an immutable value; exactly two well-known instances exist
// per host, the factory-default one and the post-migration one.
type Credential struct {
	// Port is the SSH port. Never zero in a valid credential.
	Port int

	// Principal is the login user. Never empty in a valid credential.
	Principal string

	// IdentityFile is the path to the private key authenticating Principal.
	IdentityFile string

	// Elevate requests privilege escalation on the remote side.
	Elevate bool
}

// Validate checks the credential's structural invariants. It does not touch
// the filesystem; identity resolution happens in Build.
func (c Credential) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &InvalidCredentialError{Field: "port", Detail: fmt.Sprintf("invalid port %d", c.Port)}
	}
	if c.Principal == "" {
		return &InvalidCredentialError{Field: "principal", Detail: "principal is required"}
	}
	return nil
}

// Inventory is the resolved connection descriptor for one execution-engine
// call. All connection fields are set explicitly at construction; there is no
// zero-value fallback to the local machine.
type Inventory struct {
	address      string
	port         int
	principal    string
	identityFile string
	elevate      bool
}

// InvalidHostError reports a malformed Host record.
type InvalidHostError struct {
	Name   string
	Detail string
}

func (e *InvalidHostError) Error() string {
	return fmt.Sprintf("invalid host %q: %s", e.Name, e.Detail)
}

// InvalidCredentialError reports a malformed or unresolvable Credential.
type InvalidCredentialError struct {
	Field  string
	Detail string
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("invalid credential (%s): %s", e.Field, e.Detail)
}

// Build derives the connection descriptor for host at cred. It fails with
// *InvalidHostError when the host record is unusable and *InvalidCredentialError
// when the credential is malformed or its identity file does not resolve to an
// existing local secret. Build has no side effects.
func Build(host Host, cred Credential) (Inventory, error) {
	if host.Address == "" {
		return Inventory{}, &InvalidHostError{Name: host.Name, Detail: "address is required"}
	}
	if err := cred.Validate(); err != nil {
		return Inventory{}, err
	}
	if cred.IdentityFile != "" {
		if _, err := os.Stat(cred.IdentityFile); err != nil {
			return Inventory{}, &InvalidCredentialError{
				Field:  "identity",
				Detail: fmt.Sprintf("identity file %s: %v", cred.IdentityFile, err),
			}
		}
	}

	return Inventory{
		address:      host.Address,
		port:         cred.Port,
		principal:    cred.Principal,
		identityFile: cred.IdentityFile,
		elevate:      cred.Elevate,
	}, nil
}

// Address returns the target network address.
func (i Inventory) Address() string { return i.address }

// Port returns the target SSH port.
func (i Inventory) Port() int { return i.port }

// Principal returns the login user.
func (i Inventory) Principal() string { return i.principal }

// IdentityFile returns the private key path, empty if agent-based.
func (i Inventory) IdentityFile() string { return i.identityFile }

// Elevate reports whether remote privilege escalation is requested.
func (i Inventory) Elevate() bool { return i.elevate }

// EngineArgs renders the inventory as execution-engine command arguments.
// Address and port are always emitted; the engine is never allowed to default
// either one.
func (i Inventory) EngineArgs() []string {
	args := []string{
		"--inventory", i.address + ",",
		"--extra-vars", "ansible_host=" + i.address,
		"--extra-vars", "ansible_port=" + strconv.Itoa(i.port),
		"--extra-vars", "ansible_user=" + i.principal,
	}
	if i.identityFile != "" {
		args = append(args, "--private-key", i.identityFile)
	}
	if i.elevate {
		args = append(args, "--become")
	}
	return args
}
