// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/security"
)

// HostKeyStore is the persistence interface for pinned host keys. The
// operational store (internal/db) implements it.
type HostKeyStore interface {
	KnownHostKey(hostname string) (string, error)
	PinHostKey(hostname, key string) error
}

// Options tunes the SSH transport.
type Options struct {
	// Timeout bounds the connection attempt. Zero means 10 seconds.
	Timeout time.Duration
	// HostKeys holds the pinned host keys for trust-on-first-use checking.
	HostKeys HostKeyStore
	// DisableAgent turns off the SSH-agent fallback.
	DisableAgent bool
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 10 * time.Second
}

// Session is an authenticated session to a remote host. The provisioning
// state machine runs against this interface; tests substitute a fake.
type Session interface {
	// HasDir verifies that path exists and is a directory.
	HasDir(path string) error
	// Exec runs a remote command. A non-zero exit status is returned as an
	// error together with the captured remote stderr.
	Exec(cmd string) (stderr string, err error)
	// ReadFile returns the contents of a remote file.
	ReadFile(path string) ([]byte, error)
	// Close releases the session.
	Close()
}

// Dialer opens an authenticated Session to a server. It exists so the
// provisioner can be exercised without a network.
type Dialer func(ctx context.Context, server model.ServerRecord, password security.Secret, opts Options) (Session, error)

// sshSession implements Session over an SSH client plus an SFTP subsystem.
type sshSession struct {
	client *ssh.Client
	sftp   *sftp.Client
}

// Dial opens an authenticated SSH session to the server. Password
// authentication is tried first; when the host rejects it and an SSH agent
// is reachable, the agent's identities are tried as a fallback. Host keys
// are pinned on first use and must match exactly afterwards.
func Dial(ctx context.Context, server model.ServerRecord, password security.Secret, opts Options) (Session, error) {
	callback := hostKeyCallback(opts.HostKeys)
	addr := server.Addr()

	var authErr error
	if !password.IsZero() {
		config := &ssh.ClientConfig{
			User:            server.Username,
			Auth:            []ssh.AuthMethod{ssh.Password(string(password.Bytes()))},
			HostKeyCallback: callback,
			Timeout:         opts.timeout(),
		}
		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			return newSSHSession(client)
		}
		// Non-auth transport errors fail fast; an auth rejection falls
		// through to the agent.
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		authErr = err
	}

	if opts.DisableAgent {
		if authErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, authErr)
		}
		return nil, fmt.Errorf("%w: no authentication method available", ErrConnectionFailed)
	}

	agentClient := getSSHAgent()
	if agentClient == nil {
		if authErr != nil {
			return nil, fmt.Errorf("%w: password authentication failed and no SSH agent available for fallback: %v", ErrConnectionFailed, authErr)
		}
		return nil, fmt.Errorf("%w: no authentication method available (no password provided and no ssh agent found)", ErrConnectionFailed)
	}

	config := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: callback,
		Timeout:         opts.timeout(),
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("%w: connection with ssh agent failed: %v", ErrConnectionFailed, err)
	}
	return newSSHSession(client)
}

func newSSHSession(client *ssh.Client) (Session, error) {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to create sftp client: %v", ErrConnectionFailed, err)
	}
	return &sshSession{client: client, sftp: sftpClient}, nil
}

// hostKeyCallback implements trust-on-first-use pinning against the host key
// store. A first connection records the presented key; any later mismatch is
// fatal for the attempt.
func hostKeyCallback(store HostKeyStore) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname can include the port; strip it for the lookup.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}
		presented := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

		if store == nil {
			return fmt.Errorf("no host key store configured")
		}
		known, err := store.KnownHostKey(host)
		if err != nil {
			return fmt.Errorf("failed to query known hosts: %w", err)
		}
		if known == "" {
			if err := store.PinHostKey(host, presented); err != nil {
				return fmt.Errorf("failed to pin host key: %w", err)
			}
			logging.Infof("pinned new host key for %s", host)
			return nil
		}
		if known != presented {
			return fmt.Errorf("host key mismatch for %s: remote presented %s", host, presented)
		}
		return nil
	}
}

// HasDir verifies path exists and is a directory on the remote host.
func (s *sshSession) HasDir(path string) error {
	fi, err := s.sftp.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// Exec runs a remote command and captures its stderr. A non-zero exit
// status is returned as the error.
func (s *sshSession) Exec(cmd string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open exec session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stderr strings.Builder
	session.Stderr = &stderr
	if err := session.Run(cmd); err != nil {
		return stderr.String(), err
	}
	return stderr.String(), nil
}

// ReadFile returns the contents of a remote file via SFTP.
func (s *sshSession) ReadFile(path string) ([]byte, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote file %s: %w", path, err)
	}
	return content, nil
}

// Close closes the underlying SSH and SFTP clients.
func (s *sshSession) Close() {
	if s.sftp != nil {
		_ = s.sftp.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
}
