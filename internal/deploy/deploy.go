// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy implements remote trust provisioning: opening an
// authenticated session to a host, verifying its SSH setup preconditions,
// appending the exported token key to its authorized_keys file, and
// recording the resulting (token, server) binding in the authorization
// registry.
package deploy // import "github.com/pivgate/pivgate/internal/deploy"

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pivgate/pivgate/internal/device"
	"github.com/pivgate/pivgate/internal/i18n"
	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/registry"
	"github.com/pivgate/pivgate/internal/security"
	"github.com/pivgate/pivgate/internal/token"
)

// ErrConnectionFailed wraps any transport or authentication failure while
// opening the remote session. The underlying cause is included; the
// password never is.
var ErrConnectionFailed = errors.New("connection failed")

// ErrPreconditionFailed is the base error for remote SSH setup problems
// found before any mutation is attempted.
var ErrPreconditionFailed = errors.New("remote ssh setup precondition failed")

// ErrMissingSSHDir reports an absent ~/.ssh directory. Provisioning never
// creates it: bootstrapping directory permissions on a trust path would
// silently weaken the remote setup.
var ErrMissingSSHDir = fmt.Errorf("%w: .ssh directory missing", ErrPreconditionFailed)

// ErrUnwritableAuthorizedKeys reports that neither the authorized_keys file
// nor its parent directory is writable.
var ErrUnwritableAuthorizedKeys = fmt.Errorf("%w: authorized_keys not writable", ErrPreconditionFailed)

// ErrRemoteWriteFailed reports a failed remote append, carrying the remote
// stderr.
var ErrRemoteWriteFailed = errors.New("remote write failed")

const (
	sshDir             = ".ssh"
	authorizedKeysFile = ".ssh/authorized_keys"
)

// AuditWriter records provisioning actions. The operational store
// (internal/db) implements it; a nil writer disables auditing.
type AuditWriter interface {
	LogAction(action, details string) error
}

// Provisioner runs the deployment state machine for one (token, server)
// pair at a time.
type Provisioner struct {
	Devices     *device.Registry
	Credentials *token.Pipeline
	Servers     *registry.Store
	// Dial opens the remote session; defaults to the SSH transport.
	Dial Dialer
	// Options is passed through to Dial.
	Options Options
	// Audit, when set, receives a record of each successful deployment.
	Audit AuditWriter
}

func (p *Provisioner) dialer() Dialer {
	if p.Dial != nil {
		return p.Dial
	}
	return Dial
}

// Deploy provisions the active token's public key onto the server. The
// state machine is linear and retry-free; each step's failure is terminal
// for the attempt:
//
//  1. resolve the active token
//  2. export its public key (cache-first)
//  3. open the authenticated remote session
//  4. verify ~/.ssh exists (never created here)
//  5. verify authorized_keys (or its directory) is writable
//  6. append the key line in a single remote command
//  7. record the authorization locally
//
// A failure in step 7 is logged but does not fail the attempt: the remote
// append already succeeded and the remote filesystem is the ground truth;
// the local registry can be reconciled manually.
func (p *Provisioner) Deploy(ctx context.Context, server model.ServerRecord, password, pin security.Secret) error {
	serial, ok := p.Devices.Selected()
	if !ok {
		return device.ErrNoDeviceSelected
	}

	line, err := p.Credentials.ExportPublicKey(ctx, serial, pin)
	if err != nil {
		return err
	}

	sess, err := p.dialer()(ctx, server, password, p.Options)
	if err != nil {
		if errors.Is(err, ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer sess.Close()

	if err := sess.HasDir(sshDir); err != nil {
		return fmt.Errorf("%w (%v)", ErrMissingSSHDir, err)
	}

	if stderr, err := sess.Exec("test -w ~/.ssh/authorized_keys || test -w ~/.ssh"); err != nil {
		return fmt.Errorf("%w (%s)", ErrUnwritableAuthorizedKeys, firstLine(stderr))
	}

	// The append is one atomic remote command: the line lands whole or not
	// at all. The remote file is append-only and not deduplicated.
	appendCmd := fmt.Sprintf("echo %q >> ~/.ssh/authorized_keys", line)
	if stderr, err := sess.Exec(appendCmd); err != nil {
		return fmt.Errorf("%w: %s", ErrRemoteWriteFailed, firstLine(stderr))
	}

	if err := p.Servers.Authorize(server.ID, serial); err != nil {
		// Remote state is already correct; keep the success but make the
		// bookkeeping failure visible.
		logging.Warnf(i18n.T("deploy.warn_registry_update"), err)
	}
	if p.Audit != nil {
		_ = p.Audit.LogAction("DEPLOY_KEY", fmt.Sprintf("server: %s, serial: %s", server.String(), serial))
	}
	logging.Infof("deployed key for token %s to %s", serial, server.String())
	return nil
}

// FetchAuthorizedKeys reads the remote authorized_keys file for inspection.
func (p *Provisioner) FetchAuthorizedKeys(ctx context.Context, server model.ServerRecord, password security.Secret) ([]byte, error) {
	sess, err := p.dialer()(ctx, server, password, p.Options)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ReadFile(authorizedKeysFile)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
