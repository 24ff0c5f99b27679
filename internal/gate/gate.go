// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package gate implements the connection gatekeeper. A connection attempt
// resolves the target server and the active token, re-validates live token
// presence, and is permitted only when the token's serial has been
// provisioned for the server. Authorized attempts are handed off to the
// external interactive SSH client.
package gate // import "github.com/pivgate/pivgate/internal/gate"

import (
	"context"
	"errors"
	"fmt"

	"github.com/pivgate/pivgate/internal/device"
	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/registry"
)

// ErrNotAuthorized is returned when the selected token's serial is not in
// the server's authorized set. This is the core gate: no connection is
// permitted for a (token, server) pair that has not been provisioned.
var ErrNotAuthorized = errors.New("token not authorized for server")

// AuditWriter records connection handoffs; nil disables auditing.
type AuditWriter interface {
	LogAction(action, details string) error
}

// Gatekeeper ties the registries together for connection gating.
type Gatekeeper struct {
	Servers *registry.Store
	Devices *device.Registry
	Launch  Launcher
	// Provider is the PKCS#11 provider path passed to the SSH client.
	Provider string
	Audit    AuditWriter
}

// Connect gates and hands off a connection to the server with the given id.
// Device presence is re-read here rather than trusting any cached snapshot.
func (g *Gatekeeper) Connect(ctx context.Context, serverID string) (*model.ServerRecord, error) {
	server, err := g.Servers.Get(serverID)
	if err != nil {
		return nil, err
	}

	serial, ok := g.Devices.Selected()
	if !ok {
		return nil, device.ErrNoDeviceSelected
	}
	if err := g.Devices.Validate(ctx, serial); err != nil {
		return nil, err
	}

	if !server.IsAuthorized(serial) {
		return nil, fmt.Errorf("%w: serial %s, server %s", ErrNotAuthorized, serial, server.String())
	}

	if err := g.Launch.Launch(ctx, *server, g.Provider); err != nil {
		return nil, err
	}
	if g.Audit != nil {
		_ = g.Audit.LogAction("CONNECT", fmt.Sprintf("server: %s, serial: %s", server.String(), serial))
	}
	logging.Infof("handed off connection to %s for token %s", server.String(), serial)
	return server, nil
}
