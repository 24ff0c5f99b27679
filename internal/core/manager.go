// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package core wires the registries, the credential pipeline, the
// provisioner and the gatekeeper into one facade and translates their
// typed errors into localized user-facing results. Callers (the CLI, or
// any future surface) talk to a Manager and render Results; they never
// see raw sentinel errors.
package core // import "github.com/pivgate/pivgate/internal/core"

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pivgate/pivgate/internal/db"
	"github.com/pivgate/pivgate/internal/deploy"
	"github.com/pivgate/pivgate/internal/device"
	"github.com/pivgate/pivgate/internal/gate"
	"github.com/pivgate/pivgate/internal/i18n"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/registry"
	"github.com/pivgate/pivgate/internal/security"
	"github.com/pivgate/pivgate/internal/token"
)

// Result is the uniform outcome of a user-triggered operation: a success
// flag plus a human-readable, already-localized message. Secrets never end
// up in Message; the sentinel errors the message is derived from do not
// carry them.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(msg string) Result   { return Result{Success: true, Message: msg} }
func fail(msg string) Result { return Result{Success: false, Message: msg} }

// AuditWriter records user-triggered actions; nil disables auditing.
type AuditWriter interface {
	LogAction(action, details string) error
}

// AuditReader lists the recorded audit trail, most recent first.
type AuditReader interface {
	Entries() ([]db.AuditEntry, error)
}

// Manager is the application facade.
type Manager struct {
	Servers     *registry.Store
	Devices     *device.Registry
	Credentials *token.Pipeline
	Provisioner *deploy.Provisioner
	Gate        *gate.Gatekeeper
	Audit       AuditWriter
	Trail       AuditReader
}

func (m *Manager) audit(action, details string) {
	if m.Audit != nil {
		_ = m.Audit.LogAction(action, details)
	}
}

// ListServers returns all registered servers.
func (m *Manager) ListServers() ([]model.ServerRecord, error) {
	return m.Servers.List()
}

// AddServer registers a new server and reports the assigned record.
func (m *Manager) AddServer(fields model.ServerFields) (*model.ServerRecord, Result) {
	rec, err := m.Servers.Add(fields)
	if err != nil {
		return nil, fail(fmt.Sprintf(i18n.T("server.add_failed"), err))
	}
	m.audit("ADD_SERVER", rec.String())
	return rec, ok(fmt.Sprintf(i18n.T("server.added"), rec.Name))
}

// UpdateServer replaces the editable fields of an existing server.
func (m *Manager) UpdateServer(id string, fields model.ServerFields) Result {
	err := m.Servers.Update(id, fields)
	switch {
	case err == nil:
		m.audit("UPDATE_SERVER", id)
		return ok(i18n.T("server.updated"))
	case errors.Is(err, registry.ErrInvalidID):
		return fail(i18n.T("server.invalid_id"))
	case errors.Is(err, registry.ErrNotFound):
		return fail(i18n.T("server.not_found"))
	default:
		return fail(fmt.Sprintf(i18n.T("server.update_failed"), err))
	}
}

// DeleteServer removes a server. Deleting an absent (but well-formed) id is
// a success.
func (m *Manager) DeleteServer(id string) Result {
	err := m.Servers.Delete(id)
	switch {
	case err == nil:
		m.audit("DELETE_SERVER", id)
		return ok(i18n.T("server.deleted"))
	case errors.Is(err, registry.ErrInvalidID):
		return fail(i18n.T("server.invalid_id"))
	default:
		return fail(fmt.Sprintf(i18n.T("server.delete_failed"), err))
	}
}

// ListDevices enumerates the attached tokens. Failures degrade to an empty
// list inside the device registry.
func (m *Manager) ListDevices(ctx context.Context) []model.Device {
	return m.Devices.List(ctx)
}

// SelectedSerial returns the persisted active token serial, if any.
func (m *Manager) SelectedSerial() (string, bool) {
	return m.Devices.Selected()
}

// SelectDevice makes the token with the given serial the active one.
func (m *Manager) SelectDevice(ctx context.Context, serial string) Result {
	if err := m.Devices.Select(ctx, serial); err != nil {
		if errors.Is(err, device.ErrNotPresent) {
			return fail(i18n.T("device.not_present"))
		}
		return fail(fmt.Sprintf(i18n.T("device.select_failed"), err))
	}
	m.audit("SELECT_DEVICE", serial)
	return ok(fmt.Sprintf(i18n.T("device.selected"), serial))
}

// ShowPublicKey exports (or re-reads) the active token's authorized_keys
// line.
func (m *Manager) ShowPublicKey(ctx context.Context, pin security.Secret) (string, Result) {
	serial, err := m.Devices.ActiveSerial(ctx)
	if err != nil {
		return "", deviceFailure(err)
	}
	line, err := m.Credentials.ExportPublicKey(ctx, serial, pin)
	if err != nil {
		return "", credentialFailure(err)
	}
	return line, ok(line)
}

// InvalidateCredential drops the cached exported key for serial so the next
// export re-derives it from the hardware.
func (m *Manager) InvalidateCredential(serial string) Result {
	if err := m.Credentials.Invalidate(serial); err != nil {
		return fail(fmt.Sprintf(i18n.T("token.cache_invalidate_failed"), err))
	}
	m.audit("INVALIDATE_CREDENTIAL", serial)
	return ok(fmt.Sprintf(i18n.T("token.cache_invalidated"), serial))
}

// DeployKey provisions the active token's public key onto the server with
// the given id. The password authenticates the remote session; the pin is
// only used if fresh key material has to be generated on the token.
func (m *Manager) DeployKey(ctx context.Context, serverID string, password, pin security.Secret) Result {
	server, err := m.Servers.Get(serverID)
	if err != nil {
		return serverFailure(err)
	}
	if err := m.Provisioner.Deploy(ctx, *server, password, pin); err != nil {
		return deployFailure(err)
	}
	return ok(i18n.T("deploy.success"))
}

// Connect gates a connection attempt against the authorization registry and
// hands it off to the interactive SSH client on success.
func (m *Manager) Connect(ctx context.Context, serverID string) Result {
	_, err := m.Gate.Connect(ctx, serverID)
	switch {
	case err == nil:
		return ok(i18n.T("connect.success"))
	case errors.Is(err, registry.ErrInvalidID):
		return fail(i18n.T("server.invalid_id"))
	case errors.Is(err, registry.ErrNotFound):
		return fail(i18n.T("server.not_found"))
	case errors.Is(err, device.ErrNoDeviceSelected):
		return fail(i18n.T("device.none_selected"))
	case errors.Is(err, device.ErrNotPresent):
		return fail(i18n.T("device.not_present"))
	case errors.Is(err, gate.ErrNotAuthorized):
		return fail(i18n.T("connect.not_authorized"))
	default:
		return fail(fmt.Sprintf(i18n.T("connect.failed"), err))
	}
}

// Backup streams a compressed snapshot of the server registry to w.
func (m *Manager) Backup(w io.Writer) Result {
	if err := m.Servers.Backup(w); err != nil {
		return fail(fmt.Sprintf(i18n.T("backup.failed"), err))
	}
	return ok(i18n.T("backup.success"))
}

// Restore replaces the server registry from a snapshot previously written
// by Backup.
func (m *Manager) Restore(r io.Reader) Result {
	if err := m.Servers.Restore(r); err != nil {
		return fail(fmt.Sprintf(i18n.T("restore.failed"), err))
	}
	m.audit("RESTORE", "server registry restored from backup")
	return ok(i18n.T("restore.success"))
}

// AuditLog returns the recorded audit trail; without an operational store
// it is empty.
func (m *Manager) AuditLog() ([]db.AuditEntry, error) {
	if m.Trail == nil {
		return nil, nil
	}
	return m.Trail.Entries()
}

// serverFailure maps registry lookup errors to results.
func serverFailure(err error) Result {
	switch {
	case errors.Is(err, registry.ErrInvalidID):
		return fail(i18n.T("server.invalid_id"))
	case errors.Is(err, registry.ErrNotFound):
		return fail(i18n.T("server.not_found"))
	default:
		return fail(err.Error())
	}
}

// deviceFailure maps active-token resolution errors to results.
func deviceFailure(err error) Result {
	switch {
	case errors.Is(err, device.ErrNoDeviceSelected):
		return fail(i18n.T("device.none_selected"))
	case errors.Is(err, device.ErrNotPresent):
		return fail(i18n.T("device.not_present"))
	default:
		return fail(err.Error())
	}
}

// credentialFailure maps export pipeline errors to results.
func credentialFailure(err error) Result {
	switch {
	case errors.Is(err, token.ErrExtractionFailed):
		return fail(i18n.T("token.extract_failed"))
	case errors.Is(err, token.ErrConversionFailed):
		return fail(i18n.T("token.convert_failed"))
	default:
		return fail(err.Error())
	}
}

// deployFailure maps provisioning errors to results. The precondition
// messages are deliberately instructional: they tell the operator what to
// fix on the remote host.
func deployFailure(err error) Result {
	switch {
	case errors.Is(err, device.ErrNoDeviceSelected):
		return fail(i18n.T("device.none_selected"))
	case errors.Is(err, device.ErrNotPresent):
		return fail(i18n.T("device.not_present"))
	case errors.Is(err, token.ErrExtractionFailed):
		return fail(i18n.T("token.extract_failed"))
	case errors.Is(err, token.ErrConversionFailed):
		return fail(i18n.T("token.convert_failed"))
	case errors.Is(err, deploy.ErrMissingSSHDir):
		return fail(i18n.T("deploy.missing_ssh_dir"))
	case errors.Is(err, deploy.ErrUnwritableAuthorizedKeys):
		return fail(i18n.T("deploy.unwritable_authorized_keys"))
	case errors.Is(err, deploy.ErrRemoteWriteFailed):
		return fail(fmt.Sprintf(i18n.T("deploy.append_failed"), err))
	case errors.Is(err, deploy.ErrConnectionFailed):
		return fail(fmt.Sprintf(i18n.T("deploy.connection_failed"), err))
	default:
		return fail(fmt.Sprintf(i18n.T("deploy.failed"), err))
	}
}
