// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package testutil provides in-memory test doubles for the external
// boundaries: token enumeration, the key tooling, remote SSH sessions and
// the interactive launcher. Tests inject these to exercise the full flows
// without hardware or a network.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pivgate/pivgate/internal/deploy"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/security"
)

// TestAuthorizedKey is a valid ed25519 authorized_keys line for tests that
// need a parseable key.
const TestAuthorizedKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIHBpdmdhdGUtZmFrZS1lZDI1NTE5LWtleS0zMmJ5dGVz pivgate-test"

// FakeEnumerator serves a scripted device list (or a fixed error). It is
// safe for concurrent use so tests can change the list while a watcher
// polls.
type FakeEnumerator struct {
	mu      sync.Mutex
	devices []model.Device
	err     error
	calls   int
}

// NewFakeEnumerator returns an enumerator reporting the given devices.
func NewFakeEnumerator(devices ...model.Device) *FakeEnumerator {
	return &FakeEnumerator{devices: devices}
}

// SetDevices replaces the reported device list.
func (f *FakeEnumerator) SetDevices(devices ...model.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// SetError makes every enumeration fail with err (nil clears it).
func (f *FakeEnumerator) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how often Enumerate ran.
func (f *FakeEnumerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEnumerator) Enumerate(ctx context.Context) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

// FakeKeyTool scripts the three key tooling operations and records how
// often each was hit.
type FakeKeyTool struct {
	ExportPEM  []byte
	ExportErr  error
	GenPEM     []byte
	GenErr     error
	Line       string
	ConvertErr error

	ExportCalls  int
	GenCalls     int
	ConvertCalls int
	// LastPIN records the PIN passed to the last generate call.
	LastPIN security.Secret
}

func (f *FakeKeyTool) ExportPublicKey(ctx context.Context, serial string) ([]byte, error) {
	f.ExportCalls++
	if f.ExportErr != nil {
		return nil, f.ExportErr
	}
	return f.ExportPEM, nil
}

func (f *FakeKeyTool) GenerateKeyPair(ctx context.Context, serial string, pin security.Secret) ([]byte, error) {
	f.GenCalls++
	f.LastPIN = security.FromBytes(pin.Bytes())
	if f.GenErr != nil {
		return nil, f.GenErr
	}
	return f.GenPEM, nil
}

func (f *FakeKeyTool) ConvertToAuthorizedKey(ctx context.Context, pemKey []byte) (string, error) {
	f.ConvertCalls++
	if f.ConvertErr != nil {
		return "", f.ConvertErr
	}
	return f.Line, nil
}

// ExecResult scripts the outcome of one remote command.
type ExecResult struct {
	Stderr string
	Err    error
}

// FakeSession is an in-memory deploy.Session. Dirs lists the remote
// directories that exist; Results scripts command outcomes by command
// string (missing entries succeed).
type FakeSession struct {
	Dirs    map[string]bool
	Results map[string]ExecResult
	Files   map[string][]byte

	// Commands records every Exec call in order.
	Commands []string
	Closed   bool
}

func (f *FakeSession) HasDir(path string) error {
	if f.Dirs[path] {
		return nil
	}
	return fmt.Errorf("stat %s: no such file or directory", path)
}

func (f *FakeSession) Exec(cmd string) (string, error) {
	f.Commands = append(f.Commands, cmd)
	if res, ok := f.Results[cmd]; ok {
		return res.Stderr, res.Err
	}
	return "", nil
}

func (f *FakeSession) ReadFile(path string) ([]byte, error) {
	data, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return data, nil
}

func (f *FakeSession) Close() { f.Closed = true }

// DialerFor returns a deploy.Dialer that always hands out sess, or fails
// with dialErr when set.
func DialerFor(sess *FakeSession, dialErr error) deploy.Dialer {
	return func(ctx context.Context, server model.ServerRecord, password security.Secret, opts deploy.Options) (deploy.Session, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return sess, nil
	}
}

// FakeLauncher records connection handoffs instead of spawning a terminal.
type FakeLauncher struct {
	Launched []model.ServerRecord
	Provider string
	Err      error
}

func (f *FakeLauncher) Launch(ctx context.Context, server model.ServerRecord, providerPath string) error {
	if f.Err != nil {
		return f.Err
	}
	f.Launched = append(f.Launched, server)
	f.Provider = providerPath
	return nil
}

// MemHostKeys is an in-memory deploy.HostKeyStore.
type MemHostKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *MemHostKeys) KnownHostKey(hostname string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[hostname], nil
}

func (m *MemHostKeys) PinHostKey(hostname, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	m.keys[hostname] = key
	return nil
}

// FakeAudit records audit actions in memory.
type FakeAudit struct {
	mu      sync.Mutex
	Actions []string
	Details []string
}

func (f *FakeAudit) LogAction(action, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, action)
	f.Details = append(f.Details, details)
	return nil
}
