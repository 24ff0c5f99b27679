// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pivgate/pivgate/internal/deploy"
	"github.com/pivgate/pivgate/internal/device"
	"github.com/pivgate/pivgate/internal/model"
	"github.com/pivgate/pivgate/internal/registry"
	"github.com/pivgate/pivgate/internal/testutil"
	"github.com/pivgate/pivgate/internal/token"
)

const (
	testSerial    = "13338383"
	writableCheck = "test -w ~/.ssh/authorized_keys || test -w ~/.ssh"
)

type fixture struct {
	prov    *deploy.Provisioner
	servers *registry.Store
	server  model.ServerRecord
	session *testutil.FakeSession
	enum    *testutil.FakeEnumerator
	tool    *testutil.FakeKeyTool
	audit   *testutil.FakeAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	enum := testutil.NewFakeEnumerator(model.Device{Serial: testSerial, Name: "YubiKey 5"})
	devices, err := device.NewRegistry(dir, enum)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := devices.Select(context.Background(), testSerial); err != nil {
		t.Fatalf("Select: %v", err)
	}

	tool := &testutil.FakeKeyTool{
		ExportPEM: []byte("pem"),
		Line:      testutil.TestAuthorizedKey,
	}
	credentials, err := token.NewPipeline(dir, tool)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	servers, err := registry.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := servers.Add(model.ServerFields{Name: "web-1", Hostname: "web1.example.com", Username: "deploy", Port: 22})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	session := &testutil.FakeSession{Dirs: map[string]bool{".ssh": true}}
	audit := &testutil.FakeAudit{}
	prov := &deploy.Provisioner{
		Devices:     devices,
		Credentials: credentials,
		Servers:     servers,
		Dial:        testutil.DialerFor(session, nil),
		Audit:       audit,
	}
	return &fixture{prov: prov, servers: servers, server: *rec, session: session, enum: enum, tool: tool, audit: audit}
}

func TestDeploySuccess(t *testing.T) {
	f := newFixture(t)

	if err := f.prov.Deploy(context.Background(), f.server, nil, nil); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := fmt.Sprintf("echo %q >> ~/.ssh/authorized_keys", testutil.TestAuthorizedKey)
	var appended bool
	for _, cmd := range f.session.Commands {
		if cmd == want {
			appended = true
		}
	}
	if !appended {
		t.Errorf("append command not issued; commands: %v", f.session.Commands)
	}
	if !f.session.Closed {
		t.Error("session left open")
	}

	got, err := f.servers.Get(f.server.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsAuthorized(testSerial) {
		t.Error("authorization not recorded after successful deploy")
	}
	if len(f.audit.Actions) == 0 || f.audit.Actions[0] != "DEPLOY_KEY" {
		t.Errorf("audit actions = %v", f.audit.Actions)
	}
}

func TestDeployWithoutSelection(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	devices, err := device.NewRegistry(dir, f.enum)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f.prov.Devices = devices

	err = f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, device.ErrNoDeviceSelected) {
		t.Errorf("Deploy = %v, want ErrNoDeviceSelected", err)
	}
}

func TestDeployConnectionFailure(t *testing.T) {
	f := newFixture(t)
	f.prov.Dial = testutil.DialerFor(nil, fmt.Errorf("%w: dial tcp: connection refused", deploy.ErrConnectionFailed))

	err := f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, deploy.ErrConnectionFailed) {
		t.Fatalf("Deploy = %v, want ErrConnectionFailed", err)
	}

	got, _ := f.servers.Get(f.server.ID)
	if got.IsAuthorized(testSerial) {
		t.Error("failed deploy recorded an authorization")
	}
}

func TestDeployMissingSSHDir(t *testing.T) {
	f := newFixture(t)
	f.session.Dirs = nil

	err := f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, deploy.ErrMissingSSHDir) {
		t.Fatalf("Deploy = %v, want ErrMissingSSHDir", err)
	}
	if !errors.Is(err, deploy.ErrPreconditionFailed) {
		t.Error("missing dir should also match the precondition sentinel")
	}
	if len(f.session.Commands) != 0 {
		t.Errorf("commands ran despite failed precondition: %v", f.session.Commands)
	}
}

func TestDeployUnwritableAuthorizedKeys(t *testing.T) {
	f := newFixture(t)
	f.session.Results = map[string]testutil.ExecResult{
		writableCheck: {Err: errors.New("exit status 1")},
	}

	err := f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, deploy.ErrUnwritableAuthorizedKeys) {
		t.Fatalf("Deploy = %v, want ErrUnwritableAuthorizedKeys", err)
	}
	// The append must never have been attempted.
	for _, cmd := range f.session.Commands {
		if strings.Contains(cmd, ">>") {
			t.Errorf("append attempted after failed writability check: %q", cmd)
		}
	}
}

func TestDeployRemoteWriteFailure(t *testing.T) {
	f := newFixture(t)
	appendCmd := fmt.Sprintf("echo %q >> ~/.ssh/authorized_keys", testutil.TestAuthorizedKey)
	f.session.Results = map[string]testutil.ExecResult{
		appendCmd: {Stderr: "bash: ~/.ssh/authorized_keys: Permission denied\n", Err: errors.New("exit status 1")},
	}

	err := f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, deploy.ErrRemoteWriteFailed) {
		t.Fatalf("Deploy = %v, want ErrRemoteWriteFailed", err)
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Errorf("remote stderr not carried in error: %v", err)
	}

	got, _ := f.servers.Get(f.server.ID)
	if got.IsAuthorized(testSerial) {
		t.Error("failed append recorded an authorization")
	}
}

func TestDeployKeyPipelineFailure(t *testing.T) {
	f := newFixture(t)
	f.tool.ExportErr = errors.New("no slot")
	f.tool.GenErr = errors.New("pin locked")

	err := f.prov.Deploy(context.Background(), f.server, nil, nil)
	if !errors.Is(err, token.ErrExtractionFailed) {
		t.Fatalf("Deploy = %v, want ErrExtractionFailed", err)
	}
	if len(f.session.Commands) != 0 {
		t.Error("remote session used despite missing credential")
	}
}

func TestDeploySucceedsWhenRegistryWriteFails(t *testing.T) {
	f := newFixture(t)
	// Deleting the record between export and bookkeeping makes Authorize
	// fail while the remote append still succeeds.
	if err := f.servers.Delete(f.server.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := f.prov.Deploy(context.Background(), f.server, nil, nil); err != nil {
		t.Errorf("Deploy = %v; remote success must win over bookkeeping failure", err)
	}
}

func TestFetchAuthorizedKeys(t *testing.T) {
	f := newFixture(t)
	f.session.Files = map[string][]byte{
		".ssh/authorized_keys": []byte(testutil.TestAuthorizedKey + "\n"),
	}

	data, err := f.prov.FetchAuthorizedKeys(context.Background(), f.server, nil)
	if err != nil {
		t.Fatalf("FetchAuthorizedKeys: %v", err)
	}
	if !strings.Contains(string(data), "ssh-ed25519") {
		t.Errorf("unexpected contents: %q", data)
	}
}
