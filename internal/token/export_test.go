// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pivgate/pivgate/internal/security"
	"github.com/pivgate/pivgate/internal/testutil"
	"github.com/pivgate/pivgate/internal/token"
)

func newTestPipeline(t *testing.T, tool token.KeyTool) *token.Pipeline {
	t.Helper()
	p, err := token.NewPipeline(t.TempDir(), tool)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestExportHappyPath(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportPEM: []byte("-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----\n"),
		Line:      testutil.TestAuthorizedKey,
	}
	p := newTestPipeline(t, tool)

	line, err := p.ExportPublicKey(context.Background(), "13338383", nil)
	if err != nil {
		t.Fatalf("ExportPublicKey: %v", err)
	}
	if line != testutil.TestAuthorizedKey {
		t.Errorf("line = %q", line)
	}
	if tool.GenCalls != 0 {
		t.Errorf("generation ran despite successful export (%d calls)", tool.GenCalls)
	}
	if _, ok := p.Cached("13338383"); !ok {
		t.Error("successful export was not cached")
	}
}

func TestExportCacheHitSkipsTool(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportPEM: []byte("pem"),
		Line:      testutil.TestAuthorizedKey,
	}
	p := newTestPipeline(t, tool)
	ctx := context.Background()

	if _, err := p.ExportPublicKey(ctx, "13338383", nil); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if _, err := p.ExportPublicKey(ctx, "13338383", nil); err != nil {
		t.Fatalf("second export: %v", err)
	}
	if tool.ExportCalls != 1 || tool.ConvertCalls != 1 {
		t.Errorf("cache hit still hit the tool: export=%d convert=%d", tool.ExportCalls, tool.ConvertCalls)
	}
}

func TestExportFallsBackToGeneration(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportErr: errors.New("slot 9a is empty"),
		GenPEM:    []byte("pem"),
		Line:      testutil.TestAuthorizedKey,
	}
	p := newTestPipeline(t, tool)

	pin := security.FromString("123456")
	line, err := p.ExportPublicKey(context.Background(), "13338383", pin)
	if err != nil {
		t.Fatalf("ExportPublicKey: %v", err)
	}
	if line != testutil.TestAuthorizedKey {
		t.Errorf("line = %q", line)
	}
	if tool.GenCalls != 1 {
		t.Errorf("generation ran %d times, want 1", tool.GenCalls)
	}
	if string(tool.LastPIN.Bytes()) != "123456" {
		t.Error("generation did not receive the PIN")
	}
}

func TestExportExtractionFailure(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportErr: errors.New("no token"),
		GenErr:    errors.New("pin rejected"),
	}
	p := newTestPipeline(t, tool)

	_, err := p.ExportPublicKey(context.Background(), "13338383", nil)
	if !errors.Is(err, token.ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	if _, ok := p.Cached("13338383"); ok {
		t.Error("failed export left a cache entry")
	}
}

func TestExportConversionFailure(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportPEM:  []byte("pem"),
		ConvertErr: errors.New("not PKCS8"),
	}
	p := newTestPipeline(t, tool)

	_, err := p.ExportPublicKey(context.Background(), "13338383", nil)
	if !errors.Is(err, token.ErrConversionFailed) {
		t.Fatalf("err = %v, want ErrConversionFailed", err)
	}
	if _, ok := p.Cached("13338383"); ok {
		t.Error("failed conversion left a cache entry")
	}
}

func TestExportRejectsUnparseableLine(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportPEM: []byte("pem"),
		Line:      "this is not an authorized_keys line",
	}
	p := newTestPipeline(t, tool)

	_, err := p.ExportPublicKey(context.Background(), "13338383", nil)
	if !errors.Is(err, token.ErrConversionFailed) {
		t.Fatalf("err = %v, want ErrConversionFailed", err)
	}
}

func TestInvalidateForcesRederivation(t *testing.T) {
	tool := &testutil.FakeKeyTool{
		ExportPEM: []byte("pem"),
		Line:      testutil.TestAuthorizedKey,
	}
	p := newTestPipeline(t, tool)
	ctx := context.Background()

	if _, err := p.ExportPublicKey(ctx, "13338383", nil); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := p.Invalidate("13338383"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := p.Cached("13338383"); ok {
		t.Fatal("cache entry survived invalidation")
	}
	if _, err := p.ExportPublicKey(ctx, "13338383", nil); err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if tool.ExportCalls != 2 {
		t.Errorf("export ran %d times, want 2 after invalidation", tool.ExportCalls)
	}
}

func TestInvalidateMissingEntryIsNoop(t *testing.T) {
	p := newTestPipeline(t, &testutil.FakeKeyTool{})
	if err := p.Invalidate("does-not-exist"); err != nil {
		t.Errorf("Invalidate of absent entry = %v, want nil", err)
	}
}
