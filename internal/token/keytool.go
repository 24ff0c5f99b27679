// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package token

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pivgate/pivgate/internal/security"
)

// KeyTool is the typed port over the external key-management facilities.
// Implementations map process exit codes to explicit errors; callers never
// see ad hoc exit-code checks. Abstracting the boundary this way allows a
// native PIV library to replace the external tools without touching callers.
type KeyTool interface {
	// ExportPublicKey returns the PEM-encoded public key stored in the
	// authentication slot of the token with the given serial.
	ExportPublicKey(ctx context.Context, serial string) ([]byte, error)
	// GenerateKeyPair creates new RSA2048 key material in the
	// authentication slot, authorized by the PIN, and returns the
	// PEM-encoded public key.
	GenerateKeyPair(ctx context.Context, serial string, pin security.Secret) ([]byte, error)
	// ConvertToAuthorizedKey converts a PEM public key into a single
	// authorized_keys line.
	ConvertToAuthorizedKey(ctx context.Context, pemKey []byte) (string, error)
}

// pivSlot is the conventional PIV authentication slot.
const pivSlot = "9a"

// YkmanTool drives the ykman and ssh-keygen executables.
type YkmanTool struct {
	// Ykman is the ykman executable name or path. Empty means "ykman".
	Ykman string
	// SSHKeygen is the ssh-keygen executable name or path. Empty means
	// "ssh-keygen".
	SSHKeygen string
}

func (t *YkmanTool) ykman() string {
	if t.Ykman != "" {
		return t.Ykman
	}
	return "ykman"
}

func (t *YkmanTool) sshKeygen() string {
	if t.SSHKeygen != "" {
		return t.SSHKeygen
	}
	return "ssh-keygen"
}

// ExportPublicKey runs `ykman piv keys export 9a -` for the given token.
func (t *YkmanTool) ExportPublicKey(ctx context.Context, serial string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ykman(), "--device", serial,
		"piv", "keys", "export", pivSlot, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ykman export: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// GenerateKeyPair runs `ykman piv keys generate` into a temporary file and
// returns its contents. The PIN is passed as a process argument and must
// never be echoed into errors or logs; only the tool's stderr is reported.
func (t *YkmanTool) GenerateKeyPair(ctx context.Context, serial string, pin security.Secret) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "pivgate-keygen")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	pubPath := filepath.Join(tmpDir, "slot9a.pem")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ykman(), "--device", serial,
		"piv", "keys", "generate",
		"--pin-policy", "ONCE",
		"--pin", string(pin.Bytes()),
		"--algorithm", "RSA2048",
		pivSlot, pubPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ykman generate: %w: %s", err, sanitizePIN(stderr.String(), pin))
	}
	pemKey, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read generated public key: %w", err)
	}
	return pemKey, nil
}

// ConvertToAuthorizedKey runs `ssh-keygen -i -m PKCS8` over a temporary copy
// of the PEM key and returns the resulting authorized_keys line.
func (t *YkmanTool) ConvertToAuthorizedKey(ctx context.Context, pemKey []byte) (string, error) {
	tmp, err := os.CreateTemp("", "pivgate-*.pem")
	if err != nil {
		return "", fmt.Errorf("create temp key file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(pemKey); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp key file: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.sshKeygen(), "-i", "-m", "PKCS8", "-f", tmp.Name())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ssh-keygen convert: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// sanitizePIN scrubs the PIN value from tool output before it can reach an
// error message.
func sanitizePIN(out string, pin security.Secret) string {
	out = strings.TrimSpace(out)
	if pin.IsZero() {
		return out
	}
	return strings.ReplaceAll(out, string(pin.Bytes()), "[SECRET]")
}
