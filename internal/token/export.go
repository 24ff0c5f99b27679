// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package token implements the credential export pipeline: it turns the
// public half of a token's PIV authentication key into an SSH
// authorized_keys line and caches the result per serial. A token is
// processed at most once; the cache is never re-derived implicitly, only
// removed through an explicit invalidation.
package token // import "github.com/pivgate/pivgate/internal/token"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/security"
	"golang.org/x/crypto/ssh"
)

// ErrExtractionFailed is returned when the token's key material could not be
// read or generated.
var ErrExtractionFailed = errors.New("public key extraction failed")

// ErrConversionFailed is returned when the extracted key could not be turned
// into a valid authorized_keys line.
var ErrConversionFailed = errors.New("ssh format conversion failed")

// Pipeline caches exported credentials under a keys directory, one file per
// token serial.
type Pipeline struct {
	dir  string
	tool KeyTool
	mu   sync.Mutex
}

// NewPipeline creates the pipeline with its cache directory under dir.
func NewPipeline(dir string, tool KeyTool) (*Pipeline, error) {
	keysDir := filepath.Join(dir, "keys")
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key cache directory: %w", err)
	}
	return &Pipeline{dir: keysDir, tool: tool}, nil
}

// cachePath returns the cache file for a serial.
func (p *Pipeline) cachePath(serial string) string {
	return filepath.Join(p.dir, fmt.Sprintf("token_%s.pub", serial))
}

// Cached returns the cached authorized_keys line for serial, if present.
func (p *Pipeline) Cached(serial string) (string, bool) {
	data, err := os.ReadFile(p.cachePath(serial))
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return "", false
	}
	return line, true
}

// ExportPublicKey returns the authorized_keys line for the token with the
// given serial.
//
// A cache hit short-circuits everything: the pipeline never re-derives a key
// for a token it has already processed, even if the slot contents changed
// out of band (stability over freshness; see Invalidate). On a miss the
// pipeline exports the existing slot key, falling back to generating fresh
// RSA2048 material with the PIN when the slot is empty, converts the PEM to
// an authorized_keys line, validates it, and persists it. Nothing is cached
// on failure.
func (p *Pipeline) ExportPublicKey(ctx context.Context, serial string, pin security.Secret) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if line, ok := p.Cached(serial); ok {
		logging.Debugf("token %s: using cached exported credential", serial)
		return line, nil
	}

	pemKey, err := p.tool.ExportPublicKey(ctx, serial)
	if err != nil {
		logging.Debugf("token %s: export failed, attempting key generation", serial)
		pemKey, err = p.tool.GenerateKeyPair(ctx, serial, pin)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	}

	line, err := p.tool.ConvertToAuthorizedKey(ctx, pemKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	line = strings.TrimSpace(line)
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line)); err != nil {
		return "", fmt.Errorf("%w: converter produced an unparseable key line: %v", ErrConversionFailed, err)
	}

	if err := os.WriteFile(p.cachePath(serial), []byte(line+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist exported credential: %w", err)
	}
	logging.Infof("token %s: exported public key cached", serial)
	return line, nil
}

// Invalidate removes the cached credential for serial so the next export
// re-derives it from the hardware. This is the explicit escape hatch for
// tokens re-keyed out of band; removal of a non-existent entry is a no-op.
func (p *Pipeline) Invalidate(serial string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := os.Remove(p.cachePath(serial))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached credential: %w", err)
	}
	return nil
}
