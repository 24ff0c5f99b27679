// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package device implements the device registry: enumeration of attached
// hardware tokens and the persisted "active token" selection. Devices are
// never cached for gating decisions; every consumer that needs to act on the
// selection re-validates live presence through this package.
package device // import "github.com/pivgate/pivgate/internal/device"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/model"
)

// ErrNoDeviceSelected is returned when an operation requires an active token
// but the selection document is empty or unreadable.
var ErrNoDeviceSelected = errors.New("no token selected")

// ErrNotPresent is returned when a serial is not among the currently
// enumerable devices.
var ErrNotPresent = errors.New("token not present")

const selectionFile = "selection.json"

// Registry tracks attached tokens and the persisted selection.
type Registry struct {
	enum Enumerator
	path string
	mu   sync.Mutex
}

// NewRegistry creates a registry persisting its selection under dir.
func NewRegistry(dir string, enum Enumerator) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create device registry directory: %w", err)
	}
	return &Registry{enum: enum, path: filepath.Join(dir, selectionFile)}, nil
}

// List enumerates the attached tokens. Enumeration failures degrade to an
// empty list with a logged cause; they never propagate to the caller.
func (r *Registry) List(ctx context.Context) []model.Device {
	devices, err := r.enum.Enumerate(ctx)
	if err != nil {
		logging.Warnf("device enumeration failed: %v", err)
		return nil
	}
	return devices
}

// Selected returns the serial of the persisted selection, if any. Corrupt
// or unreadable selection state degrades to "no selection".
func (r *Registry) Selected() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(r.path)
	if err != nil {
		return "", false
	}
	var sel model.Selection
	if err := json.Unmarshal(data, &sel); err != nil || sel.Serial == "" {
		return "", false
	}
	return sel.Serial, true
}

// Select persists serial as the active token. It fails if the serial is not
// currently enumerable; on success any prior selection is replaced.
func (r *Registry) Select(ctx context.Context, serial string) error {
	if err := r.Validate(ctx, serial); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.Marshal(model.Selection{Serial: serial})
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	// Write-then-rename so a crash mid-write cannot leave a truncated
	// selection document behind.
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	logging.Infof("selected token with serial %s", serial)
	return nil
}

// Validate re-checks that serial is currently attached. Gating checks call
// this on every use instead of trusting any cached view.
func (r *Registry) Validate(ctx context.Context, serial string) error {
	for _, d := range r.List(ctx) {
		if d.Serial == serial {
			return nil
		}
	}
	return fmt.Errorf("%w: serial %s", ErrNotPresent, serial)
}

// ActiveSerial resolves the selection and re-validates presence in one step.
func (r *Registry) ActiveSerial(ctx context.Context) (string, error) {
	serial, ok := r.Selected()
	if !ok {
		return "", ErrNoDeviceSelected
	}
	if err := r.Validate(ctx, serial); err != nil {
		return "", err
	}
	return serial, nil
}
