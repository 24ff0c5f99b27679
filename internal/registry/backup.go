// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pivgate/pivgate/internal/model"
)

// backupPayload is the shape written inside the zstd stream.
type backupPayload struct {
	CreatedAt time.Time            `json:"created_at"`
	Servers   []model.ServerRecord `json:"servers"`
}

// Backup writes a zstd-compressed JSON snapshot of the server list to w.
func (s *Store) Backup(w io.Writer) error {
	records, _, err := s.Load()
	if err != nil {
		return fmt.Errorf("load registry for backup: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(backupPayload{CreatedAt: time.Now().UTC(), Servers: records}); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	return zw.Close()
}

// Restore reads a zstd-compressed JSON backup and replaces the server list
// with its contents. Restored records go through the same id normalization
// and repair as a regular load.
func (s *Store) Restore(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var payload backupPayload
	if err := json.NewDecoder(zr).Decode(&payload); err != nil {
		return fmt.Errorf("decode backup: %w", err)
	}

	s.mu.Lock()
	err = s.write(payload.Servers)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// A follow-up load normalizes ids and rewrites the file if needed.
	_, _, err = s.Load()
	return err
}
