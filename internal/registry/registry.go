// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package registry implements the authorization registry: the durable list
// of server records, each carrying the set of token serials that have been
// provisioned for it. The registry file is the single source of truth
// consulted by the connection gatekeeper.
//
// The backing store is a JSON array in servers.json under the application
// directory. Every mutation is a whole-file read, in-memory change and
// whole-file overwrite, serialized by a per-store mutex so concurrent
// mutations cannot race on the file.
package registry // import "github.com/pivgate/pivgate/internal/registry"

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pivgate/pivgate/internal/i18n"
	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/model"
)

// ErrInvalidID is returned when a caller-supplied identifier does not parse
// as a UUID. Malformed ids are never accepted as lookup input; they are only
// repaired when discovered already stored.
var ErrInvalidID = errors.New("invalid server id")

// ErrNotFound is returned when no record matches a well-formed identifier.
var ErrNotFound = errors.New("server not found")

const serversFile = "servers.json"

// LoadReport describes the self-healing work a load had to perform. Tests
// and callers can assert on it instead of guessing from log output.
type LoadReport struct {
	// Reset is true when the file was missing, unreadable or not a JSON
	// array and has been rewritten as an empty list.
	Reset bool
	// RepairedIDs counts records whose stored id was missing or malformed
	// and has been replaced with a freshly generated one.
	RepairedIDs int
}

// Repaired reports whether the load changed the file in any way.
func (r LoadReport) Repaired() bool { return r.Reset || r.RepairedIDs > 0 }

// Store is the file-backed authorization registry.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens (and lazily initializes) the registry under dir. The
// directory and an empty servers file are created if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	s := &Store{path: filepath.Join(dir, serversFile)}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the registry file, self-healing structural corruption: a
// missing, unreadable or non-array file is reset to an empty array, and
// stored records with missing or malformed ids get fresh ones. Repairs are
// written back before returning and reported in the LoadReport.
func (s *Store) Load() ([]model.ServerRecord, LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// List returns all server records, discarding the repair report.
func (s *Store) List() ([]model.ServerRecord, error) {
	records, _, err := s.Load()
	return records, err
}

// Get returns the record with the given id after identifier normalization.
func (s *Store) Get(id string) (*model.ServerRecord, error) {
	canonical, err := canonicalID(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == canonical {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

// Add appends a new record. The id is assigned here, never by the caller,
// and the authorized-serials set starts empty regardless of input.
func (s *Store) Add(fields model.ServerFields) (*model.ServerRecord, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _, err := s.load()
	if err != nil {
		return nil, err
	}
	rec := model.ServerRecord{
		ID:                uuid.NewString(),
		Name:              fields.Name,
		Hostname:          fields.Hostname,
		Username:          fields.Username,
		Port:              fields.Port,
		AuthorizedSerials: []string{},
	}
	records = append(records, rec)
	if err := s.write(records); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update replaces the name/hostname/username/port of an existing record.
// The id and the authorized-serials set are never touched by an update.
func (s *Store) Update(id string, fields model.ServerFields) error {
	canonical, err := canonicalID(id)
	if err != nil {
		return err
	}
	if err := fields.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != canonical {
			continue
		}
		records[i].Name = fields.Name
		records[i].Hostname = fields.Hostname
		records[i].Username = fields.Username
		records[i].Port = fields.Port
		return s.write(records)
	}
	return ErrNotFound
}

// Delete removes the record with the given id. A malformed id is rejected;
// deleting a well-formed id that is not present is a success (idempotent
// delete) and does not rewrite the file.
func (s *Store) Delete(id string) error {
	canonical, err := canonicalID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == canonical {
			records = append(records[:i], records[i+1:]...)
			return s.write(records)
		}
	}
	return nil
}

// Authorize adds serial to the record's authorized set. Adding an
// already-present serial is a no-op, not an error; the set only grows here,
// on the back of a successful provisioning run.
func (s *Store) Authorize(id, serial string) error {
	canonical, err := canonicalID(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, _, err := s.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != canonical {
			continue
		}
		if records[i].IsAuthorized(serial) {
			return nil
		}
		records[i].AuthorizedSerials = append(records[i].AuthorizedSerials, serial)
		return s.write(records)
	}
	return ErrNotFound
}

// load reads and repairs the registry file. Callers must hold s.mu.
func (s *Store) load() ([]model.ServerRecord, LoadReport, error) {
	var report LoadReport

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warnf("%s: %v", i18n.T("registry.warn_reset"), err)
			report.Reset = true
		}
		if werr := s.write(nil); werr != nil {
			return nil, report, werr
		}
		return []model.ServerRecord{}, report, nil
	}

	var records []model.ServerRecord
	if len(data) == 0 || json.Unmarshal(data, &records) != nil {
		// Not an array of records. Reset rather than crash; the repair is
		// logged so the data loss is visible.
		logging.Warnf("%s", i18n.T("registry.warn_reset"))
		report.Reset = true
		if werr := s.write(nil); werr != nil {
			return nil, report, werr
		}
		return []model.ServerRecord{}, report, nil
	}

	for i := range records {
		canonical, err := canonicalID(records[i].ID)
		if err != nil {
			records[i].ID = uuid.NewString()
			report.RepairedIDs++
			continue
		}
		if canonical != records[i].ID {
			records[i].ID = canonical
			report.RepairedIDs++
		}
		if records[i].AuthorizedSerials == nil {
			records[i].AuthorizedSerials = []string{}
		}
	}
	if report.RepairedIDs > 0 {
		logging.Warnf(i18n.T("registry.warn_repaired_ids"), report.RepairedIDs)
		if err := s.write(records); err != nil {
			return nil, report, err
		}
	}
	return records, report, nil
}

// write overwrites the registry file with the given records. Callers must
// hold s.mu. A nil slice is written as an empty array.
func (s *Store) write(records []model.ServerRecord) error {
	if records == nil {
		records = []model.ServerRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// canonicalID normalizes an identifier to its canonical textual form.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return parsed.String(), nil
}
