// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pivgate/pivgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func testFields() model.ServerFields {
	return model.ServerFields{Name: "web-1", Hostname: "web1.example.com", Username: "deploy", Port: 22}
}

func TestAddAssignsIDAndEmptySerials(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Add(testFields())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("Add assigned non-UUID id %q: %v", rec.ID, err)
	}
	if rec.AuthorizedSerials == nil || len(rec.AuthorizedSerials) != 0 {
		t.Errorf("new record should start with an empty authorized set, got %v", rec.AuthorizedSerials)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get after Add: %v", err)
	}
	if got.Hostname != "web1.example.com" {
		t.Errorf("got hostname %q", got.Hostname)
	}
}

func TestAddRejectsInvalidFields(t *testing.T) {
	s := newTestStore(t)
	bad := testFields()
	bad.Port = 0
	if _, err := s.Add(bad); err == nil {
		t.Fatal("Add accepted port 0")
	}
	bad = testFields()
	bad.Hostname = "  "
	if _, err := s.Add(bad); err == nil {
		t.Fatal("Add accepted blank hostname")
	}
}

func TestGetInvalidAndMissingID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Get(not-a-uuid) = %v, want ErrInvalidID", err)
	}
	if _, err := s.Get(uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) = %v, want ErrNotFound", err)
	}
}

func TestGetNormalizesIDCase(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Add(testFields())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	// UUIDs are canonically lowercase; lookups with uppercase input must
	// still resolve.
	upper := make([]byte, len(rec.ID))
	for i := 0; i < len(rec.ID); i++ {
		c := rec.ID[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	if _, err := s.Get(string(upper)); err != nil {
		t.Errorf("Get with uppercase id failed: %v", err)
	}
}

func TestUpdatePreservesIDAndSerials(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Add(testFields())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Authorize(rec.ID, "13338383"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	updated := testFields()
	updated.Name = "web-1-renamed"
	updated.Port = 2222
	if err := s.Update(rec.ID, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "web-1-renamed" || got.Port != 2222 {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.IsAuthorized("13338383") {
		t.Error("update dropped the authorized serials")
	}
}

func TestUpdateErrors(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update("nope", testFields()); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Update(invalid id) = %v, want ErrInvalidID", err)
	}
	if err := s.Update(uuid.NewString(), testFields()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(absent) = %v, want ErrNotFound", err)
	}
}

func TestDeleteSemantics(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Add(testFields())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Delete("garbage"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Delete(malformed) = %v, want ErrInvalidID", err)
	}
	// Deleting a well-formed but absent id is an idempotent success.
	if err := s.Delete(uuid.NewString()); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("record still present after delete: %v", err)
	}
	if err := s.Delete(rec.ID); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

func TestAuthorizeIdempotent(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Add(testFields())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Authorize(rec.ID, "111"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := s.Authorize(rec.ID, "111"); err != nil {
		t.Fatalf("repeat Authorize: %v", err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.AuthorizedSerials) != 1 {
		t.Errorf("authorized set grew on repeat: %v", got.AuthorizedSerials)
	}

	if err := s.Authorize(uuid.NewString(), "111"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Authorize(absent) = %v, want ErrNotFound", err)
	}
}

func TestLoadResetsCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{this is not json"), 0o600); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	records, report, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !report.Reset {
		t.Error("expected a reset report for corrupt file")
	}
	if len(records) != 0 {
		t.Errorf("expected empty registry after reset, got %d records", len(records))
	}

	// The file itself must now hold a valid empty array.
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var arr []model.ServerRecord
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Errorf("registry file not repaired: %v", err)
	}
}

func TestLoadResetsNonArrayFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"id":"x"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, report, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !report.Reset {
		t.Error("a JSON object is not a registry; expected reset")
	}
}

func TestLoadRepairsMalformedIDs(t *testing.T) {
	s := newTestStore(t)
	seed := []model.ServerRecord{
		{ID: "not-a-uuid", Name: "a", Hostname: "a.example.com", Username: "root", Port: 22},
		{ID: "", Name: "b", Hostname: "b.example.com", Username: "root", Port: 22},
		{ID: uuid.NewString(), Name: "c", Hostname: "c.example.com", Username: "root", Port: 22, AuthorizedSerials: []string{"42"}},
	}
	data, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	records, report, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.RepairedIDs != 2 {
		t.Errorf("RepairedIDs = %d, want 2", report.RepairedIDs)
	}
	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3", len(records))
	}
	for _, rec := range records {
		if _, err := uuid.Parse(rec.ID); err != nil {
			t.Errorf("record %q kept malformed id %q", rec.Name, rec.ID)
		}
	}

	// The repair must have been written back: a second load is clean.
	_, report, err = s.Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if report.Repaired() {
		t.Errorf("second load still reports repairs: %+v", report)
	}
}

func TestListSurvivesMissingFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	records, err := s.List()
	if err != nil {
		t.Fatalf("List after file removal: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty list, got %d", len(records))
	}
}
