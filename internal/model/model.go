// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared by the PivGate
// components: attached hardware tokens, the persisted device selection, and
// the server records kept in the authorization registry.
package model // import "github.com/pivgate/pivgate/internal/model"

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Device represents an attached hardware token as reported by enumeration.
// Devices are ephemeral: they are rediscovered on every call and never
// persisted beyond the selected-serial reference.
type Device struct {
	Serial  string `json:"serial"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// String returns a human-readable description of the device.
func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = "hardware token"
	}
	if d.Version != "" {
		return fmt.Sprintf("%s %s (serial %s)", name, d.Version, d.Serial)
	}
	return fmt.Sprintf("%s (serial %s)", name, d.Serial)
}

// Selection is the persisted singleton document naming the active token.
// An empty serial means no token is selected.
type Selection struct {
	Serial string `json:"serial,omitempty"`
}

// ServerRecord is a host entry in the authorization registry. The ID is
// assigned by the registry and immutable for the life of the record.
// AuthorizedSerials only grows, and only through successful provisioning.
type ServerRecord struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Hostname          string   `json:"hostname"`
	Username          string   `json:"username"`
	Port              int      `json:"port"`
	AuthorizedSerials []string `json:"authorized_serials"`
}

// String returns the user@host:port representation.
func (s ServerRecord) String() string {
	return fmt.Sprintf("%s@%s:%d", s.Username, s.Hostname, s.Port)
}

// Addr returns the dialable host:port address of the server.
func (s ServerRecord) Addr() string {
	return net.JoinHostPort(s.Hostname, strconv.Itoa(s.Port))
}

// IsAuthorized reports whether the given token serial has been provisioned
// for this server.
func (s ServerRecord) IsAuthorized(serial string) bool {
	for _, have := range s.AuthorizedSerials {
		if have == serial {
			return true
		}
	}
	return false
}

// ServerFields is the caller-suppliable subset of a ServerRecord. The
// registry assigns the ID and owns AuthorizedSerials; a plain update can
// only ever touch these four fields.
type ServerFields struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	Port     int    `json:"port"`
}

// Validate checks the fields for structural validity before they reach the
// registry file.
func (f ServerFields) Validate() error {
	if strings.TrimSpace(f.Hostname) == "" {
		return fmt.Errorf("hostname must not be empty")
	}
	if strings.TrimSpace(f.Username) == "" {
		return fmt.Errorf("username must not be empty")
	}
	if f.Port < 1 || f.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", f.Port)
	}
	return nil
}
