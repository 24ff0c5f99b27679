// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import "testing"

func TestMailboxRoundTrip(t *testing.T) {
	m := &secretMailbox{}
	m.Set([]byte("123456"))
	got := m.Get()
	if string(got) != "123456" {
		t.Errorf("Get = %q", got)
	}

	// Mutating the returned copy must not affect the stored value.
	got[0] = 'X'
	if string(m.Get()) != "123456" {
		t.Error("Get returned the underlying slice")
	}
}

func TestMailboxClearWipes(t *testing.T) {
	m := &secretMailbox{}
	m.Set([]byte("123456"))
	m.Clear()
	if m.Get() != nil {
		t.Error("value survived Clear")
	}
}

func TestMailboxEmpty(t *testing.T) {
	m := &secretMailbox{}
	if m.Get() != nil {
		t.Error("empty mailbox returned a value")
	}
	m.Set(nil)
	if m.Get() != nil {
		t.Error("nil Set stored a value")
	}
}
