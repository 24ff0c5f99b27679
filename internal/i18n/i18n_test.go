// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import (
	"strings"
	"testing"
)

func TestTranslateEnglish(t *testing.T) {
	Init("en")
	got := T("connect.not_authorized")
	if !strings.Contains(got, "not authorized for this server") {
		t.Errorf("connect.not_authorized = %q", got)
	}
}

func TestTranslateGerman(t *testing.T) {
	Init("de")
	defer Init("en")
	got := T("server.not_found")
	if got == "Server not found" || got == "server.not_found" {
		t.Errorf("German translation missing: %q", got)
	}
}

func TestUnknownIDFallsBackToID(t *testing.T) {
	Init("en")
	if got := T("no.such.message"); got != "no.such.message" {
		t.Errorf("T(unknown) = %q", got)
	}
}

func TestUnknownLanguageFallsBackToEnglish(t *testing.T) {
	Init("tlh")
	defer Init("en")
	got := T("server.not_found")
	if got != "Server not found" {
		t.Errorf("fallback = %q", got)
	}
}

func TestLazyInit(t *testing.T) {
	localizer = nil
	if got := T("server.not_found"); got != "Server not found" {
		t.Errorf("T without Init = %q", got)
	}
}
