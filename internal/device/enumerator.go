// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pivgate/pivgate/internal/model"
)

// Enumerator is the narrow port through which attached hardware tokens are
// discovered. The production implementation shells out to the vendor tool;
// tests inject a fake.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]model.Device, error)
}

// YkmanEnumerator discovers attached tokens by running the ykman management
// tool and parsing its listing output.
type YkmanEnumerator struct {
	// Binary is the ykman executable name or path. Empty means "ykman".
	Binary string
}

func (e *YkmanEnumerator) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "ykman"
}

// Enumerate runs `ykman list` and parses one device per output line.
func (e *YkmanEnumerator) Enumerate(ctx context.Context) ([]model.Device, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary(), "list")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ykman list: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseDeviceList(stdout.String()), nil
}

// listLineRe matches ykman list output of the form
// "YubiKey 5 NFC (5.4.3) [OTP+FIDO+CCID] Serial: 13338383".
var listLineRe = regexp.MustCompile(`^(.*?)\s*(?:\(([\d.]+)\))?\s*(?:\[[^\]]*\])?\s*Serial:\s*(\d+)\s*$`)

// parseDeviceList turns the ykman listing into Device values. Lines without
// a serial are skipped: a token in CCID-less mode cannot be addressed by
// serial and is useless for provisioning.
func parseDeviceList(out string) []model.Device {
	var devices []model.Device
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := listLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		devices = append(devices, model.Device{
			Name:    strings.TrimSpace(m[1]),
			Version: m[2],
			Serial:  m[3],
		})
	}
	return devices
}
