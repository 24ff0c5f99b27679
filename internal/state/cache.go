// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package state provides secure, in-memory caches for transient secrets that
// need to be shared between different parts of the application (e.g., a CLI
// prompt and the deployment path).
package state

import "sync"

// PasswordCache holds the remote account password for the current
// provisioning attempt.
var PasswordCache = &secretMailbox{}

// PINCache holds the hardware token PIN for the current provisioning attempt.
var PINCache = &secretMailbox{}

// secretMailbox is a simple, concurrency-safe, in-memory "mailbox" for
// temporarily storing a secret. It uses a byte slice instead of a string so
// that the sensitive data can be explicitly zeroed out after use.
type secretMailbox struct {
	value []byte
	mu    sync.RWMutex
}

// Set stores a copy of the secret in the cache. It overwrites any existing value.
func (m *secretMailbox) Set(secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if secret == nil {
		m.value = nil
		return
	}
	// Store a copy so the caller's original slice isn't held by the cache.
	m.value = make([]byte, len(secret))
	copy(m.value, secret)
}

// Get retrieves a copy of the secret from the cache.
// The caller is responsible for zeroing out the returned byte slice after use.
// This method is safe for concurrent use by multiple goroutines.
func (m *secretMailbox) Get() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.value == nil {
		return nil
	}

	// Return a copy so that multiple goroutines can get the secret and one
	// wiping its copy doesn't affect others.
	out := make([]byte, len(m.value))
	copy(out, m.value)
	return out
}

// Clear securely wipes the secret from the cache memory.
func (m *secretMailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.value {
		m.value[i] = 0
	}
	m.value = nil
}
