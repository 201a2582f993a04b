// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Manager selects and owns the agent's single active Profile. It decouples
// the secure channel from the variant specifics; after InitializeProfile the
// selection never changes.
type Manager struct {
	kind   string
	config Config

	active Profile
}

// NewManager creates a Manager for the given variant name. The name is
// matched case-insensitively; "websocket" and "github" select their variant,
// everything else falls back to plain HTTP.
func NewManager(kind string, config Config) *Manager {
	return &Manager{
		kind:   kind,
		config: config,
	}
}

// newProfile maps the configuration string to a variant.
func newProfile(kind string, config Config) Profile {
	switch strings.ToLower(kind) {
	case "websocket":
		return NewWebSocketProfile(config)

	case "github":
		return NewGitHubProfile(config)

	case "http":
		return NewHTTPProfile(config)

	default:
		log.WithField("profile", kind).Warn("Unknown profile name, falling back to HTTP")
		return NewHTTPProfile(config)
	}
}

// InitializeProfile constructs and initializes the selected Profile. A false
// return means no usable transport exists and startup must be aborted.
func (manager *Manager) InitializeProfile() bool {
	p := newProfile(manager.kind, manager.config)

	if !p.Initialize() {
		log.WithField("profile", p.Name()).Error("Profile initialization failed")
		return false
	}

	manager.active = p

	log.WithField("profile", p.Name()).Info("Profile initialized")
	return true
}

// Send forwards the payload to the active Profile. Without an active Profile
// ErrNoResponse is returned.
func (manager *Manager) Send(payload string) (string, error) {
	if manager.active == nil {
		return "", ErrNoResponse
	}

	return manager.active.Send(payload)
}

// IsConnected reports the active Profile's liveness, false without one.
func (manager *Manager) IsConnected() bool {
	return manager.active != nil && manager.active.IsConnected()
}

// ActiveName returns the active Profile's name, an empty string without one.
func (manager *Manager) ActiveName() string {
	if manager.active == nil {
		return ""
	}

	return manager.active.Name()
}

// Close shuts the active Profile down, if it holds closeable state.
func (manager *Manager) Close() error {
	if c, ok := manager.active.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
