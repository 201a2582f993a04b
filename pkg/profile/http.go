// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// httpTimeout bounds one complete request-response exchange.
const httpTimeout = 30 * time.Second

// payloadEscaper escapes the base64 characters which would be mangled inside
// a query string: "+" becomes a space on the server side and "/" breaks path
// matching on some middleware.
var payloadEscaper = strings.NewReplacer("+", "%2B", "/", "%2F")

// HTTPProfile is the request-response variant. Every Send is one independent
// HTTP exchange, no state is kept between calls.
type HTTPProfile struct {
	config Config

	client      *http.Client
	initialized bool
}

// NewHTTPProfile creates a HTTPProfile for the given Config.
func NewHTTPProfile(config Config) *HTTPProfile {
	return &HTTPProfile{config: config}
}

// Initialize creates the HTTP client. There is no session to establish.
func (p *HTTPProfile) Initialize() bool {
	p.client = &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			// No certificate pinning; the payload carries its own protection.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	p.initialized = true
	return true
}

func (p *HTTPProfile) endpoint() string {
	scheme := "http"
	if p.config.TLS {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s:%d%s", scheme, p.config.Host, p.config.Port, p.config.HTTP.URI)
}

// newRequest builds the GET or POST request carrying the payload.
func (p *HTTPProfile) newRequest(payload string) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)

	if strings.EqualFold(p.config.HTTP.Method, "GET") {
		url := fmt.Sprintf("%s?%s=%s",
			p.endpoint(), p.config.HTTP.QueryParameter, payloadEscaper.Replace(payload))
		req, err = http.NewRequest(http.MethodGet, url, nil)
	} else {
		req, err = http.NewRequest(http.MethodPost, p.endpoint(), strings.NewReader(payload))
	}
	if err != nil {
		return nil, err
	}

	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	if p.config.HostHeader != "" {
		req.Host = p.config.HostHeader
	}
	for name, value := range p.config.Headers {
		req.Header.Set(name, value)
	}

	return req, nil
}

// Send performs one HTTP exchange. Timeouts, connection errors, non-200
// replies and unreadable bodies all collapse to ErrNoResponse.
func (p *HTTPProfile) Send(payload string) (string, error) {
	req, err := p.newRequest(payload)
	if err != nil {
		return "", ErrNoResponse
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.WithError(err).Debug("HTTP exchange errored")
		return "", ErrNoResponse
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Debug("HTTP exchange returned non-200")
		return "", ErrNoResponse
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrNoResponse
	}

	return string(body), nil
}

// IsConnected is true once Initialize ran; the variant keeps no connection.
func (p *HTTPProfile) IsConnected() bool {
	return p.initialized
}

// Name returns "http".
func (p *HTTPProfile) Name() string {
	return "http"
}
