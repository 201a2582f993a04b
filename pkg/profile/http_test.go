// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

// splitHostPort returns host and port of an httptest server's URL.
func splitHostPort(t *testing.T, rawURL string) (string, int) {
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	return u.Hostname(), port
}

func TestHTTPProfilePost(t *testing.T) {
	var (
		received  string
		userAgent string
		hostSeen  string
		extra     string
	)

	router := mux.NewRouter()
	router.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		userAgent = r.UserAgent()
		hostSeen = r.Host
		extra = r.Header.Get("X-Session")

		_, _ = w.Write([]byte("reply-blob"))
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(router)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	p := NewHTTPProfile(Config{
		Host:       host,
		Port:       port,
		UserAgent:  "Mozilla/5.0",
		HostHeader: "cdn.example.org",
		Headers:    map[string]string{"X-Session": "abc"},
		HTTP:       HTTPConfig{Method: "POST", URI: "/sync"},
	})

	if !p.Initialize() {
		t.Fatal("expected Initialize to succeed")
	}

	reply, err := p.Send("payload+with/specials=")
	if err != nil {
		t.Fatal(err)
	}

	if reply != "reply-blob" {
		t.Fatalf("expected reply-blob, got %q", reply)
	}
	if received != "payload+with/specials=" {
		t.Fatalf("payload mangled: %q", received)
	}
	if userAgent != "Mozilla/5.0" {
		t.Fatalf("expected the configured User-Agent, got %q", userAgent)
	}
	if hostSeen != "cdn.example.org" {
		t.Fatalf("expected the Host header override, got %q", hostSeen)
	}
	if extra != "abc" {
		t.Fatalf("expected the extra header, got %q", extra)
	}
}

func TestHTTPProfileGet(t *testing.T) {
	var (
		rawQuery string
		decoded  string
	)

	router := mux.NewRouter()
	router.HandleFunc("/q", func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		decoded = r.URL.Query().Get("data")

		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(router)
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	p := NewHTTPProfile(Config{
		Host: host,
		Port: port,
		HTTP: HTTPConfig{Method: "GET", URI: "/q", QueryParameter: "data"},
	})
	p.Initialize()

	payload := "AAA+BBB/CCC="
	if _, err := p.Send(payload); err != nil {
		t.Fatal(err)
	}

	// "+" and "/" must travel percent-escaped inside the query string.
	if !strings.Contains(rawQuery, "%2B") || !strings.Contains(rawQuery, "%2F") {
		t.Fatalf("expected escaped payload in query, got %q", rawQuery)
	}
	if decoded != payload {
		t.Fatalf("expected payload %q after decoding, got %q", payload, decoded)
	}
}

func TestHTTPProfileFailures(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/sync", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(router)
	host, port := splitHostPort(t, srv.URL)

	p := NewHTTPProfile(Config{
		Host: host,
		Port: port,
		HTTP: HTTPConfig{Method: "POST", URI: "/sync"},
	})
	p.Initialize()

	if _, err := p.Send("payload"); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("non-200 reply: expected ErrNoResponse, got %v", err)
	}

	// A dead endpoint collapses to the same sentinel.
	srv.Close()
	if _, err := p.Send("payload"); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("dead endpoint: expected ErrNoResponse, got %v", err)
	}
}
