// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// fakeGitHub is an in-process stand-in for the GitHub API, covering the
// endpoints the relay profile touches.
type fakeGitHub struct {
	t *testing.T

	mutex          sync.Mutex
	clientComments []issueComment
	serverComments []issueComment
	branches       map[string]bool
	files          map[string]string // branch/path -> content
	deleted        []string
	respondWith    func(branch string) (string, bool)
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	return &fakeGitHub{
		t:        t,
		branches: map[string]bool{"main": true},
		files:    make(map[string]string),
	}
}

func (gh *fakeGitHub) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/repos/{owner}/{repo}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"drop"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/repos/{owner}/{repo}/issues/{n}/comments",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			var body struct {
				Body string `json:"body"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)

			gh.clientComments = append(gh.clientComments, issueComment{
				ID:   int64(len(gh.clientComments) + 1),
				Body: body.Body,
			})

			w.WriteHeader(http.StatusCreated)
		}).Methods(http.MethodPost)

	router.HandleFunc("/repos/{owner}/{repo}/issues/{n}/comments",
		func(w http.ResponseWriter, _ *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			_ = json.NewEncoder(w).Encode(gh.serverComments)
		}).Methods(http.MethodGet)

	router.HandleFunc("/repos/{owner}/{repo}/git/refs/heads/{branch:.*}",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			branch := mux.Vars(r)["branch"]
			if !gh.branches[branch] {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			_, _ = w.Write([]byte(`{"object":{"sha":"abc123"}}`))
		}).Methods(http.MethodGet)

	router.HandleFunc("/repos/{owner}/{repo}/git/refs",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			var body struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)

			gh.branches[strings.TrimPrefix(body.Ref, "refs/heads/")] = true
			w.WriteHeader(http.StatusCreated)
		}).Methods(http.MethodPost)

	router.HandleFunc("/repos/{owner}/{repo}/git/refs/heads/{branch:.*}",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			branch := mux.Vars(r)["branch"]
			delete(gh.branches, branch)
			gh.deleted = append(gh.deleted, branch)

			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodDelete)

	router.HandleFunc("/repos/{owner}/{repo}/contents/{path:.*}",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			var body struct {
				Content string `json:"content"`
				Branch  string `json:"branch"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)

			content, err := base64.StdEncoding.DecodeString(body.Content)
			if err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}

			gh.files[body.Branch+"/"+mux.Vars(r)["path"]] = string(content)
			w.WriteHeader(http.StatusCreated)
		}).Methods(http.MethodPut)

	router.HandleFunc("/repos/{owner}/{repo}/contents/{path:.*}",
		func(w http.ResponseWriter, r *http.Request) {
			gh.mutex.Lock()
			defer gh.mutex.Unlock()

			branch := r.URL.Query().Get("ref")
			if gh.respondWith != nil {
				if content, ok := gh.respondWith(branch); ok {
					_ = json.NewEncoder(w).Encode(map[string]string{
						"content": base64.StdEncoding.EncodeToString([]byte(content)),
					})
					return
				}
			}

			if content, ok := gh.files[branch+"/"+mux.Vars(r)["path"]]; ok {
				_ = json.NewEncoder(w).Encode(map[string]string{
					"content": base64.StdEncoding.EncodeToString([]byte(content)),
				})
				return
			}

			w.WriteHeader(http.StatusNotFound)
		}).Methods(http.MethodGet)

	return router
}

func githubTestProfile(srvURL string) *GitHubProfile {
	return NewGitHubProfile(Config{
		Host: "api.github.com",
		GitHub: GitHubConfig{
			Token:        "token",
			Owner:        "octocat",
			Repository:   "drop",
			Branch:       "main",
			ClientIssue:  1,
			ServerIssue:  2,
			RequestFile:  "sync/request",
			ResponseFile: "sync/response",
			PollInterval: time.Millisecond,
			PollAttempts: 5,
			APIBase:      srvURL,
		},
	})
}

func TestGitHubProfileCheckin(t *testing.T) {
	gh := newFakeGitHub(t)
	srv := httptest.NewServer(gh.router())
	defer srv.Close()

	p := githubTestProfile(srv.URL)
	if !p.Initialize() {
		t.Fatal("expected Initialize to succeed")
	}

	gh.mutex.Lock()
	gh.serverComments = []issueComment{{ID: 5, Body: "stale"}, {ID: 6, Body: "fresh"}}
	gh.mutex.Unlock()

	reply, err := p.Send("checkin-blob")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "fresh" {
		t.Fatalf("expected the newest comment, got %q", reply)
	}

	gh.mutex.Lock()
	posted := len(gh.clientComments) == 1 && gh.clientComments[0].Body == "checkin-blob"
	gh.mutex.Unlock()
	if !posted {
		t.Fatal("expected the payload as a client issue comment")
	}
}

func TestGitHubCursorMonotonic(t *testing.T) {
	gh := newFakeGitHub(t)
	srv := httptest.NewServer(gh.router())
	defer srv.Close()

	p := githubTestProfile(srv.URL)
	p.Initialize()

	gh.mutex.Lock()
	gh.serverComments = []issueComment{{ID: 5, Body: "five"}, {ID: 6, Body: "six"}}
	gh.mutex.Unlock()

	if reply, ok := p.pollServerIssue(); !ok || reply != "six" {
		t.Fatalf("expected six, got %q (%v)", reply, ok)
	}

	// Everything at or below the consumed id 6 is stale now.
	if _, ok := p.pollServerIssue(); ok {
		t.Fatal("expected no reply, the cursor must reject stale comments")
	}

	gh.mutex.Lock()
	gh.serverComments = append(gh.serverComments, issueComment{ID: 7, Body: "seven"})
	gh.mutex.Unlock()

	if reply, ok := p.pollServerIssue(); !ok || reply != "seven" {
		t.Fatalf("expected seven, got %q (%v)", reply, ok)
	}
}

func TestGitHubProfileExchange(t *testing.T) {
	gh := newFakeGitHub(t)
	srv := httptest.NewServer(gh.router())
	defer srv.Close()

	// The controller stub answers as soon as the request file appeared on
	// the ephemeral branch.
	gh.respondWith = func(branch string) (string, bool) {
		if _, ok := gh.files[branch+"/sync/request"]; ok {
			return "response-blob", true
		}
		return "", false
	}

	p := githubTestProfile(srv.URL)
	p.Initialize()
	p.checkedIn = true

	reply, err := p.Send("request-blob")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "response-blob" {
		t.Fatalf("expected response-blob, got %q", reply)
	}

	gh.mutex.Lock()
	defer gh.mutex.Unlock()

	if len(gh.deleted) != 1 {
		t.Fatalf("expected exactly one deleted branch, got %v", gh.deleted)
	}
	if gh.branches[gh.deleted[0]] {
		t.Fatal("the ephemeral branch must be gone")
	}

	uploaded := false
	for key, content := range gh.files {
		if strings.HasSuffix(key, "/sync/request") && content == "request-blob" {
			uploaded = true
		}
	}
	if !uploaded {
		t.Fatal("expected the payload as request file on the ephemeral branch")
	}
}

func TestGitHubProfileExchangeRandomnessFailure(t *testing.T) {
	gh := newFakeGitHub(t)
	srv := httptest.NewServer(gh.router())
	defer srv.Close()

	p := githubTestProfile(srv.URL)
	p.Initialize()
	p.checkedIn = true

	randRead = func([]byte) (int, error) {
		return 0, errors.New("entropy exhausted")
	}
	defer func() { randRead = rand.Read }()

	if _, err := p.Send("request-blob"); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}

	// Without a usable branch name, nothing must be touched on the remote.
	gh.mutex.Lock()
	defer gh.mutex.Unlock()

	if len(gh.branches) != 1 || len(gh.deleted) != 0 || len(gh.files) != 0 {
		t.Fatalf("expected no remote activity, got branches %v, deleted %v, files %v",
			gh.branches, gh.deleted, gh.files)
	}
}

func TestGitHubProfileExchangeCleanupOnFailure(t *testing.T) {
	gh := newFakeGitHub(t)
	srv := httptest.NewServer(gh.router())
	defer srv.Close()

	p := githubTestProfile(srv.URL)
	p.Initialize()
	p.checkedIn = true

	// No controller pushes a response file; polling must exhaust and the
	// ephemeral branch must be cleaned up regardless.
	if _, err := p.Send("request-blob"); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}

	gh.mutex.Lock()
	defer gh.mutex.Unlock()

	if len(gh.deleted) != 1 {
		t.Fatalf("expected the branch deletion despite the failure, got %v", gh.deleted)
	}
}
