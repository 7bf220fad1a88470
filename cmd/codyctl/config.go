package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/codyctl/internal/agent"
	"github.com/danmuck/codyctl/internal/rpc"
)

// EnvAccessToken overrides the configured token so it never has to live in a
// config file.
const EnvAccessToken = "SRC_ACCESS_TOKEN"

type cliConfig struct {
	Agent           agent.Config
	BinaryDir       string
	AgentVersion    string
	Model           string
	ContextRepos    []string
	EnhancedContext bool
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Agent: agent.Config{
			TCPAddr: rpc.DefaultTCPAddr,
			Retry:   rpc.DefaultRetryConfig(),
		},
		AgentVersion:    "5.5.14",
		EnhancedContext: true,
	}
}

type fileConfig struct {
	BinaryPath      string   `toml:"binary_path"`
	BinaryDir       string   `toml:"binary_dir"`
	AgentVersion    string   `toml:"agent_version"`
	UseTCP          bool     `toml:"use_tcp"`
	TCPAddr         string   `toml:"tcp_addr"`
	ConnectAttempts int      `toml:"connect_attempts"`
	ConnectDelay    string   `toml:"connect_delay"`
	ReadTimeout     string   `toml:"read_timeout"`
	ServerEndpoint  string   `toml:"server_endpoint"`
	AccessToken     string   `toml:"access_token"`
	WorkspaceRoot   string   `toml:"workspace_root"`
	Model           string   `toml:"model"`
	ContextRepos    []string `toml:"context_repos"`
	EnhancedContext bool     `toml:"enhanced_context"`
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("binary_path") {
		cfg.Agent.BinaryPath = strings.TrimSpace(raw.BinaryPath)
	}
	if meta.IsDefined("binary_dir") {
		cfg.BinaryDir = strings.TrimSpace(raw.BinaryDir)
	}
	if meta.IsDefined("agent_version") {
		cfg.AgentVersion = strings.TrimSpace(raw.AgentVersion)
	}
	if meta.IsDefined("use_tcp") {
		cfg.Agent.UseTCP = raw.UseTCP
	}
	if meta.IsDefined("tcp_addr") {
		cfg.Agent.TCPAddr = strings.TrimSpace(raw.TCPAddr)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.Agent.Retry.Attempts = raw.ConnectAttempts
	}
	if meta.IsDefined("connect_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectDelay))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse connect_delay: %w", err)
		}
		cfg.Agent.Retry.Delay = d
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Agent.ReadTimeout = d
	}
	if meta.IsDefined("server_endpoint") {
		cfg.Agent.ServerEndpoint = strings.TrimSpace(raw.ServerEndpoint)
	}
	if meta.IsDefined("access_token") {
		cfg.Agent.AccessToken = strings.TrimSpace(raw.AccessToken)
	}
	if meta.IsDefined("workspace_root") {
		cfg.Agent.WorkspaceRoot = strings.TrimSpace(raw.WorkspaceRoot)
	}
	if meta.IsDefined("model") {
		cfg.Model = strings.TrimSpace(raw.Model)
	}
	if meta.IsDefined("context_repos") {
		cfg.ContextRepos = normalizeRepos(raw.ContextRepos)
	}
	if meta.IsDefined("enhanced_context") {
		cfg.EnhancedContext = raw.EnhancedContext
	}

	if token := strings.TrimSpace(os.Getenv(EnvAccessToken)); token != "" {
		cfg.Agent.AccessToken = token
	}
	return cfg, nil
}

func normalizeRepos(in []string) []string {
	out := make([]string, 0, len(in))
	for _, repo := range in {
		v := strings.TrimSpace(repo)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
