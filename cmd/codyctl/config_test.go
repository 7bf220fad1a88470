package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codyctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCLIConfigDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.TCPAddr != "localhost:3113" {
		t.Fatalf("unexpected tcp addr: %q", cfg.Agent.TCPAddr)
	}
	if cfg.Agent.Retry.Attempts != 5 || cfg.Agent.Retry.Delay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Agent.Retry)
	}
	if cfg.AgentVersion != "5.5.14" {
		t.Fatalf("unexpected agent version: %q", cfg.AgentVersion)
	}
	if !cfg.EnhancedContext {
		t.Fatal("expected enhanced context enabled by default")
	}
}

func TestLoadCLIConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
binary_path = "/opt/cody/cody-agent"
use_tcp = true
tcp_addr = "127.0.0.1:4000"
connect_attempts = 8
connect_delay = "250ms"
read_timeout = "10s"
server_endpoint = "https://sourcegraph.example.com"
access_token = "sgp_file_token"
workspace_root = "/src/app"
model = "anthropic/claude-3-sonnet"
context_repos = ["github.com/a/app", " ", "github.com/b/lib"]
enhanced_context = false
`)
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.BinaryPath != "/opt/cody/cody-agent" {
		t.Fatalf("unexpected binary path: %q", cfg.Agent.BinaryPath)
	}
	if !cfg.Agent.UseTCP || cfg.Agent.TCPAddr != "127.0.0.1:4000" {
		t.Fatalf("unexpected tcp settings: %+v", cfg.Agent)
	}
	if cfg.Agent.Retry.Attempts != 8 || cfg.Agent.Retry.Delay != 250*time.Millisecond {
		t.Fatalf("unexpected retry: %+v", cfg.Agent.Retry)
	}
	if cfg.Agent.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.Agent.ReadTimeout)
	}
	if cfg.Agent.ServerEndpoint != "https://sourcegraph.example.com" {
		t.Fatalf("unexpected endpoint: %q", cfg.Agent.ServerEndpoint)
	}
	if cfg.Agent.AccessToken != "sgp_file_token" {
		t.Fatalf("unexpected token: %q", cfg.Agent.AccessToken)
	}
	if len(cfg.ContextRepos) != 2 {
		t.Fatalf("blank repos not dropped: %+v", cfg.ContextRepos)
	}
	if cfg.EnhancedContext {
		t.Fatal("expected enhanced context disabled")
	}
	if cfg.Model != "anthropic/claude-3-sonnet" {
		t.Fatalf("unexpected model: %q", cfg.Model)
	}
}

func TestLoadCLIConfigEnvTokenWins(t *testing.T) {
	path := writeConfig(t, `access_token = "sgp_file_token"`)
	t.Setenv(EnvAccessToken, "sgp_env_token")
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.AccessToken != "sgp_env_token" {
		t.Fatalf("env token did not win: %q", cfg.Agent.AccessToken)
	}
}

func TestLoadCLIConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `connect_delay = "soon"`)
	if _, err := loadCLIConfig(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}
