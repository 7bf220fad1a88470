// Package agent is the domain client on top of the rpc transport: the
// initialize handshake, chat sessions, model and repository lookups, and the
// graceful shutdown ordering.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/codyctl/internal/logging"
	"github.com/danmuck/codyctl/internal/protocol"
	"github.com/danmuck/codyctl/internal/rpc"
)

// Config describes how to start and authenticate an agent session.
type Config struct {
	BinaryPath string
	BinaryArgs []string
	UseTCP     bool
	TCPAddr    string
	Retry      rpc.RetryConfig

	// ReadTimeout bounds every frame read inside a call.
	ReadTimeout time.Duration

	Name            string
	Version         string
	WorkspaceRoot   string
	ServerEndpoint  string
	AccessToken     string
	AnonymousUserID string
}

func (cfg Config) withDefaults() Config {
	if len(cfg.BinaryArgs) == 0 {
		cfg.BinaryArgs = []string{"api", "jsonrpc-stdio"}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = rpc.DefaultReadTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "codyctl"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if cfg.ServerEndpoint == "" {
		cfg.ServerEndpoint = "https://sourcegraph.com"
	}
	if cfg.AnonymousUserID == "" {
		cfg.AnonymousUserID = uuid.NewString()
	}
	return cfg
}

func (cfg Config) clientInfo() ClientInfo {
	return ClientInfo{
		Name:             cfg.Name,
		Version:          cfg.Version,
		WorkspaceRootURI: cfg.WorkspaceRoot,
		ExtensionConfiguration: ExtensionConfiguration{
			AccessToken:     cfg.AccessToken,
			ServerEndpoint:  cfg.ServerEndpoint,
			CustomHeaders:   map[string]string{},
			AnonymousUserID: cfg.AnonymousUserID,
		},
		Capabilities: defaultCapabilities(),
	}
}

// Agent owns one live session with the peer.
type Agent struct {
	client *rpc.Client

	mu     sync.Mutex
	info   *ServerInfo
	repos  map[string]*Repo // lookup cache; nil entry caches a miss
	closed bool
}

// Start spawns or connects to the agent, performs the initialize handshake,
// and verifies authentication. On any failure the connection is torn down
// before returning.
func Start(ctx context.Context, cfg Config) (*Agent, error) {
	cfg = cfg.withDefaults()

	conn, err := rpc.Open(ctx, rpc.Options{
		BinaryPath: cfg.BinaryPath,
		BinaryArgs: cfg.BinaryArgs,
		UseTCP:     cfg.UseTCP,
		TCPAddr:    cfg.TCPAddr,
		Retry:      cfg.Retry,
		Debug:      logging.Debugging(),
	})
	if err != nil {
		return nil, fmt.Errorf("agent: connect: %w", err)
	}

	a := &Agent{repos: make(map[string]*Repo)}
	a.client = rpc.NewClient(conn,
		rpc.WithReadTimeout(cfg.ReadTimeout),
		rpc.WithNotificationHandler(a.onNotification),
	)

	return a.completeStartup(ctx, cfg)
}

// completeStartup performs the initialize handshake and the authentication
// check on an already-connected transport.
func (a *Agent) completeStartup(ctx context.Context, cfg Config) (*Agent, error) {
	info, err := a.initialize(ctx, cfg.clientInfo())
	if err != nil {
		_ = a.client.Close()
		return nil, fmt.Errorf("agent: handshake: %w", err)
	}
	if !info.Authenticated {
		// Shut the child down cleanly before surfacing the auth failure.
		_ = a.Close()
		return nil, fmt.Errorf("%w: endpoint=%s", ErrNotAuthenticated, cfg.ServerEndpoint)
	}
	a.mu.Lock()
	a.info = info
	a.mu.Unlock()
	log.Info().Str("server", info.Name).Str("codyVersion", info.CodyVersion).
		Msg("agent.session initialized")
	return a, nil
}

// NewFromClient wraps an already-connected transport. The caller is expected
// to have completed the handshake, or to call Initialize itself.
func NewFromClient(client *rpc.Client) *Agent {
	return &Agent{client: client, repos: make(map[string]*Repo)}
}

// Initialize sends the initialize request and returns the server's identity.
func (a *Agent) Initialize(ctx context.Context, info ClientInfo) (*ServerInfo, error) {
	return a.initialize(ctx, info)
}

func (a *Agent) initialize(ctx context.Context, info ClientInfo) (*ServerInfo, error) {
	var server ServerInfo
	if err := a.call(ctx, "initialize", info, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

// ServerInfo returns the handshake result, nil before Initialize.
func (a *Agent) ServerInfo() *ServerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// call issues one RPC and decodes the result into out when out is non-nil.
func (a *Agent) call(ctx context.Context, method string, params, out any) error {
	result, err := a.client.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("agent: decode %s result: %w", method, err)
	}
	return nil
}

func (a *Agent) onNotification(msg protocol.Message) {
	log.Debug().Str("method", msg.Method).Msg("agent.notification")
}

// Models lists the models the endpoint offers for a usage class, "chat" or
// "edit".
func (a *Agent) Models(ctx context.Context, usage string) ([]ChatModel, error) {
	params := map[string]string{"modelUsage": usage}
	var result struct {
		Models []ChatModel `json:"models"`
	}
	if err := a.call(ctx, "chat/models", params, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// RemoteRepos forwards a chat/remoteRepos query. The payload is opaque to
// this client and handed back raw.
func (a *Agent) RemoteRepos(ctx context.Context, query string) (json.RawMessage, error) {
	return a.client.Call(ctx, "chat/remoteRepos", query)
}

// LookupRepoIDs resolves repository names to endpoint ids, caching hits and
// misses so repeated context switches stay cheap.
func (a *Agent) LookupRepoIDs(ctx context.Context, names []string) ([]Repo, error) {
	a.mu.Lock()
	var missing []string
	for _, name := range names {
		if _, ok := a.repos[name]; !ok {
			missing = append(missing, name)
		}
	}
	a.mu.Unlock()

	if len(missing) > 0 {
		params := map[string]any{"names": missing, "first": len(missing)}
		var result struct {
			Repos []Repo `json:"repos"`
		}
		if err := a.call(ctx, "graphql/getRepoIds", params, &result); err != nil {
			return nil, err
		}
		a.mu.Lock()
		for i := range result.Repos {
			repo := result.Repos[i]
			a.repos[repo.Name] = &repo
		}
		for _, name := range missing {
			if _, ok := a.repos[name]; !ok {
				a.repos[name] = nil
			}
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Repo, 0, len(names))
	for _, name := range names {
		if repo := a.repos[name]; repo != nil {
			out = append(out, *repo)
		}
	}
	return out, nil
}

// Close requests a graceful stop, then terminates the connection. The
// shutdown request is best effort: a transport already broken by a timeout
// cannot carry it, but the child is still reaped by the connection close.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if _, err := a.client.Call(context.Background(), "shutdown", nil); err != nil {
		log.Debug().Err(err).Msg("agent.close shutdown request failed")
	}
	return a.client.Close()
}
