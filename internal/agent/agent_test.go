package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/codyctl/internal/protocol"
	"github.com/danmuck/codyctl/internal/protocol/frame"
	"github.com/danmuck/codyctl/internal/rpc"
	"github.com/danmuck/codyctl/internal/testutil/testlog"
)

// pipeConn adapts one end of a net.Pipe to rpc.Conn.
type pipeConn struct {
	conn   net.Conn
	reader *bufio.Reader
	once   sync.Once
}

func (p *pipeConn) Reader() *bufio.Reader       { return p.reader }
func (p *pipeConn) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *pipeConn) State() rpc.State            { return rpc.StateConnected }
func (p *pipeConn) Close() error {
	p.once.Do(func() { _ = p.conn.Close() })
	return nil
}

// stubAgent services requests by method until its pipe closes. Handlers
// return the raw result JSON or an error envelope.
type stubAgent struct {
	t        *testing.T
	handlers map[string]func(params json.RawMessage) (string, *protocol.RPCError)

	mu    sync.Mutex
	calls []string
}

func startStub(t *testing.T, handlers map[string]func(json.RawMessage) (string, *protocol.RPCError)) *rpc.Client {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = serverEnd.Close()
	})

	stub := &stubAgent{t: t, handlers: handlers}
	go stub.serve(serverEnd)
	testStubs[t.Name()] = stub
	return rpc.NewClient(&pipeConn{conn: clientEnd, reader: bufio.NewReader(clientEnd)})
}

// testStubs lets assertions reach the stub that served a test.
var testStubs = map[string]*stubAgent{}

func (s *stubAgent) serve(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		req, err := frame.ReadMessage(reader, frame.DefaultLimits())
		if err != nil {
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, req.Method)
		s.mu.Unlock()

		handler, ok := s.handlers[req.Method]
		resp := protocol.Message{ID: req.ID}
		if !ok {
			resp.Error = &protocol.RPCError{Code: -32601, Message: "method not found: " + req.Method}
		} else if result, rpcErr := handler(req.Params); rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = json.RawMessage(result)
		}
		if err := frame.WriteMessage(conn, resp, frame.DefaultLimits()); err != nil {
			return
		}
	}
}

func (s *stubAgent) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.calls {
		if m == method {
			n++
		}
	}
	return n
}

func ok(result string) func(json.RawMessage) (string, *protocol.RPCError) {
	return func(json.RawMessage) (string, *protocol.RPCError) { return result, nil }
}

func TestStartupAuthenticated(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"initialize": func(params json.RawMessage) (string, *protocol.RPCError) {
			var info ClientInfo
			if err := json.Unmarshal(params, &info); err != nil {
				t.Errorf("decode client info: %v", err)
			}
			if info.Name != "codyctl" {
				t.Errorf("unexpected client name %q", info.Name)
			}
			if info.ExtensionConfiguration.AnonymousUserID == "" {
				t.Error("anonymous user id not generated")
			}
			return `{"name":"cody-agent","authenticated":true,"codyEnabled":true,"codyVersion":"5.5.14"}`, nil
		},
		"shutdown": ok(`null`),
	})

	a := NewFromClient(client)
	a, err := a.completeStartup(context.Background(), Config{}.withDefaults())
	if err != nil {
		t.Fatalf("startup: %v", err)
	}
	defer a.Close()

	info := a.ServerInfo()
	if info == nil || !info.Authenticated || info.CodyVersion != "5.5.14" {
		t.Fatalf("unexpected server info: %+v", info)
	}
}

func TestStartupUnauthenticatedShutsDown(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"initialize": ok(`{"name":"cody-agent","authenticated":false}`),
		"shutdown":   ok(`null`),
	})

	a := NewFromClient(client)
	_, err := a.completeStartup(context.Background(), Config{}.withDefaults())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if testStubs[t.Name()].callCount("shutdown") != 1 {
		t.Fatal("expected a shutdown request before teardown")
	}
}

func TestChatAskReturnsTranscriptAnswer(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"chat/new": ok(`"chat-7"`),
		"chat/submitMessage": func(params json.RawMessage) (string, *protocol.RPCError) {
			var cmd struct {
				ID      string        `json:"id"`
				Message submitMessage `json:"message"`
			}
			if err := json.Unmarshal(params, &cmd); err != nil {
				t.Errorf("decode submit params: %v", err)
			}
			if cmd.ID != "chat-7" || cmd.Message.Command != "submit" || cmd.Message.SubmitType != "user" {
				t.Errorf("unexpected submit command: %+v", cmd)
			}
			return `{"type":"transcript","messages":[{"speaker":"human","text":"hi"},{"speaker":"assistant","text":"hello there"}]}`, nil
		},
		"shutdown": ok(`null`),
	})

	a := NewFromClient(client)
	defer a.Close()

	chat, err := a.NewChat(context.Background())
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	if chat.ID() != "chat-7" {
		t.Fatalf("chat id %q", chat.ID())
	}
	answer, err := chat.Answer(context.Background(), "hi", true)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer != "hello there" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestLookupRepoIDsCachesHitsAndMisses(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"graphql/getRepoIds": ok(`{"repos":[{"name":"github.com/a/app","id":"UmVwbzox"}]}`),
		"shutdown":           ok(`null`),
	})

	a := NewFromClient(client)
	defer a.Close()

	names := []string{"github.com/a/app", "github.com/b/missing"}
	repos, err := a.LookupRepoIDs(context.Background(), names)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(repos) != 1 || repos[0].ID != "UmVwbzox" {
		t.Fatalf("unexpected repos: %+v", repos)
	}

	// Second lookup of the same names must be served from cache, including
	// the recorded miss.
	if _, err := a.LookupRepoIDs(context.Background(), names); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if n := testStubs[t.Name()].callCount("graphql/getRepoIds"); n != 1 {
		t.Fatalf("expected 1 remote lookup, saw %d", n)
	}
}

func TestSetContextReposSkipsUnchangedContext(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"chat/new":               ok(`"chat-1"`),
		"graphql/getRepoIds":     ok(`{"repos":[{"name":"github.com/a/app","id":"UmVwbzox"}]}`),
		"webview/receiveMessage": ok(`null`),
		"shutdown":               ok(`null`),
	})

	a := NewFromClient(client)
	defer a.Close()

	chat, err := a.NewChat(context.Background())
	if err != nil {
		t.Fatalf("new chat: %v", err)
	}
	repos := []string{"github.com/a/app"}
	if err := chat.SetContextRepos(context.Background(), repos); err != nil {
		t.Fatalf("set context: %v", err)
	}
	if err := chat.SetContextRepos(context.Background(), repos); err != nil {
		t.Fatalf("repeat set context: %v", err)
	}
	if n := testStubs[t.Name()].callCount("webview/receiveMessage"); n != 1 {
		t.Fatalf("expected 1 context change, saw %d", n)
	}
}

func TestModelsDecoded(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"chat/models": func(params json.RawMessage) (string, *protocol.RPCError) {
			var req struct {
				ModelUsage string `json:"modelUsage"`
			}
			if err := json.Unmarshal(params, &req); err != nil || req.ModelUsage != "chat" {
				t.Errorf("unexpected model params: %s", params)
			}
			return `{"models":[{"model":"anthropic/claude-3-sonnet","provider":"anthropic","default":true}]}`, nil
		},
		"shutdown": ok(`null`),
	})

	a := NewFromClient(client)
	defer a.Close()

	models, err := a.Models(context.Background(), "chat")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 1 || models[0].Model != "anthropic/claude-3-sonnet" || !models[0].Default {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestCloseSendsShutdownOnce(t *testing.T) {
	testlog.Start(t)
	client := startStub(t, map[string]func(json.RawMessage) (string, *protocol.RPCError){
		"shutdown": ok(`null`),
	})

	a := NewFromClient(client)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := testStubs[t.Name()].callCount("shutdown"); n != 1 {
		t.Fatalf("expected exactly 1 shutdown request, saw %d", n)
	}
}
