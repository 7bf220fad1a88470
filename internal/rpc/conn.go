package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Environment flags understood by the spawned agent, rendered as lowercase
// booleans.
const (
	EnvAgentDebugRemote = "CODY_AGENT_DEBUG_REMOTE"
	EnvAgentDebug       = "CODY_DEBUG"
)

// State tracks the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one duplex byte channel to the agent. Implementations are selected
// once at construction; nothing downstream branches on the transport mode.
type Conn interface {
	io.Writer
	Reader() *bufio.Reader
	Close() error
	State() State
}

// Options describes how to reach the agent.
//
// With UseTCP unset the spawned child's stdio is the channel. With UseTCP set
// the child (if a binary is configured) is started with remote-debug intent
// and the data channel is a TCP socket; an empty BinaryPath then means the
// agent is already running elsewhere.
type Options struct {
	BinaryPath string
	BinaryArgs []string
	UseTCP     bool
	TCPAddr    string
	Retry      RetryConfig
	Debug      bool

	// DialTimeout bounds each individual TCP connect attempt.
	DialTimeout time.Duration
}

// DefaultTCPAddr is where the agent listens when spawned with
// CODY_AGENT_DEBUG_REMOTE=true.
const DefaultTCPAddr = "localhost:3113"

// Open establishes the connection described by opts.
func Open(ctx context.Context, opts Options) (Conn, error) {
	if !opts.UseTCP {
		if opts.BinaryPath == "" {
			return nil, fmt.Errorf("%w: empty binary path", ErrBinaryNotFound)
		}
		p, err := spawn(opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	var child *processConn
	if opts.BinaryPath != "" {
		p, err := spawn(opts)
		if err != nil {
			return nil, err
		}
		child = p
	}

	addr := opts.TCPAddr
	if addr == "" {
		addr = DefaultTCPAddr
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	nc, err := dialWithRetry(ctx, func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}, opts.Retry)
	if err != nil {
		if child != nil {
			_ = child.Close()
		}
		return nil, err
	}
	log.Info().Str("addr", addr).Msg("rpc.conn tcp connected")

	t := &tcpConn{conn: nc, reader: bufio.NewReader(nc), child: child}
	t.state.Store(int32(StateConnected))
	return t, nil
}

// processConn owns a spawned agent and exposes its stdio as the channel.
// The child keeps the stream until Close terminates it.
type processConn struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	reader    *bufio.Reader
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

func spawn(opts Options) (*processConn, error) {
	cmd := exec.Command(opts.BinaryPath, opts.BinaryArgs...)
	cmd.Env = append(os.Environ(),
		EnvAgentDebugRemote+"="+strconv.FormatBool(opts.UseTCP),
		EnvAgentDebug+"="+strconv.FormatBool(opts.Debug),
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	p := &processConn{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}
	p.state.Store(int32(StateConnecting))
	if err := cmd.Start(); err != nil {
		p.state.Store(int32(StateDisconnected))
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, opts.BinaryPath)
		}
		return nil, fmt.Errorf("rpc: spawn agent: %w", err)
	}
	p.state.Store(int32(StateConnected))
	log.Info().Int("pid", cmd.Process.Pid).Str("binary", opts.BinaryPath).
		Msg("rpc.conn agent process started")
	return p, nil
}

func (p *processConn) Reader() *bufio.Reader { return p.reader }

func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processConn) State() State { return State(p.state.Load()) }

// Close terminates the child if it is still running and waits for it to exit
// so no process leaks. Idempotent.
func (p *processConn) Close() error {
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosing))
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				log.Warn().Err(err).Msg("rpc.conn signal agent")
			}
		}
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.closeErr = err
		}
		p.state.Store(int32(StateClosed))
		log.Debug().Msg("rpc.conn agent process exited")
	})
	return p.closeErr
}

// tcpConn is the socket-backed channel. When it spawned the agent for
// remote-debug use, closing the socket also terminates the child.
type tcpConn struct {
	conn      net.Conn
	reader    *bufio.Reader
	child     *processConn
	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

func (t *tcpConn) Reader() *bufio.Reader { return t.reader }

func (t *tcpConn) Write(b []byte) (int, error) { return t.conn.Write(b) }

func (t *tcpConn) State() State { return State(t.state.Load()) }

func (t *tcpConn) Close() error {
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateClosing))
		t.closeErr = t.conn.Close()
		if t.child != nil {
			if err := t.child.Close(); err != nil && t.closeErr == nil {
				t.closeErr = err
			}
		}
		t.state.Store(int32(StateClosed))
	})
	return t.closeErr
}
