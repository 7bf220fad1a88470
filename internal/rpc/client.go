// Package rpc is the request/response transport for the agent connection.
//
// The client speaks Content-Length framed JSON-RPC 2.0 over a Conn, assigns
// monotonic request ids, and correlates each call with its response while
// forwarding unsolicited notifications to a side channel. One request is in
// flight per call; Call serializes callers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/codyctl/internal/protocol"
	"github.com/danmuck/codyctl/internal/protocol/frame"
)

// DefaultReadTimeout bounds each individual frame read inside a call.
const DefaultReadTimeout = 5 * time.Second

// NotificationHandler receives server-to-client notifications. Best effort:
// the transport never waits on it beyond the handler returning.
type NotificationHandler func(protocol.Message)

type frameResult struct {
	msg protocol.Message
	err error
}

// Client drives JSON-RPC calls over a single Conn.
type Client struct {
	conn        Conn
	limits      frame.Limits
	readTimeout time.Duration
	notify      NotificationHandler

	// mu serializes calls and guards the id counter and lifecycle flags.
	// Ids are unique for the lifetime of the connection and never reused.
	mu     sync.Mutex
	nextID int64
	broken bool
	closed bool

	frames chan frameResult
	done   chan struct{}
}

// ClientOption adjusts client construction.
type ClientOption func(*Client)

func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func WithLimits(l frame.Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

func WithNotificationHandler(fn NotificationHandler) ClientOption {
	return func(c *Client) { c.notify = fn }
}

// NewClient wraps conn and starts the frame reader.
func NewClient(conn Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:        conn,
		limits:      frame.DefaultLimits(),
		readTimeout: DefaultReadTimeout,
		nextID:      1,
		frames:      make(chan frameResult),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// readLoop decodes frames off the connection and hands them to the waiting
// call. It stops on the first decode failure (framing errors are not
// recoverable mid-stream) or when the client closes.
func (c *Client) readLoop() {
	r := c.conn.Reader()
	for {
		msg, err := frame.ReadMessage(r, c.limits)
		select {
		case c.frames <- frameResult{msg: msg, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Call sends one request and blocks until the correlated response arrives,
// the peer returns an error envelope, or a frame read exceeds the configured
// timeout. Notifications received while waiting are forwarded to the
// notification handler and do not satisfy the call.
//
// A timeout leaves the underlying stream in an unknown position, so it marks
// the client unusable: every later Call fails with ErrClientUnusable and the
// session must be restarted. The request itself cannot be unsent; marking the
// client broken is what keeps a late response from being mis-delivered.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: encode params for %s: %w", method, err)
		}
		raw = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.broken {
		return nil, ErrClientUnusable
	}

	id := c.nextID
	c.nextID++

	req := protocol.NewRequest(id, method, raw)
	log.Debug().Int64("id", id).Str("method", method).Msg("rpc.call send")
	if err := frame.WriteMessage(c.conn, req, c.limits); err != nil {
		c.broken = true
		return nil, fmt.Errorf("rpc: write request %s: %w", method, err)
	}

	return c.awaitResponse(ctx, id, method)
}

func (c *Client) awaitResponse(ctx context.Context, id int64, method string) (json.RawMessage, error) {
	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	for {
		select {
		case res := <-c.frames:
			if res.err != nil {
				c.broken = true
				if res.err == io.EOF {
					return nil, fmt.Errorf("%w while awaiting %s", ErrPeerClosed, method)
				}
				return nil, fmt.Errorf("rpc: read frame for %s: %w", method, res.err)
			}

			msg := res.msg
			if msg.IsNotification() {
				c.dispatchNotification(msg)
				// Streaming peers keep emitting progress notifications;
				// each received frame re-arms the read timeout.
				resetTimer(timer, c.readTimeout)
				continue
			}
			if msg.ID == nil {
				c.broken = true
				return nil, fmt.Errorf("%w: frame is neither response nor notification", protocol.ErrInvalidBody)
			}
			if *msg.ID != id {
				// Single request in flight per await; a different id means
				// the stream and this client disagree about what is pending.
				c.broken = true
				return nil, fmt.Errorf("%w: got=%d want=%d", ErrIDMismatch, *msg.ID, id)
			}
			if msg.Error != nil {
				log.Debug().Int64("id", id).Int("code", msg.Error.Code).Msg("rpc.call remote error")
				return nil, msg.Error
			}
			return msg.Result, nil

		case <-timer.C:
			c.broken = true
			log.Warn().Int64("id", id).Str("method", method).Dur("timeout", c.readTimeout).
				Msg("rpc.call read timeout, marking client unusable")
			return nil, fmt.Errorf("%w: method=%s id=%d", ErrCallTimeout, method, id)

		case <-ctx.Done():
			c.broken = true
			return nil, ctx.Err()
		}
	}
}

func (c *Client) dispatchNotification(msg protocol.Message) {
	log.Debug().Str("method", msg.Method).Msg("rpc.call notification")
	if c.notify != nil {
		c.notify(msg)
	}
}

// Close stops the reader and closes the connection. It does not issue the
// shutdown request; that handshake belongs to the caller and must happen
// before Close. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
