package rpc

import "errors"

var (
	ErrBinaryNotFound = errors.New("rpc: agent binary not found")
	ErrConnectFailed  = errors.New("rpc: tcp connect attempts exhausted")
	ErrCallTimeout    = errors.New("rpc: timed out waiting for a frame")
	ErrClientUnusable = errors.New("rpc: client unusable after timeout or framing failure")
	ErrClientClosed   = errors.New("rpc: client closed")
	ErrIDMismatch     = errors.New("rpc: response id does not match the in-flight request")
	ErrPeerClosed     = errors.New("rpc: peer closed the connection")
)
