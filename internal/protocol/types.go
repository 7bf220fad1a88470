package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the fixed JSON-RPC protocol version. Not negotiated.
const Version = "2.0"

// Message is the union over the three wire shapes.
//
//   - request:      id + method, params optional
//   - response:     id + result or error, no method
//   - notification: method only, no id
//
// Params and Result stay opaque to the transport; callers decode them.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the structured error envelope a peer returns for one request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("remote error code=%d message=%q", e.Code, e.Message)
}

// NewRequest builds a request message. Params may be nil; it is carried as
// an explicit JSON null so the wire shape always has the params key.
func NewRequest(id int64, method string, params json.RawMessage) Message {
	if params == nil {
		params = json.RawMessage("null")
	}
	return Message{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

// IsNotification reports whether m is a server-to-client notification.
func (m Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsResponse reports whether m answers a client-issued request.
func (m Message) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}
