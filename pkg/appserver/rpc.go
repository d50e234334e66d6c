// Package appserver exposes the engine to clients over a bidirectional
// JSON-RPC 2.0 channel. The first call on every connection must be
// "initialize"; anything else fails with -32600 "Not initialized" until
// it succeeds.
package appserver

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// Request is one incoming JSON-RPC 2.0 message. A nil ID marks a
// notification; the server sends no response for those.
type Request struct {
	Jsonrpc string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Response is one outgoing JSON-RPC 2.0 message.
type Response struct {
	Jsonrpc string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Result  any              `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`
}

// RPCError is the structured error payload of a failed call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server-initiated message (no id, no response).
type Notification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities carries the client's feature negotiation payload.
type Capabilities struct {
	ExperimentalAPI           bool     `json:"experimentalApi,omitempty"`
	OptOutNotificationMethods []string `json:"optOutNotificationMethods,omitempty"`
}

// InitializeParams is the payload of the required first call.
type InitializeParams struct {
	ClientInfo   ClientInfo   `json:"clientInfo"`
	Capabilities Capabilities `json:"capabilities"`
}

// InitializeResult acknowledges a successful initialize.
type InitializeResult struct {
	ServerInfo ClientInfo `json:"serverInfo"`
	SessionID  string     `json:"sessionId"`
}

func respond(id *json.RawMessage, result any) Response {
	return Response{Jsonrpc: "2.0", ID: id, Result: result}
}

func respondError(id *json.RawMessage, code int, message string, data any) Response {
	return Response{Jsonrpc: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}
