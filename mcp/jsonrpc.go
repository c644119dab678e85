// Package mcp defines the wire-level types shared by every transport: the
// JSON-RPC 2.0 envelope, tool/resource descriptors, and the invocation
// context threaded through the middleware pipeline.
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the JSON-RPC version this server speaks on the wire.
const ProtocolVersion = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code, including the MCP-specific codes
// this server uses for session and rate-limit conditions.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
	ErrorCodeSessionOrAuth  ErrorCode = -32001
	ErrorCodeServerError    ErrorCode = -32000
)

// RequestID is a JSON-RPC request identifier, which may be a string, a
// number, or absent (for notifications).
type RequestID struct {
	str    string
	num    float64
	isStr  bool
	isNil  bool
	isNull bool
}

// NewStringID builds a string-valued RequestID.
func NewStringID(s string) RequestID { return RequestID{str: s, isStr: true} }

// NewNumberID builds a number-valued RequestID.
func NewNumberID(n float64) RequestID { return RequestID{num: n} }

// IsNil reports whether this ID represents a notification (absent id).
func (r RequestID) IsNil() bool { return r.isNil }

func (r RequestID) String() string {
	if r.isNil {
		return ""
	}
	if r.isStr {
		return r.str
	}
	return fmt.Sprintf("%v", r.num)
}

// MarshalJSON implements json.Marshaler.
func (r RequestID) MarshalJSON() ([]byte, error) {
	if r.isNil {
		return []byte("null"), nil
	}
	if r.isStr {
		return json.Marshal(r.str)
	}
	return json.Marshal(r.num)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.isNil = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.str = s
		r.isStr = true
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}
	r.num = n
	return nil
}

// Request is a JSON-RPC request. A Request with a nil ID is a notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *RPCError       `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error JSON-RPC response.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &RPCError{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// AnyMessage is a generic JSON-RPC message: request, notification, or
// response, disambiguated structurally after unmarshaling.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *RPCError       `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// UnmarshalJSON enforces the basic JSON-RPC 2.0 structural invariants.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type raw AnyMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	hasMethod := r.Method != ""
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	if hasMethod {
		if hasResult || hasError {
			return fmt.Errorf("request message cannot carry result or error")
		}
	} else if hasResult && hasError {
		return fmt.Errorf("response message cannot carry both result and error")
	}
	*m = AnyMessage(r)
	return nil
}

// Type classifies the message.
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID == nil {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the message as a Request, or nil if it's a response.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the message as a Response, or nil if it's a request.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}

// Method name constants used by the transports.
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)
