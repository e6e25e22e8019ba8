// Package protocol defines the wire types exchanged with an MCP peer over
// JSON-RPC 2.0, independent of transport and of protocol version.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorPayload is the 'error' member of a JSON-RPC response.
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Request is a JSON-RPC request envelope. ID is always present and non-null
// for requests; Params may be any JSON value.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC response envelope. Exactly one of Result/Error is
// set, per the JSON-RPC 2.0 spec.
type Response struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// Notification is a JSON-RPC notification envelope. It MUST NOT carry an id.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Envelope is the minimal shape used to classify a raw line as a request,
// response, or notification before fully decoding it. A request and a
// notification both have Method set; only a request also has ID set.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// IsResponse reports whether the envelope looks like a response: it has an
// id but no method.
func (e Envelope) IsResponse() bool {
	return len(e.ID) > 0 && e.Method == ""
}

// IsNotification reports whether the envelope looks like a notification: it
// has a method but no id.
func (e Envelope) IsNotification() bool {
	return e.Method != "" && len(e.ID) == 0
}

// IsRequest reports whether the envelope looks like a peer-initiated request:
// it has both a method and an id (e.g. sampling/createMessage).
func (e Envelope) IsRequest() bool {
	return e.Method != "" && len(e.ID) > 0
}

// NewRequest builds a Request envelope for the given id/method/params.
func NewRequest(id interface{}, method string, params interface{}) *Request {
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewNotification builds a Notification envelope.
func NewNotification(method string, params interface{}) *Notification {
	return &Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// NewSuccessResponse builds a successful Response envelope.
func NewSuccessResponse(id interface{}, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds a failing Response envelope.
func NewErrorResponse(id interface{}, code ErrorCode, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorPayload{Code: code, Message: message, Data: data},
	}
}

// DecodePayload re-marshals an arbitrary JSON value (typically the Result or
// Params field of a decoded envelope, held as interface{} or json.RawMessage)
// into target. Peer payloads are open records: callers should treat missing
// optional fields as zero values rather than failing outright.
func DecodePayload(payload interface{}, target interface{}) error {
	if payload == nil {
		return fmt.Errorf("protocol: payload is nil, cannot decode into %T", target)
	}
	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("protocol: re-marshal payload (type %T): %w", payload, err)
		}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("protocol: payload is empty after marshalling")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("protocol: decode payload into %T: %w", target, err)
	}
	return nil
}
