// Package protocol defines the structures and constants for the Model
// Context Protocol (MCP).
package protocol

import "fmt"

// PeerError wraps an ErrorPayload returned by a peer so it can be used as a
// Go error while still carrying the original JSON-RPC code/data.
type PeerError struct {
	Method string
	ErrorPayload
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s: peer error %d: %s", e.Method, e.Code, e.Message)
}

// NewPeerError builds a PeerError from a response's error payload, prefixing
// the message with the method that produced it.
func NewPeerError(method string, payload *ErrorPayload) *PeerError {
	return &PeerError{Method: method, ErrorPayload: *payload}
}
