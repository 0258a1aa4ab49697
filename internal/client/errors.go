package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Request when no socket is open
	ErrNotConnected = errors.New("gateway not connected")

	// ErrConnectionClosed is wrapped by *CloseError when the socket closes under a pending call
	ErrConnectionClosed = errors.New("gateway connection closed")

	// ErrClientStopped rejects pending calls when Stop is called
	ErrClientStopped = errors.New("client stopped")

	// ErrRequestFailed is wrapped by *RequestError for application-level failures
	ErrRequestFailed = errors.New("request failed")

	// ErrNoRunID means the gateway accepted an agent request without a run id
	ErrNoRunID = errors.New("no runId received from agent request")

	// ErrRunTimeout means a run produced no text before its timeout
	ErrRunTimeout = errors.New("agent response timeout")

	// ErrCancelled means the run was aborted by the caller
	ErrCancelled = errors.New("request cancelled by user")
)

// CloseError describes the socket close that rejected a call
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed (%d): %s", e.Code, e.Reason)
}

// Unwrap lets errors.Is match ErrConnectionClosed
func (e *CloseError) Unwrap() error {
	return ErrConnectionClosed
}

// RequestError carries the gateway-supplied message of a failed response
type RequestError struct {
	Method  string
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Method == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// Unwrap lets errors.Is match ErrRequestFailed
func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}
