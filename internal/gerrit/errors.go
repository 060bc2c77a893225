package gerrit

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamTerminated is wrapped into the final item of an event
	// stream when the stream gives up for good, either because the very
	// first connect-and-subscribe cycle failed or because the reconnect
	// policy was exhausted.
	ErrStreamTerminated = errors.New("event stream terminated")

	// ErrNotConnected is returned when a session is requested from a
	// connection that has no live transport.
	ErrNotConnected = errors.New("not connected")
)

// ConnectStage identifies the phase of connection establishment that an error
// occurred in.
type ConnectStage uint8

const (
	// StageTransport covers the initial TCP dial.
	StageTransport ConnectStage = iota

	// StageHandshake covers the SSH protocol handshake.
	StageHandshake

	// StageAuth covers public key authentication.
	StageAuth

	// StageKeyLoad covers reading and parsing the private key from disk.
	StageKeyLoad
)

// String returns a human readable name for the stage.
func (s ConnectStage) String() string {
	switch s {
	case StageTransport:
		return "transport"
	case StageHandshake:
		return "handshake"
	case StageAuth:
		return "auth"
	case StageKeyLoad:
		return "key_load"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ConnectError wraps a failure to establish a connection, keeping track of
// which stage of establishment failed so callers can log or classify it.
type ConnectError struct {
	// Stage is the establishment phase the error occurred in.
	Stage ConnectStage

	// Addr is the host:port the connection was headed for.
	Addr string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed during %s: %v", e.Addr,
		e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExecError wraps a failure to run a single command over a session. Commands
// fail in one of three distinct ways, and the phase records which one.
type ExecError struct {
	// Phase is one of "exec", "read" or "close".
	Phase string

	// Command is the command line that was being run.
	Command string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q failed during %s: %v", e.Command,
		e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// ExitStatusError is returned when a command runs to completion but reports a
// non-zero exit status.
type ExitStatusError struct {
	// Command is the command line that was run.
	Command string

	// Status is the non-zero exit status the remote side reported.
	Status int
}

// Error implements the error interface.
func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command,
		e.Status)
}
