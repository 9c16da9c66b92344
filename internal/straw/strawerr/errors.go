// Package strawerr collects the sentinel error kinds shared by every tier
// of the load engine.
package strawerr

import "errors"

var (
	// ErrWrongStatus is returned when a lifecycle operation (Start/Stop/Analyse,
	// or a counter accessor) is invoked while an Analysable is in the wrong
	// CoreStatus.
	ErrWrongStatus = errors.New("straw: wrong status")

	// ErrWorkerExecute is returned when Worker.Start's subprocess entry point
	// is invoked outside of a spawned worker subprocess.
	ErrWorkerExecute = errors.New("straw: worker can only run in a worker subprocess")

	// ErrBadMessage is returned when a control-channel frame is malformed:
	// not JSON, missing a command tag, or missing a command's required fields.
	ErrBadMessage = errors.New("straw: bad control message")

	// ErrTransport is returned by a Job's request loop when the underlying
	// HTTP or WebSocket call fails at the transport level. It is always
	// absorbed into a failed Session by the caller, never surfaced.
	ErrTransport = errors.New("straw: transport error")
)
