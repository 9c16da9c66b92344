// Package worker implements the isolated per-worker subprocess and the
// WorkerManager that spawns, dispatches to, and reaps them (spec.md
// §4.6). A Worker's subprocess is a fresh invocation of this same binary;
// descriptors cross the pipe as JSON, matching spec.md §9's "explicit
// descriptor structs" design note.
package worker

import "encoding/json"

// Message is the tagged 2-tuple carried on the worker<->manager pipes:
// kind "stop" flows manager -> worker subprocess stdin, kind "result"
// flows worker subprocess stdout -> manager (spec.md §5 L2).
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubprocessFlag, when present as os.Args[1], tells a straw binary to run
// as a worker subprocess instead of its normal entry point.
const SubprocessFlag = "--straw-worker-subprocess"

// initMessage is the single line a parent writes to a freshly spawned
// worker subprocess's stdin before it begins its request loops.
type initMessage struct {
	Descriptors          []descriptorJSON `json:"descriptors"`
	TimeoutSeconds       int              `json:"timeout_seconds"`
	CheckIntervalSeconds int              `json:"check_interval_seconds"`
}

// descriptorJSON is one job.Descriptor in its encoded JSON form: Worker.Start
// marshals each descriptor into it, and RunSubprocess decodes it back into
// a job.Descriptor.
type descriptorJSON = json.RawMessage
