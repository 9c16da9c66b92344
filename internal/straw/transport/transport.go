// Package transport defines the control-channel shape that both the
// WebSocket implementation (internal/straw/master, internal/straw/slave)
// and the NATS implementation (internal/straw/transport/natsctl)
// satisfy, so a cmd entry point can select one via STRAW_TRANSPORT
// without caring which (SPEC_FULL.md §8).
package transport

import (
	"context"

	"straw/internal/straw/analysable"
	"straw/internal/straw/job"
)

// ControlMaster is the controller side of the control channel.
type ControlMaster interface {
	Dispatch(c *job.Container)
	Start() error
	Ready() <-chan struct{}
	Stop(ctx context.Context) (*analysable.Result, error)
}

// ControlSlave is the node side of the control channel. Start blocks
// until the channel ends (normally after handling a stop command).
type ControlSlave interface {
	Start(ctx context.Context) error
}
