// Package slave implements the per-machine control-channel client
// (spec.md §4.7): it connects outward to a Master, receives a job
// partition, drives a worker.Manager locally, and reports the merged
// result back.
package slave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"straw/internal/straw/id"
	"straw/internal/straw/job"
	"straw/internal/straw/netutil"
	"straw/internal/straw/observability"
	"straw/internal/straw/protocol"
	"straw/internal/straw/strawerr"
	"straw/internal/straw/worker"
)

// Slave is the node tier: exactly one worker.Manager plus its control
// channel to Master.
type Slave struct {
	id         string
	masterURL  string
	binaryPath string
	timeout    time.Duration
	check      time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics

	manager *worker.Manager
	conn    *websocket.Conn
}

// New constructs a Slave that will dial masterURL (e.g.
// "ws://10.0.0.1:9001/slave/") at Start.
func New(masterURL, binaryPath string, timeout, check time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Slave {
	return &Slave{
		id:         id.Namespaced("Slave"),
		masterURL:  masterURL,
		binaryPath: binaryPath,
		timeout:    timeout,
		check:      check,
		logger:     logger,
		metrics:    metrics,
	}
}

// ID returns the slave's host-scoped identifier.
func (s *Slave) ID() string { return s.id }

// Start dials the master, announces itself, and serves inbound control
// frames (init, stop) until the channel closes. It blocks until the
// control channel ends, so callers typically run it in its own
// goroutine.
func (s *Slave) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.masterURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial master %s: %v", strawerr.ErrTransport, s.masterURL, err)
	}
	s.conn = conn
	defer conn.Close()

	localIP := netutil.HostIP()
	if err := conn.WriteJSON(protocol.SlaveFrame{Command: protocol.CommandInit, Slave: localIP}); err != nil {
		return fmt.Errorf("%w: send init: %v", strawerr.ErrTransport, err)
	}

	for {
		var frame protocol.MasterFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("%w: read control frame: %v", strawerr.ErrTransport, err)
		}
		if frame.Command == "" {
			return fmt.Errorf("%w: control frame missing command", strawerr.ErrBadMessage)
		}

		switch frame.Command {
		case protocol.CommandInit:
			if err := s.onInit(frame); err != nil {
				return err
			}
		case protocol.CommandStop:
			return s.onStop(localIP)
		default:
			s.logger.Warn("slave: unexpected command from master", zap.String("command", frame.Command))
		}
	}
}

func (s *Slave) onInit(frame protocol.MasterFrame) error {
	workerNum := 0
	if frame.WorkerNum != nil {
		workerNum = *frame.WorkerNum
	}
	s.manager = worker.NewManager(workerNum, frame.WorkerWeights, s.binaryPath, s.timeout, s.check, s.logger, s.metrics)

	for _, raw := range frame.Jobs {
		var d job.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("%w: decode job descriptor: %v", strawerr.ErrBadMessage, err)
		}
		container, err := job.FromDescriptor(&d)
		if err != nil {
			return fmt.Errorf("%w: rebuild job container: %v", strawerr.ErrBadMessage, err)
		}
		if err := s.manager.Dispatch(container); err != nil {
			return fmt.Errorf("straw: slave %s: dispatch: %w", s.id, err)
		}
	}

	if err := s.manager.Start(); err != nil {
		return fmt.Errorf("straw: slave %s: start worker manager: %w", s.id, err)
	}
	s.logger.Info("slave: worker manager started", zap.String("slave_id", s.id), zap.Int("worker_num", workerNum), zap.Int("jobs", len(frame.Jobs)))
	return nil
}

func (s *Slave) onStop(localIP string) error {
	if s.manager == nil {
		// No jobs were ever partitioned to this slave; report an empty
		// result rather than failing the run.
		empty := worker.NewManager(1, nil, s.binaryPath, s.timeout, s.check, s.logger, s.metrics)
		s.manager = empty
	}
	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("straw: slave %s: stop worker manager: %w", s.id, err)
	}
	result := s.manager.Result()
	encoded, err := result.ToJSON()
	if err != nil {
		return fmt.Errorf("straw: slave %s: encode result: %w", s.id, err)
	}
	return s.conn.WriteJSON(protocol.SlaveFrame{Command: protocol.CommandReport, Slave: localIP, Result: encoded})
}
