// Package natsctl implements the Master<->Slave control channel (spec.md
// §4.7, §4.8) over NATS subjects instead of a dedicated WebSocket per
// slave (internal/straw/master, internal/straw/slave), selectable via
// STRAW_TRANSPORT=nats (SPEC_FULL.md §8). It carries the same
// init/stop/report commands and protocol.SlaveFrame/MasterFrame wire
// shapes — only the transport underneath changes.
package natsctl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"straw/internal/straw/analysable"
	"straw/internal/straw/id"
	"straw/internal/straw/job"
	"straw/internal/straw/netutil"
	"straw/internal/straw/observability"
	"straw/internal/straw/protocol"
	"straw/internal/straw/strawerr"
	"straw/internal/straw/worker"
)

const (
	subjectSlaveInit       = "straw.slave.init"
	subjectSlaveReport     = "straw.slave.report"
	subjectMasterBroadcast = "straw.master.control.broadcast"
)

func subjectMasterControl(slaveIP string) string {
	return fmt.Sprintf("straw.master.control.%s", slaveIP)
}

// Master is the NATS-backed counterpart to master.Master, implementing
// the same external shape (Dispatch/Start/Ready/Stop) so a cmd entry
// point can select between transports behind one interface.
type Master struct {
	id             string
	nc             *nats.Conn
	expectedSlaves []string
	workerWeights  []int
	logger         *zap.Logger

	mu            sync.Mutex
	jobs          []*job.Container
	slaveOrder    []string
	seen          map[string]bool
	results       map[string]*analysable.Result
	readyCh       chan struct{}
	readySignaled bool
	doneCh        chan struct{}
	doneSignaled  bool

	subs []*nats.Subscription
}

// NewMaster connects to natsURL and prepares to coordinate
// len(expectedSlaveIPs) slaves. workerWeights is forwarded to every
// Slave's init frame exactly as master.New does.
func NewMaster(natsURL string, expectedSlaveIPs []string, workerWeights []int, logger *zap.Logger) (*Master, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect nats %s: %v", strawerr.ErrTransport, natsURL, err)
	}
	return &Master{
		id:             id.Namespaced("Master"),
		nc:             nc,
		expectedSlaves: expectedSlaveIPs,
		workerWeights:  workerWeights,
		logger:         logger,
		seen:           make(map[string]bool),
		results:        make(map[string]*analysable.Result),
		readyCh:        make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Dispatch adds a job container to the set partitioned across slaves.
func (m *Master) Dispatch(c *job.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, c)
}

// Ready closes once every expected slave has registered and received its
// partition.
func (m *Master) Ready() <-chan struct{} { return m.readyCh }

// ID returns the master's host-scoped identifier.
func (m *Master) ID() string { return m.id }

// RegisteredSlaves reports how many slaves have announced themselves so far.
func (m *Master) RegisteredSlaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slaveOrder)
}

// ExpectedSlaves reports how many slaves this master is waiting for.
func (m *Master) ExpectedSlaves() int { return len(m.expectedSlaves) }

// Start subscribes to the init and report subjects.
func (m *Master) Start() error {
	initSub, err := m.nc.Subscribe(subjectSlaveInit, m.onInit)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", strawerr.ErrTransport, subjectSlaveInit, err)
	}
	reportSub, err := m.nc.Subscribe(subjectSlaveReport, m.onReport)
	if err != nil {
		return fmt.Errorf("%w: subscribe %s: %v", strawerr.ErrTransport, subjectSlaveReport, err)
	}
	m.subs = append(m.subs, initSub, reportSub)
	return nil
}

func (m *Master) onInit(msg *nats.Msg) {
	var frame protocol.SlaveFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		m.logger.Warn("natsctl master: bad init frame", zap.Error(err))
		return
	}

	m.mu.Lock()
	if !m.seen[frame.Slave] {
		m.seen[frame.Slave] = true
		m.slaveOrder = append(m.slaveOrder, frame.Slave)
	}
	ready := len(m.slaveOrder) >= len(m.expectedSlaves)
	jobs := m.jobs
	order := append([]string(nil), m.slaveOrder...)
	m.mu.Unlock()

	if !ready {
		return
	}
	m.mu.Lock()
	if m.readySignaled {
		m.mu.Unlock()
		return
	}
	m.readySignaled = true
	m.mu.Unlock()

	groups := partitionRoundRobin(jobs, len(order))
	for i, slaveIP := range order {
		descriptors := make([]json.RawMessage, 0, len(groups[i]))
		for _, c := range groups[i] {
			d, err := c.ToDescriptor()
			if err != nil {
				m.logger.Error("natsctl master: encode descriptor", zap.Error(err))
				continue
			}
			raw, err := json.Marshal(d)
			if err != nil {
				continue
			}
			descriptors = append(descriptors, raw)
		}
		workerNum := len(groups[i])
		if workerNum == 0 {
			workerNum = 1
		}
		out := protocol.MasterFrame{Command: protocol.CommandInit, WorkerNum: &workerNum, WorkerWeights: m.workerWeights, Jobs: descriptors}
		payload, err := json.Marshal(out)
		if err != nil {
			continue
		}
		if err := m.nc.Publish(subjectMasterControl(slaveIP), payload); err != nil {
			m.logger.Error("natsctl master: publish init", zap.String("slave", slaveIP), zap.Error(err))
		}
	}
	close(m.readyCh)
}

func (m *Master) onReport(msg *nats.Msg) {
	var frame protocol.SlaveFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		m.logger.Warn("natsctl master: bad report frame", zap.Error(err))
		return
	}
	result, err := analysable.FromJSON(frame.Result)
	if err != nil {
		m.logger.Error("natsctl master: decode slave result", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.results[frame.Slave] = result
	allReported := len(m.results) >= len(m.expectedSlaves)
	var values []*analysable.Result
	if allReported {
		for _, r := range m.results {
			values = append(values, r)
		}
	}
	m.mu.Unlock()

	if !allReported {
		return
	}
	merged, err := analysable.FromResults("master", values)
	if err != nil {
		m.logger.Error("natsctl master: merge results", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.results["master"] = merged
	if !m.doneSignaled {
		m.doneSignaled = true
		close(m.doneCh)
	}
	m.mu.Unlock()
}

// Stop broadcasts a stop command and blocks until every expected slave
// has reported, or ctx is done.
func (m *Master) Stop(ctx context.Context) (*analysable.Result, error) {
	if err := m.nc.Publish(subjectMasterBroadcast, mustMarshal(protocol.MasterFrame{Command: protocol.CommandStop})); err != nil {
		return nil, fmt.Errorf("%w: broadcast stop: %v", strawerr.ErrTransport, err)
	}

	select {
	case <-m.doneCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: timed out awaiting aggregate report: %v", strawerr.ErrTransport, ctx.Err())
	}

	m.mu.Lock()
	result := m.results["master"]
	m.mu.Unlock()
	if result == nil {
		return nil, fmt.Errorf("%w: no aggregate report received", strawerr.ErrTransport)
	}

	for _, sub := range m.subs {
		_ = sub.Unsubscribe()
	}
	m.nc.Close()
	return result, nil
}

// Slave is the NATS-backed counterpart to slave.Slave.
type Slave struct {
	id         string
	nc         *nats.Conn
	binaryPath string
	timeout    int
	check      int
	logger     *zap.Logger
	metrics    *observability.Metrics

	manager *worker.Manager
}

// NewSlave connects to natsURL.
func NewSlave(natsURL, binaryPath string, timeoutSeconds, checkSeconds int, logger *zap.Logger, metrics *observability.Metrics) (*Slave, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect nats %s: %v", strawerr.ErrTransport, natsURL, err)
	}
	return &Slave{
		id:         id.Namespaced("Slave"),
		nc:         nc,
		binaryPath: binaryPath,
		timeout:    timeoutSeconds,
		check:      checkSeconds,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Start announces this slave and processes inbound control frames until
// a stop command is handled, then returns.
func (s *Slave) Start(ctx context.Context) error {
	localIP := netutil.HostIP()
	done := make(chan error, 1)

	var ownSub, broadcastSub *nats.Subscription
	handler := func(msg *nats.Msg) {
		var frame protocol.MasterFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			done <- fmt.Errorf("%w: decode control frame: %v", strawerr.ErrBadMessage, err)
			return
		}
		switch frame.Command {
		case protocol.CommandInit:
			if err := s.onInit(frame); err != nil {
				done <- err
			}
		case protocol.CommandStop:
			done <- s.onStop(localIP)
		}
	}

	var err error
	ownSub, err = s.nc.Subscribe(subjectMasterControl(localIP), handler)
	if err != nil {
		return fmt.Errorf("%w: subscribe own control subject: %v", strawerr.ErrTransport, err)
	}
	defer ownSub.Unsubscribe()

	broadcastSub, err = s.nc.Subscribe(subjectMasterBroadcast, handler)
	if err != nil {
		return fmt.Errorf("%w: subscribe broadcast subject: %v", strawerr.ErrTransport, err)
	}
	defer broadcastSub.Unsubscribe()

	if err := s.nc.Publish(subjectSlaveInit, mustMarshal(protocol.SlaveFrame{Command: protocol.CommandInit, Slave: localIP})); err != nil {
		return fmt.Errorf("%w: publish init: %v", strawerr.ErrTransport, err)
	}

	select {
	case err := <-done:
		s.nc.Close()
		return err
	case <-ctx.Done():
		s.nc.Close()
		return ctx.Err()
	}
}

func (s *Slave) onInit(frame protocol.MasterFrame) error {
	workerNum := 0
	if frame.WorkerNum != nil {
		workerNum = *frame.WorkerNum
	}
	s.manager = worker.NewManager(workerNum, frame.WorkerWeights, s.binaryPath, durationSeconds(s.timeout), durationSeconds(s.check), s.logger, s.metrics)
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
			return err
		}
	}
	return s.manager.Start()
}

func (s *Slave) onStop(localIP string) error {
	if s.manager == nil {
		s.manager = worker.NewManager(1, nil, s.binaryPath, durationSeconds(s.timeout), durationSeconds(s.check), s.logger, s.metrics)
	}
	if err := s.manager.Stop(); err != nil {
		return err
	}
	encoded, err := s.manager.Result().ToJSON()
	if err != nil {
		return err
	}
	return s.nc.Publish(subjectSlaveReport, mustMarshal(protocol.SlaveFrame{Command: protocol.CommandReport, Slave: localIP, Result: encoded}))
}

func partitionRoundRobin(jobs []*job.Container, n int) [][]*job.Container {
	if n < 1 {
		n = 1
	}
	groups := make([][]*job.Container, n)
	for i, j := range jobs {
		groups[i%n] = append(groups[i%n], j)
	}
	return groups
}

func durationSeconds(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
