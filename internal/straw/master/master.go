// Package master implements the control-server tier (spec.md §4.8): it
// owns the job list, accepts Slave connections, partitions jobs round
// robin, and aggregates each Slave's reported AnalyseResult into the
// final one.
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"straw/internal/straw/analysable"
	"straw/internal/straw/id"
	"straw/internal/straw/job"
	"straw/internal/straw/protocol"
	"straw/internal/straw/strawerr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Master is the user-facing controller object. Its control server runs in
// its own goroutine rather than a dedicated OS process — spec.md's
// process-separation requirement exists only so the server loop doesn't
// block the caller, a property Go's scheduler gives any goroutine for
// free.
type Master struct {
	id             string
	port           int
	expectedSlaves []string
	workerWeights  []int
	logger         *zap.Logger

	mu               sync.Mutex
	jobs             []*job.Container
	slaveOrder       []string
	slaveConns       map[string]*websocket.Conn
	results          map[string]*analysable.Result
	controllerConn   *websocket.Conn
	allSlavesReadyCh chan struct{}
	readySignaled    bool

	httpServer *http.Server
}

// New constructs a Master that will listen on port and expects exactly
// len(expectedSlaveIPs) Slaves to register before it partitions jobs.
// workerWeights is forwarded verbatim to every Slave's init frame, which
// applies it to its local worker pool (spec.md §4.5's WeightedRoundRobin,
// wired end to end rather than left as an unreachable type); nil means
// every worker gets the default weight of 1.
func New(port int, expectedSlaveIPs []string, workerWeights []int, logger *zap.Logger) *Master {
	return &Master{
		id:               id.Namespaced("Master"),
		port:             port,
		expectedSlaves:   expectedSlaveIPs,
		workerWeights:    workerWeights,
		logger:           logger,
		slaveConns:       make(map[string]*websocket.Conn),
		results:          make(map[string]*analysable.Result),
		allSlavesReadyCh: make(chan struct{}),
	}
}

// ID returns the master's host-scoped identifier.
func (m *Master) ID() string { return m.id }

// Ready closes once every expected slave has registered and been handed
// its job partition, useful for tests and for a CLI launcher that must
// not call Stop before partitioning has happened.
func (m *Master) Ready() <-chan struct{} { return m.allSlavesReadyCh }

// RegisteredSlaves reports how many slaves have connected so far.
func (m *Master) RegisteredSlaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slaveConns)
}

// ExpectedSlaves reports how many slaves this master is waiting for.
func (m *Master) ExpectedSlaves() int { return len(m.expectedSlaves) }

// Dispatch adds a job container to the set partitioned across slaves at
// Start. Must be called before Start.
func (m *Master) Dispatch(c *job.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, c)
}

// Start launches the control server's two endpoints, /slave/ and
// /master/, and returns once the listener is up.
func (m *Master) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/slave/", m.handleSlave)
	mux.HandleFunc("/master/", m.handleMaster)

	m.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", m.port), Handler: mux}

	ln, err := net.Listen("tcp", m.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("straw: master %s: listen: %w", m.id, err)
	}
	go func() {
		if err := m.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("master: control server stopped", zap.Error(err))
		}
	}()
	m.logger.Info("master: control server started", zap.String("addr", m.httpServer.Addr))
	return nil
}

func (m *Master) handleSlave(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("master: slave upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var frame protocol.SlaveFrame
		if err := conn.ReadJSON(&frame); err != nil {
			m.logger.Info("master: slave channel closed", zap.Error(err))
			return
		}
		if frame.Command == "" {
			m.logger.Warn("master: bad slave frame, missing command", zap.Error(strawerr.ErrBadMessage))
			return
		}

		switch frame.Command {
		case protocol.CommandInit:
			m.onSlaveInit(frame, conn)
		case protocol.CommandReport:
			m.onSlaveReport(frame)
		default:
			m.logger.Warn("master: unexpected slave command", zap.String("command", frame.Command))
		}
	}
}

func (m *Master) onSlaveInit(frame protocol.SlaveFrame, conn *websocket.Conn) {
	m.mu.Lock()
	if _, ok := m.slaveConns[frame.Slave]; !ok {
		m.slaveOrder = append(m.slaveOrder, frame.Slave)
	}
	m.slaveConns[frame.Slave] = conn
	ready := len(m.slaveConns) >= len(m.expectedSlaves)
	jobs := m.jobs
	order := append([]string(nil), m.slaveOrder...)
	conns := make(map[string]*websocket.Conn, len(m.slaveConns))
	for k, v := range m.slaveConns {
		conns[k] = v
	}
	m.mu.Unlock()

	m.logger.Info("master: slave registered", zap.String("slave", frame.Slave), zap.Int("registered", len(conns)), zap.Int("expected", len(m.expectedSlaves)))

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
		group := groups[i]
		descriptors := make([]json.RawMessage, 0, len(group))
		for _, c := range group {
			d, err := c.ToDescriptor()
			if err != nil {
				m.logger.Error("master: encode job descriptor", zap.Error(err))
				continue
			}
			raw, err := json.Marshal(d)
			if err != nil {
				m.logger.Error("master: marshal job descriptor", zap.Error(err))
				continue
			}
			descriptors = append(descriptors, raw)
		}
		workerNum := len(group)
		if workerNum == 0 {
			workerNum = 1
		}
		out := protocol.MasterFrame{Command: protocol.CommandInit, WorkerNum: &workerNum, WorkerWeights: m.workerWeights, Jobs: descriptors}
		if err := conns[slaveIP].WriteJSON(out); err != nil {
			m.logger.Error("master: write init to slave", zap.String("slave", slaveIP), zap.Error(err))
		}
	}
	close(m.allSlavesReadyCh)
}

func (m *Master) onSlaveReport(frame protocol.SlaveFrame) {
	result, err := analysable.FromJSON(frame.Result)
	if err != nil {
		m.logger.Error("master: decode slave result", zap.String("slave", frame.Slave), zap.Error(err))
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
	controllerConn := m.controllerConn
	m.mu.Unlock()

	if !allReported {
		return
	}

	merged, err := analysable.FromResults("master", values)
	if err != nil {
		m.logger.Error("master: merge slave results", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.results["master"] = merged
	m.mu.Unlock()

	if controllerConn == nil {
		return
	}
	encoded, err := merged.ToJSON()
	if err != nil {
		m.logger.Error("master: encode merged result", zap.Error(err))
		return
	}
	out := protocol.MasterFrame{Command: protocol.CommandReport, Result: encoded}
	if err := controllerConn.WriteJSON(out); err != nil {
		m.logger.Error("master: push report to controller", zap.Error(err))
	}
}

func (m *Master) handleMaster(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("master: controller upgrade failed", zap.Error(err))
		return
	}

	var frame protocol.MasterFrame
	if err := conn.ReadJSON(&frame); err != nil {
		m.logger.Warn("master: bad controller frame", zap.Error(err))
		conn.Close()
		return
	}
	if frame.Command != protocol.CommandStop {
		m.logger.Warn("master: expected stop from controller", zap.String("command", frame.Command))
		conn.Close()
		return
	}

	m.mu.Lock()
	m.controllerConn = conn
	conns := make([]*websocket.Conn, 0, len(m.slaveConns))
	for _, c := range m.slaveConns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(protocol.MasterFrame{Command: protocol.CommandStop}); err != nil {
			m.logger.Error("master: broadcast stop to slave", zap.Error(err))
		}
	}
}

// Stop opens a transient /master/ client connection, sends stop, awaits
// the aggregate report, and shuts down the control server (spec.md
// §4.8's "terminates the server process", adapted to an in-process
// server shutdown — see DESIGN.md).
func (m *Master) Stop(ctx context.Context) (*analysable.Result, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/master/", m.port)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial master stop endpoint: %v", strawerr.ErrTransport, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.MasterFrame{Command: protocol.CommandStop}); err != nil {
		return nil, fmt.Errorf("%w: send stop: %v", strawerr.ErrTransport, err)
	}

	var frame protocol.MasterFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("%w: read aggregate report: %v", strawerr.ErrTransport, err)
	}
	if frame.Command != protocol.CommandReport {
		return nil, fmt.Errorf("%w: expected report, got %q", strawerr.ErrBadMessage, frame.Command)
	}

	result, err := analysable.FromJSON(frame.Result)
	if err != nil {
		return nil, err
	}

	if m.httpServer != nil {
		_ = m.httpServer.Shutdown(ctx)
	}
	return result, nil
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
