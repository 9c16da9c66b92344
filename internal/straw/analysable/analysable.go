// Package analysable implements the generic lifecycle/roll-up contract
// (spec.md §4.1) shared by Session, Job, Worker, WorkerManager, Slave and
// Master: a strict four-state machine plus hierarchical summation of
// (total, success, latency, start, stop) through an optional child
// manager.
package analysable

import (
	"fmt"
	"sync"

	"straw/internal/straw/clock"
	"straw/internal/straw/strawerr"
)

// Analysable is the contract every tier implements. Counters are readable
// only once Status() == Analysed; reading earlier returns ErrWrongStatus.
type Analysable interface {
	ID() string
	Status() CoreStatus
	Start() error
	Stop() error
	Analyse() error
	TotalRequest() (int64, error)
	SuccessRequest() (int64, error)
	Latency() (int64, error)
	QPS() (int64, error)
	StartTime() (int64, error)
	StopTime() (int64, error)
	Result() *Result
}

// Manager is a non-owning view over a set of child Analysables. Stop and
// Analyse cascade into these children; the back-reference in the other
// direction (child -> manager) is never followed during traversal, so the
// apparent cycle in the original design is in fact a tree (spec.md §9).
type Manager interface {
	Children() []Analysable
}

// Container is a concrete, generic, append-only Manager implementation
// used by SessionManager and by the worker subprocess's job list.
type Container[T Analysable] struct {
	mu    sync.Mutex
	items []T
}

// Add appends obj to the container. Order of iteration below is insertion
// order, matching spec.md §4.1's cascade-order requirement.
func (c *Container[T]) Add(obj T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, obj)
}

// Items returns a snapshot slice of the typed children.
func (c *Container[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len reports the number of children currently held.
func (c *Container[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Children implements Manager by erasing T to the Analysable interface.
func (c *Container[T]) Children() []Analysable {
	items := c.Items()
	out := make([]Analysable, len(items))
	for i, it := range items {
		out[i] = Analysable(it)
	}
	return out
}

// Base implements the Analysable contract's bookkeeping; every concrete
// tier embeds it and (optionally) wires a Manager for roll-up.
type Base struct {
	mu             sync.Mutex
	id             string
	status         CoreStatus
	stopwatch      clock.Stopwatch
	totalRequest   int64
	successRequest int64
	latency        int64
	manager        Manager
	result         *Result
}

// NewBase constructs a Base in state Init. manager may be nil for leaf
// Analysables (Session).
func NewBase(id string, manager Manager) *Base {
	return &Base{id: id, status: Init, manager: manager}
}

func (b *Base) ID() string { return b.id }

func (b *Base) Status() CoreStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Start transitions Init -> Started. Requires Init.
func (b *Base) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Init {
		return fmt.Errorf("%w: %s can only be started at INIT, was %s", strawerr.ErrWrongStatus, b.id, b.status)
	}
	b.status = Started
	b.stopwatch.Start()
	return nil
}

// Stop transitions Started -> Stopped, first cascading into any
// not-yet-stopped children. Requires Started.
func (b *Base) Stop() error {
	b.mu.Lock()
	if b.status != Started {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s can only be stopped at STARTED, was %s", strawerr.ErrWrongStatus, b.id, b.status)
	}
	b.status = Stopped
	b.latency = b.stopwatch.Elapsed()
	manager := b.manager
	b.mu.Unlock()

	if manager != nil {
		for _, child := range manager.Children() {
			if child.Status() != Stopped {
				_ = child.Stop()
			}
		}
	}
	return nil
}

// Analyse transitions Stopped -> Analysed, recursing into children first
// and summing their total/success counters into self. latency is always
// self's own elapsed wall time. Idempotent after first completion.
func (b *Base) Analyse() error {
	b.mu.Lock()
	if b.status == Analysed {
		b.mu.Unlock()
		return nil
	}
	if b.status != Stopped {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s can only be analysed at STOPPED, was %s", strawerr.ErrWrongStatus, b.id, b.status)
	}
	b.status = Analysed
	manager := b.manager
	b.mu.Unlock()

	if manager != nil {
		var total, success int64
		for _, child := range manager.Children() {
			if err := child.Analyse(); err != nil {
				return err
			}
			t, err := child.TotalRequest()
			if err != nil {
				return err
			}
			s, err := child.SuccessRequest()
			if err != nil {
				return err
			}
			total += t
			success += s
		}
		b.mu.Lock()
		b.totalRequest += total
		b.successRequest += success
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.result == nil {
		start := b.stopwatch.StartTimeMillis()
		b.result = &Result{
			ID:             b.id,
			TotalRequest:   b.totalRequest,
			SuccessRequest: b.successRequest,
			Latency:        b.latency,
			QPS:            qps(b.successRequest, b.latency),
			StartTime:      start,
			StopTime:       start + b.latency,
		}
	}
	return nil
}

// AddCounts lets a leaf Analysable (Session) record its own request
// outcome directly, bypassing the child-manager roll-up path.
func (b *Base) AddCounts(total, success int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequest += total
	b.successRequest += success
}

func (b *Base) TotalRequest() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Analysed {
		return 0, fmt.Errorf("%w: total_request is not computed", strawerr.ErrWrongStatus)
	}
	return b.totalRequest, nil
}

func (b *Base) SuccessRequest() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Analysed {
		return 0, fmt.Errorf("%w: success_request is not computed", strawerr.ErrWrongStatus)
	}
	return b.successRequest, nil
}

func (b *Base) Latency() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Analysed {
		return 0, fmt.Errorf("%w: latency is not computed", strawerr.ErrWrongStatus)
	}
	return b.latency, nil
}

func (b *Base) QPS() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Analysed {
		return 0, fmt.Errorf("%w: qps is not computed", strawerr.ErrWrongStatus)
	}
	return qps(b.successRequest, b.latency), nil
}

func (b *Base) StartTime() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != Analysed {
		return 0, fmt.Errorf("%w: start_time is not computed", strawerr.ErrWrongStatus)
	}
	return b.stopwatch.StartTimeMillis(), nil
}

func (b *Base) StopTime() (int64, error) {
	start, err := b.StartTime()
	if err != nil {
		return 0, err
	}
	latency, err := b.Latency()
	if err != nil {
		return 0, err
	}
	return start + latency, nil
}

// Result returns the cached AnalyseResult snapshot, or nil before Analyse
// has completed.
func (b *Base) Result() *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

func qps(success, latency int64) int64 {
	if latency < 1 {
		latency = 1
	}
	return success * 1000 / latency
}
