// Package session implements the per-request record (Session) and its
// single-slot container (SessionManager) that every Job drives (spec.md
// §3, §4.2).
package session

import (
	"fmt"
	"sync"

	"straw/internal/straw/analysable"
	"straw/internal/straw/id"
	"straw/internal/straw/protocol"
	"straw/internal/straw/strawerr"
)

// Session records one request attempt: the protocol and URL it targeted,
// and the status code it resolved to. After Analyse, TotalRequest is
// always 1 and SuccessRequest is 1 iff StatusCode == 200.
type Session struct {
	*analysable.Base
	protocol   protocol.Protocol
	url        string
	statusCode int
}

func newSession(protocol protocol.Protocol, url string) *Session {
	return &Session{
		Base:     analysable.NewBase(id.New(), nil),
		protocol: protocol,
		url:      url,
	}
}

func (s *Session) Protocol() protocol.Protocol { return s.protocol }
func (s *Session) URL() string                 { return s.url }
func (s *Session) StatusCode() int             { return s.statusCode }

// close stops the session with the given status code, records it as one
// counted request (successful iff code == 200), and analyses it.
func (s *Session) close(code int) error {
	s.statusCode = code
	if err := s.Base.Stop(); err != nil {
		return err
	}
	success := int64(0)
	if code == 200 {
		success = 1
	}
	s.Base.AddCounts(1, success)
	return s.Base.Analyse()
}

// Manager is an Analysable container with a single open slot and an
// append-only history list. Exactly one Session may be open at a time.
type Manager struct {
	*analysable.Base
	container *analysable.Container[*Session]

	mu   sync.Mutex
	open *Session
}

// NewManager constructs an empty, started-on-demand SessionManager.
func NewManager() *Manager {
	container := &analysable.Container[*Session]{}
	return &Manager{
		Base:      analysable.NewBase(id.New(), container),
		container: container,
	}
}

// Open creates and starts a new Session in the open slot. Fails if a
// session is already open.
func (m *Manager) Open(proto protocol.Protocol, url string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open != nil {
		return nil, fmt.Errorf("%w: a session is already open", strawerr.ErrWrongStatus)
	}
	s := newSession(proto, url)
	if err := s.Base.Start(); err != nil {
		return nil, err
	}
	m.open = s
	return s, nil
}

// Close stops the open session with the given status code, appends it to
// history, and clears the slot. A second call with nothing open is a
// no-op, matching spec.md §4.2's idempotent-double-close requirement.
func (m *Manager) Close(code int) error {
	m.mu.Lock()
	s := m.open
	m.open = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.close(code); err != nil {
		return err
	}
	m.container.Add(s)
	return nil
}

// History returns the append-only list of closed sessions.
func (m *Manager) History() []*Session {
	return m.container.Items()
}
