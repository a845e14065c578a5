package usecase

import (
	"sync"

	"PriceSim/internal/domain/models"
)

// Mailbox is an unbounded, ordered observation queue. Emit never blocks;
// consumers poll Drain or wait on Ready.
type Mailbox struct {
	mu     sync.Mutex
	items  []models.Observation
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1), done: make(chan struct{})}
}

func (m *Mailbox) Emit(o models.Observation) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, o)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Drain returns everything queued since the previous call, possibly nothing.
func (m *Mailbox) Drain() []models.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	return out
}

// Len is the number of undrained observations.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Ready is signalled after Emit; one signal may cover several observations.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }

// Done is closed once no more observations will arrive.
func (m *Mailbox) Done() <-chan struct{} { return m.done }

// Close stops intake. Queued observations stay drainable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
