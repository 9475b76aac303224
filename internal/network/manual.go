package network

import "sync"

// Manual is an Observer whose state is set by the caller.
//
// Reports reach subscribers in the order Set was called, also when Set
// is called from several goroutines or from inside a subscriber. The
// goroutine that finds no delivery running drains the backlog; any
// other caller only queues its report and returns.
type Manual struct {
	mu         sync.Mutex
	state      State
	nextID     int
	subs       map[int]func(State)
	backlog    []delivery
	delivering bool
}

// delivery is a report and the subscribers it goes to, fixed when it
// was queued.
type delivery struct {
	state State
	to    []func(State)
}

// NewManual creates a Manual observer reporting initial.
func NewManual(initial State) *Manual {
	return &Manual{
		state: initial,
		subs:  make(map[int]func(State)),
	}
}

// Subscribe implements Observer. If another goroutine is delivering, or
// Subscribe is called from a subscriber, the current state is queued
// behind the pending reports and arrives once they have been delivered.
func (m *Manual) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.backlog = append(m.backlog, delivery{state: m.state, to: []func(State){fn}})
	m.drainLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Set reports state to every subscriber.
func (m *Manual) Set(state State) {
	m.mu.Lock()
	m.state = state
	to := make([]func(State), 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			to = append(to, fn)
		}
	}
	m.backlog = append(m.backlog, delivery{state: state, to: to})
	m.drainLocked()
}

// drainLocked delivers the backlog unless a delivery is already
// running. It is called with mu held and returns with mu released;
// subscribers run without the lock.
func (m *Manual) drainLocked() {
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	defer func() {
		// a panicking subscriber drops the rest of the backlog
		m.backlog = nil
		m.delivering = false
		m.mu.Unlock()
	}()
	for len(m.backlog) > 0 {
		d := m.backlog[0]
		m.backlog = m.backlog[1:]
		m.deliver(d)
	}
}

// deliver runs d's subscribers without the lock and takes it back.
func (m *Manual) deliver(d delivery) {
	m.mu.Unlock()
	defer m.mu.Lock()
	for _, fn := range d.to {
		fn(d.state)
	}
}

// State returns the last reported state.
func (m *Manual) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
