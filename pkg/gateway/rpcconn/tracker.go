// Package rpcconn tracks the open agent RPC connections so shutdown can
// notify them, wait for them to drain, and force-close the stragglers.
package rpcconn

import (
	"context"
	"sync"
)

// Notice is a shutdown-side message pushed to an open connection, sent on
// the wire as a failed rpc ack ({success:false, error, message}).
type Notice struct {
	Code    string
	Message string
}

// Conn is one registered agent connection.
type Conn interface {
	// Notify pushes a notice frame. Best effort; errors are the
	// caller's connection problem, not the tracker's.
	Notify(n Notice) error
	// Shutdown force-closes the connection.
	Shutdown()
}

type Tracker struct {
	mu      sync.Mutex
	conns   map[string]*entry
	drained sync.WaitGroup
}

type entry struct {
	conn Conn
	once sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]*entry)}
}

// Register tracks conn under id and returns its deregistration func,
// which is idempotent. Re-registering an id replaces (and deregisters)
// the previous entry without closing its connection.
func (t *Tracker) Register(id string, conn Conn) (deregister func()) {
	if t == nil {
		return func() {}
	}

	e := &entry{conn: conn}

	t.mu.Lock()
	if t.conns == nil {
		t.conns = make(map[string]*entry)
	}
	prev := t.conns[id]
	t.conns[id] = e
	t.drained.Add(1)
	t.mu.Unlock()

	if prev != nil {
		t.deregister(id, prev)
	}

	return func() { t.deregister(id, e) }
}

func (t *Tracker) deregister(id string, e *entry) {
	if t == nil || e == nil {
		return
	}
	e.once.Do(func() {
		t.mu.Lock()
		if t.conns != nil && t.conns[id] == e {
			delete(t.conns, id)
		}
		t.mu.Unlock()
		t.drained.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// NotifyAll pushes a notice to every open connection and reports how many
// were attempted.
func (t *Tracker) NotifyAll(n Notice) (sent int) {
	for _, conn := range t.snapshot() {
		_ = conn.Notify(n)
		sent++
	}
	return sent
}

// ShutdownAll force-closes every open connection.
func (t *Tracker) ShutdownAll() (closed int) {
	for _, conn := range t.snapshot() {
		conn.Shutdown()
		closed++
	}
	return closed
}

func (t *Tracker) snapshot() []Conn {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := make([]Conn, 0, len(t.conns))
	for _, e := range t.conns {
		if e == nil || e.conn == nil {
			continue
		}
		conns = append(conns, e.conn)
	}
	return conns
}

// Wait blocks until every registered connection has deregistered or ctx
// expires, reporting whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.drained.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.drained.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
