// Package lifecycle tracks the gateway's drain state. Readiness and the
// RPC channel consult it: a draining gateway answers 503 on /readyz and
// refuses new agent connections while existing ones finish.
package lifecycle

import (
	"sync"
	"time"
)

type Lifecycle struct {
	mu       sync.Mutex
	draining bool
	since    time.Time
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if draining && !l.draining {
		l.since = time.Now()
	}
	if !draining {
		l.since = time.Time{}
	}
	l.draining = draining
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainingSince reports when the current drain began. ok is false when
// the gateway is not draining.
func (l *Lifecycle) DrainingSince() (t time.Time, ok bool) {
	if l == nil {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.since, l.draining
}
