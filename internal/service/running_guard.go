package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard lets service_test reach the guard.
type ExportedRunningGuard = jobGuard

// jobGuard admits one run per ingest job id. A manual run, a cron tick and
// a file event for the same job collapse into whichever arrived first.
type jobGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	idle     chan struct{} // closed when inFlight drains; nil while idle
}

// TryLock claims jobID and reports whether it was free.
func (g *jobGuard) TryLock(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[jobID]; busy {
		return false
	}
	if g.inFlight == nil {
		g.inFlight = map[string]struct{}{}
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	g.inFlight[jobID] = struct{}{}
	return true
}

// Unlock releases jobID. Releasing an unclaimed id does nothing.
func (g *jobGuard) Unlock(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[jobID]; !busy {
		return
	}
	delete(g.inFlight, jobID)
	if len(g.inFlight) == 0 {
		close(g.idle)
		g.idle = nil
	}
}

func (g *jobGuard) Running(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[jobID]
	return busy
}

// WaitAll returns once no job is in flight or ctx is done.
func (g *jobGuard) WaitAll(ctx context.Context) {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	if idle == nil {
		return
	}
	select {
	case <-idle:
	case <-ctx.Done():
	}
}
