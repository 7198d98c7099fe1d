// Package drain lets the bridge finish in-flight protocol requests before the
// tool server is stopped.
package drain

import (
	"context"
	"net/http"
	"sync"
)

// Gate counts in-flight requests and refuses new ones once draining started.
type Gate struct {
	mu       sync.Mutex
	count    int64
	idle     chan struct{}
	draining bool
}

// NewGate returns an open gate with nothing in flight.
func NewGate() *Gate {
	idle := make(chan struct{})
	close(idle)
	return &Gate{idle: idle}
}

// Enter registers a request. It returns false when the gate is draining.
func (g *Gate) Enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	if g.count == 0 {
		g.idle = make(chan struct{})
	}
	g.count++
	return true
}

// Leave releases a request registered by Enter.
func (g *Gate) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 {
		return
	}
	g.count--
	if g.count == 0 {
		close(g.idle)
	}
}

// InFlight returns the number of registered requests.
func (g *Gate) InFlight() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Start marks the gate as draining.
func (g *Gate) Start() {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()
}

// Draining reports whether Start was called.
func (g *Gate) Draining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// Wait blocks until nothing is in flight or ctx ends.
func (g *Gate) Wait(ctx context.Context) bool {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

// Middleware tracks requests and answers 503 while draining.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enter() {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "bridge is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer g.Leave()
		next.ServeHTTP(w, r)
	})
}
