// Package health serves liveness and readiness probes backed by periodic
// checks.
//
// Checks run in the background and the endpoints only report the latest
// state, so a probe never waits on a slow dependency. A check turns unhealthy
// after failureThreshold consecutive failures and recovers on the first
// success.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

const failureThreshold = 3

// CheckFunc is a health check function. It should return nil if the checked
// component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// Probe selects which endpoint a check contributes to.
type Probe int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Probe = iota
	// Readiness checks decide whether the process receives traffic.
	Readiness
)

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	fails   int
	healthy bool
	lastErr error
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err == nil {
		c.fails = 0
		c.healthy = true
		return
	}
	c.fails++
	if c.fails >= failureThreshold {
		c.healthy = false
	}
}

// status returns "ok" or the message of the error that made the check
// unhealthy.
func (c *check) status() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy {
		return "ok", true
	}
	if c.lastErr == nil {
		return "unhealthy", false
	}
	return c.lastErr.Error(), false
}

// Health owns the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Probe][]*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Probe][]*check)}
}

// Add registers a check for probe. Register checks before Start.
func (h *Health) Add(probe Probe, name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[probe] = append(h.checks[probe], &check{
		name:    name,
		timeout: timeout,
		fn:      fn,
		healthy: true,
	})
}

// AddLivenessCheck registers a check such as goroutine count or GC pauses.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Liveness, name, timeout, fn)
}

// AddReadinessCheck registers a check such as PostgreSQL or Redis
// connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Readiness, name, timeout, fn)
}

func (h *Health) snapshot(probe Probe) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*check(nil), h.checks[probe]...)
}

// Start runs every registered check once immediately and then every
// interval until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the background checks and waits for them to return. It is
// safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// SetReady flips the manual readiness switch. It is set after startup and
// cleared when shutdown begins so traffic drains before the server stops.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(Readiness) {
		if _, ok := c.status(); !ok {
			return false
		}
	}
	return true
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.report(w, h.snapshot(Liveness), true)
}

// ReadyEndpoint serves /readyz. It fails while the readiness switch is off
// even if every check passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.report(w, h.snapshot(Readiness), h.ready.Load())
}

// report writes {"status":"ok"|"unhealthy","checks":{name:"ok"|error}} with
// check names sorted. Any unhealthy check or a cleared switch yields 503.
func (h *Health) report(w http.ResponseWriter, checks []*check, switchOn bool) {
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	healthy := switchOn
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("checks")
	e.ObjStart()
	for _, c := range checks {
		msg, ok := c.status()
		healthy = healthy && ok
		e.FieldStart(c.name)
		e.Str(msg)
	}
	e.ObjEnd()
	e.FieldStart("status")
	code := http.StatusOK
	switch {
	case healthy:
		e.Str("ok")
	case !switchOn:
		code = http.StatusServiceUnavailable
		e.Str("not ready")
	default:
		code = http.StatusServiceUnavailable
		e.Str("unhealthy")
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
