package canvassync

import (
	"log/slog"
	"time"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/metrics"
)

// schedule arranges for the edge to be reconciled once no further update
// arrived for the debounce period. A pending run for the same edge is
// replaced.
func (e *Engine) schedule(c *canvas.Canvas, edgeID string) {
	key := timerKey{c: c, edgeID: edgeID}

	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	if p, ok := e.timers[key]; ok {
		p.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timers[key] = pending{
		timer: time.AfterFunc(e.debounce, func() { e.fire(key, gen) }),
		gen:   gen,
	}
	e.mu.Unlock()
	e.setPendingGauge()
}

// fire runs a scheduled reconciliation unless it was replaced or cancelled
// in the meantime.
func (e *Engine) fire(key timerKey, gen uint64) {
	e.mu.Lock()
	p, ok := e.timers[key]
	if !ok || p.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.timers, key)
	_, attached := e.graphs[key.c]
	e.mu.Unlock()
	e.setPendingGauge()

	if !attached || e.ctx.Err() != nil {
		return
	}
	key.c.Exclusive(func() {
		err := e.reconcile(e.ctx, key.c, key.edgeID)
		e.observe("edge_updated", key.c, err, slog.String("edge", key.edgeID))
	})
}

func (e *Engine) cancelTimer(c *canvas.Canvas, edgeID string) {
	key := timerKey{c: c, edgeID: edgeID}
	e.mu.Lock()
	if p, ok := e.timers[key]; ok {
		p.timer.Stop()
		delete(e.timers, key)
	}
	e.mu.Unlock()
	e.setPendingGauge()
}

func (e *Engine) cancelTimers(c *canvas.Canvas) {
	e.mu.Lock()
	for k, p := range e.timers {
		if k.c == c {
			p.timer.Stop()
			delete(e.timers, k)
		}
	}
	e.mu.Unlock()
	e.setPendingGauge()
}

// Pending returns the number of scheduled reconciliations.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *Engine) setPendingGauge() {
	metrics.PendingReconciles.Set(float64(e.Pending()))
}
