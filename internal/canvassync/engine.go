// Package canvassync keeps document frontmatter in step with the canvases the
// documents appear on. The Engine observes live canvases, reconciles each
// edge against the link index and reacts to canvas files being renamed or
// deleted.
package canvassync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/frontmatter"
)

// DefaultDebounce is the quiet period after the last update of an edge
// before it is reconciled.
const DefaultDebounce = time.Second

// Host is the vault access the engine needs.
type Host interface {
	ResolvedLinks(ctx context.Context, path string) (map[string]int, error)
	Resolve(link, from string) (string, bool)
	CanonicalReference(target, from string) string
	Exists(path string) bool
	CanvasMembers(canvasPath string) ([]string, error)
	Canvases() ([]string, error)
}

// Properties edits the canvas-scoped properties of documents.
type Properties interface {
	Update(ctx context.Context, path, property, ref string, action frontmatter.Action) (bool, error)
	RenameKey(ctx context.Context, path, oldKey, newKey string) (bool, error)
	DeleteKey(ctx context.Context, path, key string) (bool, error)
	Values(ctx context.Context, path, key string) ([]string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce sets the quiet period for edge update reconciliation.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithPersist registers fn to save a canvas after the engine re-routed one of
// its edges.
func WithPersist(fn func(c *canvas.Canvas) error) Option {
	return func(e *Engine) { e.persist = fn }
}

// registration records what the engine installed on one live canvas.
type registration struct {
	edgeHook bool
}

type timerKey struct {
	c      *canvas.Canvas
	edgeID string
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Engine reacts to canvas mutations and canvas file lifecycle events.
// It implements canvas.Observer.
type Engine struct {
	host     Host
	props    Properties
	logger   *slog.Logger
	debounce time.Duration
	persist  func(c *canvas.Canvas) error

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	graphs map[*canvas.Canvas]*registration
	timers map[timerKey]pending
	gen    uint64
}

var _ canvas.Observer = (*Engine)(nil)

// New creates an engine.
func New(host Host, props Properties, logger *slog.Logger, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		host:     host,
		props:    props,
		logger:   logger,
		debounce: DefaultDebounce,
		ctx:      ctx,
		cancel:   cancel,
		graphs:   make(map[*canvas.Canvas]*registration),
		timers:   make(map[timerKey]pending),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Attach starts observing c. Attaching a canvas twice is a no-op. The edge
// update hook is installed right away when c already has edges, otherwise
// by the first edge added.
func (e *Engine) Attach(c *canvas.Canvas) {
	e.mu.Lock()
	if _, ok := e.graphs[c]; ok {
		e.mu.Unlock()
		return
	}
	e.graphs[c] = &registration{edgeHook: len(c.Snapshot().Edges) > 0}
	e.mu.Unlock()
	c.Observe(e)
	e.logger.Debug("sync: attached", slog.String("canvas", c.Path()))
}

// Detach stops observing c and drops its pending reconciliations.
func (e *Engine) Detach(c *canvas.Canvas) {
	c.Unobserve(e)
	e.mu.Lock()
	delete(e.graphs, c)
	e.mu.Unlock()
	e.cancelTimers(c)
}

// Attached reports whether c is observed and whether its edge update hook
// is installed.
func (e *Engine) Attached(c *canvas.Canvas) (attached, edgeHook bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.graphs[c]
	if !ok {
		return false, false
	}
	return true, reg.edgeHook
}

// Close cancels every pending reconciliation and in-flight reaction.
func (e *Engine) Close() {
	e.cancel()
	e.mu.Lock()
	for k, p := range e.timers {
		p.timer.Stop()
		delete(e.timers, k)
	}
	e.mu.Unlock()
	e.setPendingGauge()
}

// installEdgeHook marks the edge update hook of c as installed. It reports
// whether this call installed it.
func (e *Engine) installEdgeHook(c *canvas.Canvas) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.graphs[c]
	if !ok || reg.edgeHook {
		return false
	}
	reg.edgeHook = true
	return true
}

func (e *Engine) registered(c *canvas.Canvas) (*registration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.graphs[c]
	if !ok {
		return nil, false
	}
	cp := *reg
	return &cp, true
}
