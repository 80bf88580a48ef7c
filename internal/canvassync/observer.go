package canvassync

import (
	"log/slog"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/frontmatter"
	"github.com/starford/tether/internal/metrics"
)

// OnNodeAdded records on the node's document that it belongs to the canvas.
func (e *Engine) OnNodeAdded(c *canvas.Canvas, n canvas.Node) {
	if _, ok := e.registered(c); !ok {
		return
	}
	doc, ok := e.textDocument(n)
	if !ok {
		return
	}
	err := e.updateMarker(c, doc, frontmatter.Add)
	e.observe("node_added", c, err, slog.String("doc", doc))
}

// OnNodeRemoved drops the membership marker from the node's document. It does
// nothing while the canvas is being cleared.
func (e *Engine) OnNodeRemoved(c *canvas.Canvas, n canvas.Node) {
	if _, ok := e.registered(c); !ok || c.Clearing() {
		return
	}
	doc, ok := e.textDocument(n)
	if !ok {
		return
	}
	err := e.updateMarker(c, doc, frontmatter.Remove)
	e.observe("node_removed", c, err, slog.String("doc", doc))
}

// OnEdgeAdded installs the edge update hook on first use and reconciles the
// new edge right away.
func (e *Engine) OnEdgeAdded(c *canvas.Canvas, edge canvas.Edge) {
	if _, ok := e.registered(c); !ok {
		return
	}
	if e.installEdgeHook(c) {
		e.logger.Debug("sync: edge hook installed", slog.String("canvas", c.Path()))
	}
	err := e.reconcile(e.ctx, c, edge.ID)
	e.observe("edge_added", c, err, slog.String("edge", edge.ID))
}

// OnEdgeUpdated schedules a debounced reconciliation of the edge. When the
// source endpoint was reconnected, the old source document loses its
// reference to the old target right away, since the reconciliation only
// looks at the new source.
func (e *Engine) OnEdgeUpdated(c *canvas.Canvas, prev, edge canvas.Edge) {
	reg, ok := e.registered(c)
	if !ok || !reg.edgeHook {
		return
	}
	if prev.FromNode != edge.FromNode {
		err := e.removeEdgeReference(c, prev)
		e.observe("edge_reconnected", c, err, slog.String("edge", edge.ID))
	}
	e.schedule(c, edge.ID)
}

// OnEdgeRemoved drops the reference to the target document from the source
// document's canvas property, unless another edge between the same two
// documents still justifies it. It does nothing while the canvas is being
// cleared.
func (e *Engine) OnEdgeRemoved(c *canvas.Canvas, edge canvas.Edge) {
	if _, ok := e.registered(c); !ok {
		return
	}
	e.cancelTimer(c, edge.ID)
	if c.Clearing() {
		return
	}
	err := e.removeEdgeReference(c, edge)
	e.observe("edge_removed", c, err, slog.String("edge", edge.ID))
}

// OnGraphCleared drops every pending reconciliation of the canvas.
func (e *Engine) OnGraphCleared(c *canvas.Canvas) {
	if _, ok := e.registered(c); !ok {
		return
	}
	e.cancelTimers(c)
	e.logger.Debug("sync: canvas cleared", slog.String("canvas", c.Path()))
}

// observe logs and counts the outcome of one reaction. Failures never
// propagate to the canvas.
func (e *Engine) observe(kind string, c *canvas.Canvas, err error, attrs ...any) {
	metrics.Observe(kind, err)
	if err == nil {
		return
	}
	args := append([]any{slog.String("kind", kind), slog.String("canvas", c.Path()), slog.String("error", err.Error())}, attrs...)
	e.logger.Warn("sync: reaction failed", args...)
}
