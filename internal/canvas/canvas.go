package canvas

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/geometry"
)

// Observer reacts to mutations of a live canvas. Callbacks run after the
// mutation has been applied, one at a time per canvas, in mutation order.
// An observer must not call mutating Canvas methods that notify observers.
type Observer interface {
	OnNodeAdded(c *Canvas, n Node)
	OnNodeRemoved(c *Canvas, n Node)
	OnEdgeAdded(c *Canvas, e Edge)
	OnEdgeRemoved(c *Canvas, e Edge)
	// OnEdgeUpdated receives the edge before and after the update. Both are
	// the same value when the edge only needs re-routing.
	OnEdgeUpdated(c *Canvas, prev, e Edge)
	OnGraphCleared(c *Canvas)
}

// Canvas is the live graph of one open canvas file.
type Canvas struct {
	mu        sync.RWMutex
	path      string
	data      Data
	selection map[string]struct{}
	observers []Observer

	// dispatchMu serialises notifying mutations, their observer callbacks and
	// exclusive sections. Lock order is dispatchMu, then mu; mu is never held
	// while an observer runs.
	dispatchMu sync.Mutex
	clearing   atomic.Bool
}

// New returns a live canvas for the file at path holding d.
func New(path string, d Data) *Canvas {
	if d.Nodes == nil {
		d.Nodes = []Node{}
	}
	if d.Edges == nil {
		d.Edges = []Edge{}
	}
	return &Canvas{
		path:      path,
		data:      d,
		selection: make(map[string]struct{}),
	}
}

// Path returns the vault path of the canvas file.
func (c *Canvas) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetPath records that the canvas file was renamed.
func (c *Canvas) SetPath(p string) {
	c.mu.Lock()
	c.path = p
	c.mu.Unlock()
}

// Clearing reports whether Clear is in progress.
func (c *Canvas) Clearing() bool {
	return c.clearing.Load()
}

// Observe attaches o. Attaching the same observer twice is a no-op.
func (c *Canvas) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.observers, o) {
		return
	}
	c.observers = append(c.observers, o)
}

// Unobserve detaches o.
func (c *Canvas) Unobserve(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = slices.DeleteFunc(c.observers, func(x Observer) bool { return x == o })
}

// Snapshot returns a copy of the current graph state.
func (c *Canvas) Snapshot() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// SetData replaces the whole graph state without notifying observers.
// Selection entries for nodes that no longer exist are dropped.
func (c *Canvas) SetData(d Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = d.Clone()
	for id := range c.selection {
		if _, ok := c.data.Node(id); !ok {
			delete(c.selection, id)
		}
	}
}

// Exclusive runs fn while no observer callback of this canvas is running.
func (c *Canvas) Exclusive(fn func()) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	fn()
}

// Select replaces the selection. Unknown node ids are ignored.
func (c *Canvas) Select(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.data.Node(id); ok {
			c.selection[id] = struct{}{}
		}
	}
}

// SelectedNodes returns the selected nodes in canvas order.
func (c *Canvas) SelectedNodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Node
	for _, n := range c.data.Nodes {
		if _, ok := c.selection[n.ID]; ok {
			out = append(out, n)
		}
	}
	return out
}

// AddNode inserts n and notifies observers.
func (c *Canvas) AddNode(n Node) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if n.ID == "" {
		n.ID = NewID()
	}
	if _, ok := c.data.Node(n.ID); ok {
		c.mu.Unlock()
		return fmt.Errorf("canvas: node %s: %w", n.ID, apperr.ErrAlreadyExists)
	}
	c.data.Nodes = append(c.data.Nodes, n)
	c.notifyLocked(func(o Observer) { o.OnNodeAdded(c, n) })
	return nil
}

// RemoveNode deletes the node and every edge touching it. The edges are
// removed and reported first, while the node is still on the canvas, so
// observers can still look up both endpoints; then the node is removed and
// reported.
func (c *Canvas) RemoveNode(id string) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if _, ok := c.data.Node(id); !ok {
		c.mu.Unlock()
		return fmt.Errorf("canvas: node %s: %w", id, apperr.ErrNotFound)
	}
	if dropped := c.dropEdgesLocked(id); len(dropped) > 0 {
		c.notifyLocked(func(o Observer) {
			for _, e := range dropped {
				o.OnEdgeRemoved(c, e)
			}
		})
		c.mu.Lock()
	}

	n, ok := c.data.Node(id)
	if !ok {
		// Replaced by SetData while the edge removals were reported.
		c.mu.Unlock()
		return nil
	}
	late := c.dropEdgesLocked(id)
	c.data.Nodes = slices.DeleteFunc(c.data.Nodes, func(x Node) bool { return x.ID == id })
	delete(c.selection, id)
	c.notifyLocked(func(o Observer) {
		for _, e := range late {
			o.OnEdgeRemoved(c, e)
		}
		o.OnNodeRemoved(c, n)
	})
	return nil
}

func (c *Canvas) dropEdgesLocked(nodeID string) []Edge {
	var dropped []Edge
	c.data.Edges = slices.DeleteFunc(c.data.Edges, func(e Edge) bool {
		if e.FromNode == nodeID || e.ToNode == nodeID {
			dropped = append(dropped, e)
			return true
		}
		return false
	})
	return dropped
}

// MoveNode repositions a node. Every edge attached to it is reported as
// updated, as the host does while a node is dragged.
func (c *Canvas) MoveNode(id string, x, y float64) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	idx := slices.IndexFunc(c.data.Nodes, func(n Node) bool { return n.ID == id })
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("canvas: node %s: %w", id, apperr.ErrNotFound)
	}
	c.data.Nodes[idx].X = x
	c.data.Nodes[idx].Y = y
	var touched []Edge
	for _, e := range c.data.Edges {
		if e.FromNode == id || e.ToNode == id {
			touched = append(touched, e)
		}
	}
	c.notifyLocked(func(o Observer) {
		for _, e := range touched {
			o.OnEdgeUpdated(c, e, e)
		}
	})
	return nil
}

// AddEdge inserts e and notifies observers. A missing id is generated and
// missing sides are routed from the node boxes.
func (c *Canvas) AddEdge(e Edge) (Edge, error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if e.ID == "" {
		e.ID = NewID()
	}
	if _, ok := c.data.Edge(e.ID); ok {
		c.mu.Unlock()
		return Edge{}, fmt.Errorf("canvas: edge %s: %w", e.ID, apperr.ErrAlreadyExists)
	}
	from, to, err := c.endpointsLocked(e)
	if err != nil {
		c.mu.Unlock()
		return Edge{}, err
	}
	if !e.FromSide.Valid() || !e.ToSide.Valid() {
		e.FromSide, e.ToSide = geometry.Route(from.Box(), to.Box())
	}
	c.data.Edges = append(c.data.Edges, e)
	c.notifyLocked(func(o Observer) { o.OnEdgeAdded(c, e) })
	return e, nil
}

// AddEdges appends edges in one batch and reports each to observers. The
// batch is all or nothing: an unknown endpoint or a duplicate id rejects it.
func (c *Canvas) AddEdges(edges []Edge) ([]Edge, error) {
	if len(edges) == 0 {
		return nil, nil
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	ids := make(map[string]struct{}, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.ID == "" {
			e.ID = NewID()
		}
		_, dup := ids[e.ID]
		if _, exists := c.data.Edge(e.ID); exists || dup {
			c.mu.Unlock()
			return nil, fmt.Errorf("canvas: edge %s: %w", e.ID, apperr.ErrAlreadyExists)
		}
		ids[e.ID] = struct{}{}
		from, to, err := c.endpointsLocked(e)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if !e.FromSide.Valid() || !e.ToSide.Valid() {
			e.FromSide, e.ToSide = geometry.Route(from.Box(), to.Box())
		}
		out = append(out, e)
	}
	c.data.Edges = append(c.data.Edges, out...)
	c.notifyLocked(func(o Observer) {
		for _, e := range out {
			o.OnEdgeAdded(c, e)
		}
	})
	return out, nil
}

// UpdateEdge replaces the edge with the same id (for example after an
// endpoint was reconnected) and notifies observers.
func (c *Canvas) UpdateEdge(e Edge) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	idx := slices.IndexFunc(c.data.Edges, func(x Edge) bool { return x.ID == e.ID })
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("canvas: edge %s: %w", e.ID, apperr.ErrNotFound)
	}
	if _, _, err := c.endpointsLocked(e); err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.data.Edges[idx]
	c.data.Edges[idx] = e
	c.notifyLocked(func(o Observer) { o.OnEdgeUpdated(c, prev, e) })
	return nil
}

// RemoveEdge deletes the edge and notifies observers.
func (c *Canvas) RemoveEdge(id string) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	e, ok := c.data.Edge(id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("canvas: edge %s: %w", id, apperr.ErrNotFound)
	}
	c.data.Edges = slices.DeleteFunc(c.data.Edges, func(x Edge) bool { return x.ID == id })
	c.notifyLocked(func(o Observer) { o.OnEdgeRemoved(c, e) })
	return nil
}

// SetEdgeSides overwrites the attachment sides of an edge without notifying
// observers. It reports whether anything changed.
func (c *Canvas) SetEdgeSides(id string, from, to geometry.Side) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.data.Edges {
		e := &c.data.Edges[i]
		if e.ID != id {
			continue
		}
		if e.FromSide == from && e.ToSide == to {
			return false
		}
		e.FromSide, e.ToSide = from, to
		return true
	}
	return false
}

// Clear removes every node and edge. The clearing flag is raised for the
// whole teardown, including observer callbacks, and lowered on every exit
// path.
func (c *Canvas) Clear() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.clearing.Store(true)
	defer c.clearing.Store(false)

	c.mu.Lock()
	edges, nodes := c.data.Edges, c.data.Nodes
	c.data = Data{Nodes: []Node{}, Edges: []Edge{}}
	c.selection = make(map[string]struct{})
	c.notifyLocked(func(o Observer) {
		for _, e := range edges {
			o.OnEdgeRemoved(c, e)
		}
		for _, n := range nodes {
			o.OnNodeRemoved(c, n)
		}
		o.OnGraphCleared(c)
	})
}

func (c *Canvas) endpointsLocked(e Edge) (Node, Node, error) {
	from, ok := c.data.Node(e.FromNode)
	if !ok {
		return Node{}, Node{}, fmt.Errorf("canvas: from node %s: %w", e.FromNode, apperr.ErrNotFound)
	}
	to, ok := c.data.Node(e.ToNode)
	if !ok {
		return Node{}, Node{}, fmt.Errorf("canvas: to node %s: %w", e.ToNode, apperr.ErrNotFound)
	}
	return from, to, nil
}

// notifyLocked must be called with both dispatchMu and c.mu held. It
// releases c.mu and runs fn for every observer; dispatchMu stays with the
// caller, so callbacks keep the order of the mutations that caused them and
// may read the canvas.
func (c *Canvas) notifyLocked(fn func(Observer)) {
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}
