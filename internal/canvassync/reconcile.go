package canvassync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/frontmatter"
	"github.com/starford/tether/internal/metrics"
	"github.com/starford/tether/internal/parser"
)

// reconcile brings the canvas property of the edge's source document in line
// with the canvas. A recorded reference survives only if the source document
// still links to its target and an edge of this canvas leaving the source
// node still points at it. The edge's own target is then added. References
// that do not resolve, and the membership marker pointing at the canvas
// itself, are left alone. The edge is re-routed as well.
func (e *Engine) reconcile(ctx context.Context, c *canvas.Canvas, edgeID string) error {
	snap := c.Snapshot()
	edge, ok := snap.Edge(edgeID)
	if !ok {
		e.logger.Debug("sync: edge gone", slog.String("edge", edgeID))
		return nil
	}
	from, okFrom := snap.Node(edge.FromNode)
	to, okTo := snap.Node(edge.ToNode)
	if !okFrom || !okTo {
		e.logger.Debug("sync: edge endpoint missing", slog.String("edge", edgeID))
		return nil
	}

	var errs []error
	if err := e.reroute(c, edge, from, to); err != nil {
		errs = append(errs, err)
	}

	fromDoc, ok := e.textDocument(from)
	if !ok {
		return errors.Join(errs...)
	}
	canvasPath := c.Path()
	property := canvas.PropertyName(canvasPath)

	linked, err := e.host.ResolvedLinks(ctx, fromDoc)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	expected := make(map[string]struct{})
	for _, out := range snap.Outgoing(from.ID) {
		n, ok := snap.Node(out.ToNode)
		if !ok {
			continue
		}
		doc, ok := n.DocumentPath()
		if !ok {
			continue
		}
		if _, ok := linked[doc]; ok {
			expected[doc] = struct{}{}
		}
	}

	recorded, err := e.props.Values(ctx, fromDoc, property)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, ref := range recorded {
		target, ok := parser.WikilinkTarget(ref)
		if !ok {
			continue
		}
		resolved, ok := e.host.Resolve(target, fromDoc)
		if !ok || resolved == canvasPath {
			continue
		}
		if _, keep := expected[resolved]; keep {
			continue
		}
		if err := e.update(ctx, fromDoc, property, ref, frontmatter.Remove); err != nil {
			errs = append(errs, err)
		}
	}

	if toDoc, ok := to.DocumentPath(); ok && toDoc != canvasPath {
		if !e.host.Exists(toDoc) {
			e.logger.Debug("sync: target document missing", slog.String("doc", toDoc))
			return errors.Join(errs...)
		}
		ref := frontmatter.StripEmbed(e.host.CanonicalReference(toDoc, fromDoc))
		if err := e.update(ctx, fromDoc, property, ref, frontmatter.Add); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeEdgeReference removes the target document's reference from the
// source document's canvas property.
func (e *Engine) removeEdgeReference(c *canvas.Canvas, edge canvas.Edge) error {
	snap := c.Snapshot()
	from, okFrom := snap.Node(edge.FromNode)
	to, okTo := snap.Node(edge.ToNode)
	if !okFrom || !okTo {
		e.logger.Debug("sync: removed edge endpoint missing", slog.String("edge", edge.ID))
		return nil
	}
	fromDoc, ok := e.textDocument(from)
	if !ok {
		return nil
	}
	toDoc, ok := to.DocumentPath()
	canvasPath := c.Path()
	if !ok || toDoc == canvasPath {
		return nil
	}
	// Another edge between the same documents still justifies the reference.
	// edge itself is either gone from the snapshot or already reconnected.
	for _, other := range snap.Edges {
		a, okA := snap.Node(other.FromNode)
		b, okB := snap.Node(other.ToNode)
		if !okA || !okB {
			continue
		}
		if ad, _ := a.DocumentPath(); ad != fromDoc {
			continue
		}
		if bd, _ := b.DocumentPath(); bd == toDoc {
			return nil
		}
	}
	ref := frontmatter.StripEmbed(e.host.CanonicalReference(toDoc, fromDoc))
	return e.update(e.ctx, fromDoc, canvas.PropertyName(canvasPath), ref, frontmatter.Remove)
}

// updateMarker adds or removes the reference to the canvas itself on doc.
func (e *Engine) updateMarker(c *canvas.Canvas, doc string, action frontmatter.Action) error {
	canvasPath := c.Path()
	ref := frontmatter.StripEmbed(e.host.CanonicalReference(canvasPath, doc))
	return e.update(e.ctx, doc, canvas.PropertyName(canvasPath), ref, action)
}

// reroute corrects the sides of edge for the current node boxes and persists
// the canvas if they changed.
func (e *Engine) reroute(c *canvas.Canvas, edge canvas.Edge, from, to canvas.Node) error {
	if !from.HasGeometry() || !to.HasGeometry() {
		return nil
	}
	routed, changed := canvas.Reroute(edge, from, to)
	if !changed || !c.SetEdgeSides(edge.ID, routed.FromSide, routed.ToSide) {
		return nil
	}
	metrics.EdgesRerouted.Inc()
	e.logger.Debug("sync: edge rerouted",
		slog.String("edge", edge.ID),
		slog.String("from_side", string(routed.FromSide)),
		slog.String("to_side", string(routed.ToSide)))
	if e.persist == nil {
		return nil
	}
	return e.persist(c)
}

func (e *Engine) update(ctx context.Context, doc, property, ref string, action frontmatter.Action) error {
	changed, err := e.props.Update(ctx, doc, property, ref, action)
	if changed {
		metrics.PropertyWrites.WithLabelValues(action.String()).Inc()
	}
	return err
}

// textDocument returns the node's document if it is an existing text
// document.
func (e *Engine) textDocument(n canvas.Node) (string, bool) {
	doc, ok := n.DocumentPath()
	if !ok || !frontmatter.IsText(doc) {
		return "", false
	}
	if !e.host.Exists(doc) {
		e.logger.Debug("sync: document missing", slog.String("doc", doc))
		return "", false
	}
	return doc, true
}
