// Package linker turns links between documents into canvas edges.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/geometry"
	"github.com/starford/tether/internal/metrics"
)

// Links reports the resolved outgoing links of a document.
type Links interface {
	ResolvedLinks(ctx context.Context, path string) (map[string]int, error)
}

// Result summarises one LinkSelection run.
type Result struct {
	Created  int `json:"created"`
	Rerouted int `json:"rerouted"`
}

// Linker connects selected canvas nodes whose documents link to each other.
type Linker struct {
	links   Links
	persist func(c *canvas.Canvas) error
	logger  *slog.Logger
}

// New creates a Linker. persist saves the canvas after a run changed it; it
// may be nil.
func New(links Links, persist func(c *canvas.Canvas) error, logger *slog.Logger) *Linker {
	return &Linker{links: links, persist: persist, logger: logger}
}

// LinkSelection creates an edge for every ordered pair of selected document
// nodes where the source document links to the target document and no edge
// in that direction exists yet. New edges are added in one batch. Every
// edge between two selected nodes is then re-routed, and the canvas is
// persisted once. A pair whose nodes lack geometry is skipped; a failure to
// read one document's links skips that document only.
func (l *Linker) LinkSelection(ctx context.Context, c *canvas.Canvas) (Result, error) {
	selected := c.SelectedNodes()
	if len(selected) == 0 {
		return Result{}, nil
	}

	byPath := make(map[string]canvas.Node, len(selected))
	for _, n := range selected {
		if p, ok := n.DocumentPath(); ok {
			if _, dup := byPath[p]; !dup {
				byPath[p] = n
			}
		}
	}

	keys := canvas.NewEdgeKeys(c.Snapshot().Edges)
	var synth []canvas.Edge
	for _, src := range selected {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		srcPath, ok := src.DocumentPath()
		if !ok || byPath[srcPath].ID != src.ID {
			continue
		}
		linked, err := l.links.ResolvedLinks(ctx, srcPath)
		if err != nil {
			l.logger.Warn("linker: links failed", slog.String("path", srcPath), slog.String("error", err.Error()))
			continue
		}
		for _, targetPath := range sortedKeys(linked) {
			dst, ok := byPath[targetPath]
			if !ok || dst.ID == src.ID || keys.Has(src.ID, dst.ID) {
				continue
			}
			if !src.HasGeometry() || !dst.HasGeometry() {
				l.logger.Debug("linker: node without geometry",
					slog.String("from", src.ID), slog.String("to", dst.ID))
				continue
			}
			fromSide, toSide := geometry.Route(src.Box(), dst.Box())
			synth = append(synth, canvas.Edge{
				ID:       canvas.NewID(),
				FromNode: src.ID,
				FromSide: fromSide,
				ToNode:   dst.ID,
				ToSide:   toSide,
			})
			keys.Add(src.ID, dst.ID)
		}
	}

	added, err := c.AddEdges(synth)
	if err != nil {
		return Result{}, fmt.Errorf("linker: add edges: %w", err)
	}
	res := Result{Created: len(added)}

	inSelection := make(map[string]struct{}, len(selected))
	for _, n := range selected {
		inSelection[n.ID] = struct{}{}
	}
	snap := c.Snapshot()
	for _, e := range snap.Edges {
		_, okFrom := inSelection[e.FromNode]
		_, okTo := inSelection[e.ToNode]
		if !okFrom || !okTo {
			continue
		}
		from, _ := snap.Node(e.FromNode)
		to, _ := snap.Node(e.ToNode)
		if !from.HasGeometry() || !to.HasGeometry() {
			continue
		}
		routed, changed := canvas.Reroute(e, from, to)
		if changed && c.SetEdgeSides(e.ID, routed.FromSide, routed.ToSide) {
			res.Rerouted++
		}
	}

	metrics.EdgesCreated.Add(float64(res.Created))
	metrics.EdgesRerouted.Add(float64(res.Rerouted))
	l.logger.Info("linker: selection linked",
		slog.String("canvas", c.Path()),
		slog.Int("selected", len(selected)),
		slog.Int("created", res.Created),
		slog.Int("rerouted", res.Rerouted))

	if (res.Created > 0 || res.Rerouted > 0) && l.persist != nil {
		if err := l.persist(c); err != nil {
			return res, fmt.Errorf("linker: persist: %w", err)
		}
	}
	return res, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
