package linker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/geometry"
)

type fakeLinks struct {
	links map[string][]string
	fail  map[string]bool
}

func (f fakeLinks) ResolvedLinks(_ context.Context, p string) (map[string]int, error) {
	if f.fail[p] {
		return nil, errors.New("index unavailable")
	}
	out := make(map[string]int)
	for _, t := range f.links[p] {
		out[t]++
	}
	return out, nil
}

func node(id, file string, x, y float64) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.KindFile, File: file, X: x, Y: y, Width: 100, Height: 50}
}

func newLinker(t *testing.T, links fakeLinks) (*Linker, *int) {
	t.Helper()
	saves := 0
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(links, func(*canvas.Canvas) error { saves++; return nil }, logger), &saves
}

func TestLinkSelection_CreatesMissingEdgeOnce(t *testing.T) {
	c := canvas.New("B.canvas", canvas.Data{Nodes: []canvas.Node{
		node("a", "a.md", 0, 0),
		node("b", "b.md", 400, 0),
	}})
	c.Select("a", "b")
	l, saves := newLinker(t, fakeLinks{links: map[string][]string{"a.md": {"b.md"}}})

	res, err := l.LinkSelection(context.Background(), c)
	if err != nil {
		t.Fatalf("LinkSelection: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
	edges := c.Snapshot().Edges
	if len(edges) != 1 {
		t.Fatalf("edges = %+v", edges)
	}
	e := edges[0]
	if e.FromNode != "a" || e.ToNode != "b" || e.FromSide != geometry.Right || e.ToSide != geometry.Left {
		t.Errorf("edge = %+v", e)
	}
	if len(e.ID) != 16 {
		t.Errorf("id %q should be 16 hex chars", e.ID)
	}
	if *saves != 1 {
		t.Errorf("saves = %d, want 1", *saves)
	}

	res, _ = l.LinkSelection(context.Background(), c)
	if res.Created != 0 || len(c.Snapshot().Edges) != 1 {
		t.Errorf("second run created %d edges", res.Created)
	}
	if *saves != 1 {
		t.Errorf("no-op run should not persist, saves = %d", *saves)
	}
}

func TestLinkSelection_OppositeDirectionIsDistinct(t *testing.T) {
	c := canvas.New("B.canvas", canvas.Data{
		Nodes: []canvas.Node{node("a", "a.md", 0, 0), node("b", "b.md", 400, 0)},
		Edges: []canvas.Edge{{ID: "ba", FromNode: "b", FromSide: geometry.Left, ToNode: "a", ToSide: geometry.Right}},
	})
	c.Select("a", "b")
	l, _ := newLinker(t, fakeLinks{links: map[string][]string{"a.md": {"b.md"}, "b.md": {"a.md"}}})

	res, err := l.LinkSelection(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 1 {
		t.Errorf("created = %d, want 1 (a→b only)", res.Created)
	}
}

func TestLinkSelection_SkipsBadPairsOnly(t *testing.T) {
	c := canvas.New("B.canvas", canvas.Data{Nodes: []canvas.Node{
		node("a", "a.md", 0, 0),
		{ID: "flat", Type: canvas.KindFile, File: "flat.md"},
		node("c", "c.md", 0, 400),
		node("d", "d.md", 400, 400),
		node("x", "x.md", 800, 0),
		{ID: "t", Type: canvas.KindText, Text: "note", Width: 10, Height: 10},
	}})
	c.Select("a", "flat", "c", "d", "t")
	l, _ := newLinker(t, fakeLinks{
		links: map[string][]string{
			"a.md": {"flat.md", "c.md", "x.md"},
			"d.md": {"a.md"},
		},
		fail: map[string]bool{"c.md": true},
	})

	res, err := l.LinkSelection(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want 2 (a→c, d→a)", res.Created)
	}
	keys := canvas.NewEdgeKeys(c.Snapshot().Edges)
	if !keys.Has("a", "c") || !keys.Has("d", "a") {
		t.Errorf("edges = %+v", c.Snapshot().Edges)
	}
	if keys.Has("a", "flat") || keys.Has("a", "x") {
		t.Error("pair without geometry or outside the selection was linked")
	}
}

func TestLinkSelection_ReroutesSelectedEdges(t *testing.T) {
	c := canvas.New("B.canvas", canvas.Data{
		Nodes: []canvas.Node{node("a", "a.md", 0, 0), node("b", "b.md", 0, 400), node("z", "z.md", 400, 0)},
		Edges: []canvas.Edge{
			{ID: "ab", FromNode: "a", FromSide: geometry.Right, ToNode: "b", ToSide: geometry.Left},
			{ID: "az", FromNode: "a", FromSide: geometry.Top, ToNode: "z", ToSide: geometry.Bottom},
		},
	})
	c.Select("a", "b")
	l, saves := newLinker(t, fakeLinks{})

	res, err := l.LinkSelection(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Rerouted != 1 {
		t.Fatalf("result = %+v, want 0 created, 1 rerouted", res)
	}
	snap := c.Snapshot()
	ab, _ := snap.Edge("ab")
	if ab.FromSide != geometry.Bottom || ab.ToSide != geometry.Top {
		t.Errorf("ab sides = %s/%s", ab.FromSide, ab.ToSide)
	}
	az, _ := snap.Edge("az")
	if az.FromSide != geometry.Top {
		t.Error("edge to an unselected node must not be rerouted")
	}
	if *saves != 1 {
		t.Errorf("saves = %d, want 1", *saves)
	}
}

func TestLinkSelection_EmptySelection(t *testing.T) {
	c := canvas.New("B.canvas", canvas.Data{Nodes: []canvas.Node{node("a", "a.md", 0, 0)}})
	l, saves := newLinker(t, fakeLinks{links: map[string][]string{"a.md": {"a.md"}}})

	res, err := l.LinkSelection(context.Background(), c)
	if err != nil || res != (Result{}) || *saves != 0 {
		t.Errorf("res = %+v, err = %v, saves = %d", res, err, *saves)
	}
}
