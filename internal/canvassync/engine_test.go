package canvassync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/frontmatter"
	"github.com/starford/tether/internal/index"
	"github.com/starford/tether/internal/metrics"
	"github.com/starford/tether/internal/testutil"
	"github.com/starford/tether/internal/vault"
)

// countingProps counts property updates that changed a document.
type countingProps struct {
	Properties
	mu      sync.Mutex
	changes int
}

func (p *countingProps) Update(ctx context.Context, path, property, ref string, action frontmatter.Action) (bool, error) {
	changed, err := p.Properties.Update(ctx, path, property, ref, action)
	if changed {
		p.mu.Lock()
		p.changes++
		p.mu.Unlock()
	}
	return changed, err
}

func (p *countingProps) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

type env struct {
	vault     *vault.Vault
	props     *countingProps
	engine    *Engine
	canvas    *canvas.Canvas
	persisted atomic.Int32
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const board = "Board.canvas"

func newEnv(t *testing.T, files map[string]string) *env {
	t.Helper()
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, files)
	db := testutil.TestDB(t)
	if err := index.Sync(db, store, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	v := vault.New(store, db)
	en := &env{
		vault: v,
		props: &countingProps{Properties: frontmatter.New(v, quietLogger())},
	}
	en.engine = New(v, en.props, quietLogger(),
		WithDebounce(100*time.Millisecond),
		WithPersist(func(c *canvas.Canvas) error {
			en.persisted.Add(1)
			return v.WriteCanvas(c.Path(), c.Snapshot())
		}))
	t.Cleanup(en.engine.Close)
	en.canvas = canvas.New(board, canvas.Data{})
	en.engine.Attach(en.canvas)
	return en
}

func (en *env) values(t *testing.T, doc, key string) []string {
	t.Helper()
	got, err := en.props.Values(context.Background(), doc, key)
	if err != nil {
		t.Fatalf("Values(%s): %v", doc, err)
	}
	return got
}

func (en *env) addNodes(t *testing.T, nodes ...canvas.Node) {
	t.Helper()
	for _, n := range nodes {
		if err := en.canvas.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
}

func doc(id, file string, x, y float64) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.KindFile, File: file, X: x, Y: y, Width: 100, Height: 60}
}

var sampleFiles = map[string]string{
	"a.md": "# A\nsee [[b]]\n",
	"b.md": "# B\n",
	"c.md": "# C\n",
}

func TestAttach_IdempotentAndEdgeHook(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.engine.Attach(en.canvas)

	if attached, hook := en.engine.Attached(en.canvas); !attached || hook {
		t.Fatalf("attached=%v hook=%v, want true false", attached, hook)
	}
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	if _, err := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"}); err != nil {
		t.Fatal(err)
	}
	if _, hook := en.engine.Attached(en.canvas); !hook {
		t.Error("first edge should install the edge hook")
	}

	// A canvas that already has edges gets the hook at attach time.
	other := canvas.New("Other.canvas", en.canvas.Snapshot())
	en.engine.Attach(other)
	if _, hook := en.engine.Attached(other); !hook {
		t.Error("canvas with edges should get the hook on attach")
	}

	en.engine.Detach(other)
	if attached, _ := en.engine.Attached(other); attached {
		t.Error("detached canvas still registered")
	}
}

func TestNodeMembershipMarker(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t,
		doc("a", "a.md", 0, 0),
		canvas.Node{ID: "t", Type: canvas.KindText, Text: "free", Width: 10, Height: 10},
		doc("img", "pic.png", 0, 200),
	)

	if got := en.values(t, "a.md", "Board"); !reflect.DeepEqual(got, []string{"[[Board.canvas]]"}) {
		t.Fatalf("Board = %v", got)
	}
	if err := en.canvas.RemoveNode("a"); err != nil {
		t.Fatal(err)
	}
	if got := en.values(t, "a.md", "Board"); len(got) != 0 {
		t.Errorf("Board after removal = %v", got)
	}
	data, _ := en.vault.Read("a.md")
	if string(data) != sampleFiles["a.md"] {
		t.Errorf("document not restored:\n%s", data)
	}
}

func TestEdgeAdded_RecordsTargetAndIsIdempotent(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))

	e, err := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"[[Board.canvas]]", "[[b]]"}
	if got := en.values(t, "a.md", "Board"); !reflect.DeepEqual(got, want) {
		t.Fatalf("Board = %v, want %v", got, want)
	}

	before := en.props.count()
	if err := en.engine.reconcile(context.Background(), en.canvas, e.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := en.engine.reconcile(context.Background(), en.canvas, e.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := en.props.count(); got != before {
		t.Errorf("repeated reconciliation changed documents %d times", got-before)
	}
}

func TestEdgeRemoved_KeepsIndependentReferences(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	e, _ := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})

	// Written by hand, never justified by an edge.
	if _, err := en.props.Update(context.Background(), "a.md", "Board", "[[c]]", frontmatter.Add); err != nil {
		t.Fatal(err)
	}
	if err := en.canvas.RemoveEdge(e.ID); err != nil {
		t.Fatal(err)
	}
	want := []string{"[[Board.canvas]]", "[[c]]"}
	if got := en.values(t, "a.md", "Board"); !reflect.DeepEqual(got, want) {
		t.Errorf("Board = %v, want %v", got, want)
	}
}

func TestEdgeRemoved_ParallelEdgeKeepsReference(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0), doc("b2", "b.md", 400, 300))
	e1, _ := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})
	_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b2"})

	_ = en.canvas.RemoveEdge(e1.ID)
	got := en.values(t, "a.md", "Board")
	if !reflect.DeepEqual(got, []string{"[[Board.canvas]]", "[[b]]"}) {
		t.Errorf("Board = %v", got)
	}
}

func TestEdgeUpdated_DebouncedReconnect(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0), doc("c", "c.md", 0, 400))
	e, _ := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})

	// Reconnect the edge to c, then jiggle it a few times.
	e.ToNode = "c"
	for i := 0; i < 5; i++ {
		if err := en.canvas.UpdateEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	if en.engine.Pending() != 1 {
		t.Errorf("pending = %d, want 1", en.engine.Pending())
	}

	want := []string{"[[Board.canvas]]", "[[c]]"}
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return reflect.DeepEqual(en.values(t, "a.md", "Board"), want)
	}, "reconnected edge not reconciled")

	got, _ := en.canvas.Snapshot().Edge(e.ID)
	if got.FromSide != "bottom" || got.ToSide != "top" {
		t.Errorf("sides = %s/%s, want bottom/top", got.FromSide, got.ToSide)
	}
	if en.persisted.Load() != 1 {
		t.Errorf("persisted %d times, want 1", en.persisted.Load())
	}
}

func TestEdgeUpdated_SourceReconnectPrunesOldSource(t *testing.T) {
	en := newEnv(t, map[string]string{
		"a.md": "# A\nsee [[b]]\n",
		"b.md": "# B\n",
		"d.md": "# D\nalso [[b]]\n",
	})
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0), doc("d", "d.md", 0, 400))
	e, _ := en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})
	if got := en.values(t, "a.md", "Board"); !reflect.DeepEqual(got, []string{"[[Board.canvas]]", "[[b]]"}) {
		t.Fatalf("a.md Board = %v", got)
	}

	e.FromNode = "d"
	if err := en.canvas.UpdateEdge(e); err != nil {
		t.Fatal(err)
	}
	// The old source loses its reference without waiting for the debounce.
	if got := en.values(t, "a.md", "Board"); !reflect.DeepEqual(got, []string{"[[Board.canvas]]"}) {
		t.Errorf("a.md Board = %v, want only the marker", got)
	}

	want := []string{"[[Board.canvas]]", "[[b]]"}
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return reflect.DeepEqual(en.values(t, "d.md", "Board"), want)
	}, "new source not reconciled")
}

func TestReconcileRacesWithMutations(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.engine.debounce = time.Millisecond
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = en.canvas.MoveNode("b", float64(i*10), float64(i*10))
				time.Sleep(time.Millisecond)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				n := canvas.Node{ID: canvas.NewID(), Type: canvas.KindText, Text: "x", Width: 10, Height: 10}
				_ = en.canvas.AddNode(n)
				_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: n.ID})
			}
		}()
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mutations racing with debounced reconciliation never finished")
	}
}

func TestMoveNode_ReroutesOnce(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})

	before := promtest.ToFloat64(metrics.EdgesRerouted)
	for y := 100.0; y <= 800; y += 100 {
		_ = en.canvas.MoveNode("b", 0, y)
	}
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return en.persisted.Load() == 1 && en.engine.Pending() == 0
	}, "moved edge not rerouted")
	if delta := promtest.ToFloat64(metrics.EdgesRerouted) - before; delta != 1 {
		t.Errorf("rerouted counter delta = %v, want 1", delta)
	}
}

func TestClear_SuppressesReactions(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})
	_ = en.canvas.MoveNode("b", 0, 400)

	before := en.props.count()
	en.canvas.Clear()
	if got := en.props.count(); got != before {
		t.Errorf("clear changed documents %d times", got-before)
	}
	if en.canvas.Clearing() {
		t.Error("clearing flag still set")
	}
	if en.engine.Pending() != 0 {
		t.Error("clear should drop pending reconciliations")
	}
}

func TestOnFileRenamed(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	_, _ = en.canvas.AddEdge(canvas.Edge{FromNode: "a", ToNode: "b"})
	if err := en.vault.WriteCanvas(board, en.canvas.Snapshot()); err != nil {
		t.Fatal(err)
	}
	before := en.values(t, "a.md", "Board")

	en.engine.OnFileRenamed(board, "Plan.canvas", nil)

	if got := en.values(t, "a.md", "Plan"); !reflect.DeepEqual(got, before) {
		t.Errorf("Plan = %v, want %v", got, before)
	}
	if got := en.values(t, "a.md", "Board"); len(got) != 0 {
		t.Errorf("old key still present: %v", got)
	}
	if got := en.values(t, "b.md", "Plan"); !reflect.DeepEqual(got, []string{"[[Board.canvas]]"}) {
		t.Errorf("b Plan = %v", got)
	}

	// Non-canvas renames are ignored.
	en.engine.OnFileRenamed("a.md", "z.md", []string{"a.md"})
	if got := en.values(t, "a.md", "Plan"); len(got) == 0 {
		t.Error("note rename must not touch properties")
	}
}

func TestOnFileDeleted(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))

	en.engine.OnFileDeleted(board, []string{"a.md", "b.md", "gone.md"})

	for _, d := range []string{"a.md", "b.md"} {
		if got := en.values(t, d, "Board"); len(got) != 0 {
			t.Errorf("%s Board = %v", d, got)
		}
	}
}

func TestStripAndSweep(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.addNodes(t, doc("a", "a.md", 0, 0), doc("b", "b.md", 400, 0))
	if err := en.vault.WriteCanvas(board, en.canvas.Snapshot()); err != nil {
		t.Fatal(err)
	}

	second := canvas.New("Second.canvas", canvas.Data{})
	en.engine.Attach(second)
	_ = second.AddNode(doc("a", "a.md", 0, 0))
	if err := en.vault.WriteCanvas("Second.canvas", second.Snapshot()); err != nil {
		t.Fatal(err)
	}

	n, err := en.engine.Strip(context.Background(), board, nil)
	if err != nil || n != 2 {
		t.Fatalf("Strip = %d, %v; want 2, nil", n, err)
	}
	if got := en.values(t, "a.md", "Second"); len(got) != 1 {
		t.Fatalf("strip touched another canvas: %v", got)
	}

	if _, err := en.engine.Strip(context.Background(), "a.md", nil); !errors.Is(err, apperr.ErrNotCanvas) {
		t.Errorf("strip non-canvas err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := en.engine.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled sweep err = %v", err)
	}

	n, err = en.engine.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Sweep = %d, %v; want 1, nil", n, err)
	}
	data, _ := en.vault.Read("a.md")
	if string(data) != sampleFiles["a.md"] {
		t.Errorf("sweep left metadata behind:\n%s", data)
	}
}

func TestDetachedCanvasIgnored(t *testing.T) {
	en := newEnv(t, sampleFiles)
	en.engine.Detach(en.canvas)
	en.addNodes(t, doc("a", "a.md", 0, 0))
	if got := en.values(t, "a.md", "Board"); len(got) != 0 {
		t.Errorf("detached canvas still synced: %v", got)
	}
}
