package vault

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/index"
	"github.com/starford/tether/internal/testutil"
)

func testVault(t *testing.T, files map[string]string, opts ...Option) *Vault {
	t.Helper()
	dir, store := testutil.TestVault(t)
	testutil.WriteFiles(t, dir, files)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if err := index.Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return New(store, db, opts...)
}

func TestWrite_ReindexesLinks(t *testing.T) {
	v := testVault(t, map[string]string{"a.md": "# A\n", "b.md": "# B\n"})
	ctx := context.Background()

	links, _ := v.ResolvedLinks(ctx, "a.md")
	if len(links) != 0 {
		t.Fatalf("precondition: links = %v", links)
	}
	if err := v.Write("a.md", []byte("---\nBoard:\n  - \"[[b]]\"\n---\n# A\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	links, err := v.ResolvedLinks(ctx, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if links["b.md"] != 1 {
		t.Errorf("links = %v, want b.md", links)
	}
}

func TestChangeHook(t *testing.T) {
	var mu sync.Mutex
	var got []string
	v := testVault(t, map[string]string{"a.md": "a"}, WithChangeHook(func(kind, p string) {
		mu.Lock()
		got = append(got, kind+":"+p)
		mu.Unlock()
	}))

	_ = v.Write("a.md", []byte("a2"))
	_ = v.Write("n.md", []byte("n"))
	_ = v.Move("n.md", "m.md")
	_ = v.Delete("m.md")

	want := []string{"updated:a.md", "created:n.md", "deleted:n.md", "created:m.md", "deleted:m.md"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCanonicalReference(t *testing.T) {
	v := testVault(t, map[string]string{
		"Unique.md":       "u",
		"one/Dup.md":      "d1",
		"two/Dup.md":      "d2",
		"img/pic.png":     "png",
		"docs/spec.txt":   "txt",
		"boards/B.canvas": "{}",
	})

	tests := []struct {
		target, from, want string
	}{
		{"Unique.md", "x.md", "[[Unique]]"},
		{"one/Dup.md", "x.md", "[[one/Dup]]"},
		{"two/Dup.md", "x.md", "[[two/Dup]]"},
		{"img/pic.png", "x.md", "![[pic.png]]"},
		{"docs/spec.txt", "x.md", "[[spec.txt]]"},
		{"boards/B.canvas", "x.md", "[[B.canvas]]"},
	}
	for _, tt := range tests {
		if got := v.CanonicalReference(tt.target, tt.from); got != tt.want {
			t.Errorf("CanonicalReference(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestReadWriteCanvas(t *testing.T) {
	v := testVault(t, nil)

	d := canvas.Data{Nodes: []canvas.Node{{ID: "n", Type: canvas.KindFile, File: "a.md", Width: 1, Height: 1}}}
	if err := v.WriteCanvas("B.canvas", d); err != nil {
		t.Fatalf("WriteCanvas: %v", err)
	}
	got, err := v.ReadCanvas("B.canvas")
	if err != nil {
		t.Fatalf("ReadCanvas: %v", err)
	}
	if len(got.Nodes) != 1 || got.Nodes[0].File != "a.md" {
		t.Errorf("round trip = %+v", got)
	}
	members, _ := v.CanvasMembers("B.canvas")
	if len(members) != 1 || members[0] != "a.md" {
		t.Errorf("members = %v", members)
	}
	canvases, _ := v.Canvases()
	if len(canvases) != 1 {
		t.Errorf("canvases = %v", canvases)
	}

	if _, err := v.ReadCanvas("a.md"); !errors.Is(err, apperr.ErrNotCanvas) {
		t.Errorf("err = %v, want ErrNotCanvas", err)
	}
	if _, err := v.ReadCanvas("missing.canvas"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMove_Errors(t *testing.T) {
	v := testVault(t, map[string]string{"a.md": "a", "b.md": "b"})
	if err := v.Move("nope.md", "x.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := v.Move("a.md", "b.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestNoteLifecycle(t *testing.T) {
	v := testVault(t, map[string]string{"target.md": "# T"})
	ctx := context.Background()

	note, err := v.CreateNote(ctx, "src.md", []byte("# Src\nsee [[target]]"))
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.Title != "Src" {
		t.Errorf("title = %q", note.Title)
	}
	if _, err := v.CreateNote(ctx, "src.md", []byte("x")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v", err)
	}

	target, err := v.GetNote(ctx, "target.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(target.Backlinks) != 1 || target.Backlinks[0] != "src.md" {
		t.Errorf("backlinks = %v", target.Backlinks)
	}

	if _, err := v.UpdateNote(ctx, "src.md", []byte("v2"), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale update err = %v", err)
	}
	if _, err := v.UpdateNote(ctx, "src.md", []byte("v2"), note.Checksum); err != nil {
		t.Errorf("update: %v", err)
	}
	if _, err := v.GetNote(ctx, "ghost.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get missing err = %v", err)
	}
}
