// Package workspace keeps the live canvases that are open for editing,
// persists their snapshots and routes canvas file lifecycle events to the
// sync engine.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/checksum"
)

// Store is the canvas file access the workspace needs.
type Store interface {
	ReadCanvas(path string) (canvas.Data, error)
	WriteCanvas(path string, d canvas.Data) error
	Move(oldPath, newPath string) error
	Delete(path string) error
	Exists(path string) bool
	CanvasMembers(canvasPath string) ([]string, error)
}

// Syncer is the part of the sync engine the workspace drives.
type Syncer interface {
	Attach(c *canvas.Canvas)
	Detach(c *canvas.Canvas)
	OnFileRenamed(oldPath, newPath string, members []string)
	OnFileDeleted(path string, members []string)
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithSaveHook registers fn to be called after a canvas was persisted.
func WithSaveHook(fn func(path string)) Option {
	return func(w *Workspace) { w.onSave = fn }
}

// Workspace holds the open canvases, keyed by path.
type Workspace struct {
	store  Store
	sync   Syncer
	logger *slog.Logger
	onSave func(path string)

	mu   sync.Mutex
	open map[string]*canvas.Canvas
	// saved holds the checksum of the encoding last written per path, so
	// the service's own writes are not reloaded as outside edits.
	saved map[string]string
}

// New creates a workspace. sync may be nil, in which case canvases are not
// observed.
func New(store Store, sync Syncer, logger *slog.Logger, opts ...Option) *Workspace {
	w := &Workspace{
		store:  store,
		sync:   sync,
		logger: logger,
		open:   make(map[string]*canvas.Canvas),
		saved:  make(map[string]string),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Open returns the live canvas for path, loading it from disk on first use.
func (w *Workspace) Open(path string) (*canvas.Canvas, error) {
	if !canvas.IsCanvasPath(path) {
		return nil, fmt.Errorf("workspace: %s: %w", path, apperr.ErrNotCanvas)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.open[path]; ok {
		return c, nil
	}
	d, err := w.store.ReadCanvas(path)
	if err != nil {
		return nil, err
	}
	return w.openLocked(path, d), nil
}

// Create writes an empty canvas at path and opens it.
func (w *Workspace) Create(path string) (*canvas.Canvas, error) {
	if !canvas.IsCanvasPath(path) {
		return nil, fmt.Errorf("workspace: %s: %w", path, apperr.ErrNotCanvas)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.open[path]; ok || w.store.Exists(path) {
		return nil, fmt.Errorf("workspace: %s: %w", path, apperr.ErrAlreadyExists)
	}
	d := canvas.Data{Nodes: []canvas.Node{}, Edges: []canvas.Edge{}}
	if err := w.store.WriteCanvas(path, d); err != nil {
		return nil, err
	}
	return w.openLocked(path, d), nil
}

func (w *Workspace) openLocked(path string, d canvas.Data) *canvas.Canvas {
	c := canvas.New(path, d)
	w.open[path] = c
	if w.sync != nil {
		w.sync.Attach(c)
	}
	w.logger.Debug("workspace: opened", slog.String("canvas", path))
	return c
}

// Get returns the live canvas for path if it is open.
func (w *Workspace) Get(path string) (*canvas.Canvas, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.open[path]
	return c, ok
}

// Paths returns the paths of the open canvases, sorted.
func (w *Workspace) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.open))
	for p := range w.open {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save writes the current snapshot of c to its file.
func (w *Workspace) Save(c *canvas.Canvas) error {
	path := c.Path()
	snap := c.Snapshot()
	if err := w.store.WriteCanvas(path, snap); err != nil {
		return fmt.Errorf("workspace: save %s: %w", path, err)
	}
	if sum, ok := encodedSum(snap); ok {
		w.mu.Lock()
		w.saved[path] = sum
		w.mu.Unlock()
	}
	if w.onSave != nil {
		w.onSave(path)
	}
	return nil
}

// Close forgets the open canvas at path.
func (w *Workspace) Close(path string) {
	w.mu.Lock()
	c, ok := w.open[path]
	delete(w.open, path)
	delete(w.saved, path)
	w.mu.Unlock()
	if ok && w.sync != nil {
		w.sync.Detach(c)
	}
}

// CloseAll forgets every open canvas.
func (w *Workspace) CloseAll() {
	for _, p := range w.Paths() {
		w.Close(p)
	}
}

// Rename moves a canvas file and lets the sync engine rename the canvas
// property in its member documents.
func (w *Workspace) Rename(oldPath, newPath string) error {
	if !canvas.IsCanvasPath(oldPath) || !canvas.IsCanvasPath(newPath) {
		return fmt.Errorf("workspace: rename %s: %w", oldPath, apperr.ErrNotCanvas)
	}
	members := w.members(oldPath)
	if err := w.store.Move(oldPath, newPath); err != nil {
		return err
	}
	w.HandleRenamed(oldPath, newPath, members)
	return nil
}

// Delete removes a canvas file and lets the sync engine drop the canvas
// property from its member documents.
func (w *Workspace) Delete(path string) error {
	if !canvas.IsCanvasPath(path) {
		return fmt.Errorf("workspace: delete %s: %w", path, apperr.ErrNotCanvas)
	}
	members := w.members(path)
	if err := w.store.Delete(path); err != nil {
		return err
	}
	w.HandleDeleted(path, members)
	return nil
}

// HandleRenamed reacts to a canvas file that moved, whether through Rename
// or outside the service.
func (w *Workspace) HandleRenamed(oldPath, newPath string, members []string) {
	w.mu.Lock()
	if c, ok := w.open[oldPath]; ok {
		delete(w.open, oldPath)
		c.SetPath(newPath)
		w.open[newPath] = c
	}
	if sum, ok := w.saved[oldPath]; ok {
		delete(w.saved, oldPath)
		w.saved[newPath] = sum
	}
	w.mu.Unlock()
	if w.sync != nil {
		w.sync.OnFileRenamed(oldPath, newPath, members)
	}
}

// HandleDeleted reacts to a canvas file that disappeared.
func (w *Workspace) HandleDeleted(path string, members []string) {
	w.Close(path)
	if w.sync != nil {
		w.sync.OnFileDeleted(path, members)
	}
}

// HandleChanged reloads an open canvas whose file was modified outside the
// service. Observers are not notified of the reload.
func (w *Workspace) HandleChanged(path string) {
	c, ok := w.Get(path)
	if !ok {
		return
	}
	d, err := w.store.ReadCanvas(path)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			w.logger.Warn("workspace: reload failed", slog.String("canvas", path), slog.String("error", err.Error()))
		}
		return
	}
	if sum, ok := encodedSum(d); ok {
		w.mu.Lock()
		own := w.saved[path] == sum
		w.mu.Unlock()
		if own {
			return
		}
	}
	c.SetData(d)
	w.logger.Debug("workspace: reloaded", slog.String("canvas", path))
}

// members returns the documents of the canvas, from the open session when
// there is one and from the link index otherwise.
func (w *Workspace) members(path string) []string {
	if c, ok := w.Get(path); ok {
		return c.Snapshot().Documents()
	}
	m, err := w.store.CanvasMembers(path)
	if err != nil {
		w.logger.Warn("workspace: canvas members failed", slog.String("canvas", path), slog.String("error", err.Error()))
		return nil
	}
	return m
}

func encodedSum(d canvas.Data) (string, bool) {
	raw, err := canvas.Encode(d)
	if err != nil {
		return "", false
	}
	return checksum.Sum(raw), true
}
