package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/tether/internal/checksum"
	"github.com/starford/tether/internal/models"
	"github.com/starford/tether/internal/storage"
)

// ReconcileDelay is how long the watcher waits after a rename before it
// reconciles the index with the disk and gives up on pairing the old path
// of a renamed canvas with a new one.
const ReconcileDelay = 200 * time.Millisecond

// Handlers receive watcher-driven changes. Every field is optional.
type Handlers struct {
	// OnChange is called after each index mutation. kind is one of
	// "created", "updated", "deleted".
	OnChange func(kind, path string)
	// OnCanvasRenamed is called when a canvas file moved from oldPath to
	// newPath. members are the documents it held under the old path.
	OnCanvasRenamed func(oldPath, newPath string, members []string)
	// OnCanvasDeleted is called when a canvas file disappeared for good.
	// members are the documents the canvas held when it was last indexed.
	OnCanvasDeleted func(path string, members []string)
}

type pendingRename struct {
	path     string
	checksum string
	members  []string
}

type watchLoop struct {
	db      LinkIndex
	store   storage.Provider
	root    string
	logger  *slog.Logger
	h       Handlers
	pending []pendingRename
}

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled.
//
// New directories created at runtime are automatically added to the watch
// list. Hidden files and directories are ignored. fsnotify reports a rename
// as a Rename of the old path followed by a Create of the new one; a canvas
// Create arriving within ReconcileDelay of a canvas Rename is reported
// through OnCanvasRenamed, and canvases whose old path was never paired are
// reported through OnCanvasDeleted.
func Watch(ctx context.Context, db LinkIndex, store storage.Provider, vaultRoot string, logger *slog.Logger, h Handlers) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	loop := &watchLoop{db: db, store: store, root: vaultRoot, logger: logger, h: h}

	// reconcileTimer is used to debounce rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(ReconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(ReconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			loop.reconcile()
			loop.flushPending()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name
			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if isHidden(rel) {
				continue
			}

			// --- Handle new directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Index any files already in the new directory.
					loop.indexNewDir(absPath)
					continue
				}
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				loop.index(kind, rel)

			case ev.Op&fsnotify.Remove != 0:
				loop.remove(rel, false)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new
				// path will arrive as a separate Create event (if it
				// stays within a watched dir).
				loop.remove(rel, true)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// index reads and indexes rel unless its checksum is unchanged.
func (l *watchLoop) index(kind, rel string) {
	data, err := l.store.Read(rel)
	if err != nil {
		l.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	cs := checksum.Sum(data)
	if kind == "created" && models.KindOf(rel) == models.KindCanvas {
		l.pairRename(rel, cs)
	}
	if prev, _ := l.db.GetChecksum(rel); prev == cs {
		return
	}
	if err := IndexFile(l.db, rel, data); err != nil {
		l.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	l.changed(kind, rel)
}

// remove drops rel from the index. For canvases the members are captured
// first; a rename is held back for pairing, a removal is reported at once.
func (l *watchLoop) remove(rel string, renamed bool) {
	if models.KindOf(rel) == models.KindCanvas {
		members, err := l.db.CanvasMembers(rel)
		if err != nil {
			l.logger.Warn("watcher: canvas members failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		cs, _ := l.db.GetChecksum(rel)
		if renamed {
			l.pending = append(l.pending, pendingRename{path: rel, checksum: cs, members: members})
		} else if l.h.OnCanvasDeleted != nil {
			l.h.OnCanvasDeleted(rel, members)
		}
	}
	if err := l.db.DeleteFile(rel); err != nil {
		l.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	l.logger.Debug("watcher: deleted", slog.String("path", rel), slog.Bool("renamed", renamed))
	l.changed("deleted", rel)
}

// pairRename matches a newly created canvas with a pending rename, preferring
// one with identical content, and otherwise the oldest.
func (l *watchLoop) pairRename(newPath, cs string) {
	if len(l.pending) == 0 {
		return
	}
	idx := 0
	for i, p := range l.pending {
		if p.checksum != "" && p.checksum == cs {
			idx = i
			break
		}
	}
	old := l.pending[idx]
	l.pending = append(l.pending[:idx], l.pending[idx+1:]...)
	if old.path == newPath {
		return
	}
	l.logger.Info("watcher: canvas renamed", slog.String("from", old.path), slog.String("to", newPath))
	if l.h.OnCanvasRenamed != nil {
		l.h.OnCanvasRenamed(old.path, newPath, old.members)
	}
}

// flushPending reports canvases whose old path found no partner.
func (l *watchLoop) flushPending() {
	for _, p := range l.pending {
		l.logger.Info("watcher: canvas gone", slog.String("path", p.path))
		if l.h.OnCanvasDeleted != nil {
			l.h.OnCanvasDeleted(p.path, p.members)
		}
	}
	l.pending = nil
}

// reconcile does a lightweight sync using batch lookups:
// finds index entries without a corresponding file on disk and removes them,
// and finds on-disk files that are not indexed and indexes them.
func (l *watchLoop) reconcile() {
	checksums, err := l.db.AllChecksums()
	if err != nil {
		l.logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	metas, err := l.store.List("")
	if err != nil {
		l.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			l.remove(p, false)
		}
	}

	for p, cs := range disk {
		if checksums[p] == cs {
			continue
		}
		kind := "updated"
		if _, known := checksums[p]; !known {
			kind = "created"
		}
		l.index(kind, p)
	}
}

// indexNewDir indexes any files found in a newly created directory.
func (l *watchLoop) indexNewDir(dirPath string) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dirPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(l.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if isHidden(rel) {
			return nil
		}
		l.index("created", rel)
		return nil
	})
}

func (l *watchLoop) changed(kind, rel string) {
	if l.h.OnChange != nil {
		l.h.OnChange(kind, rel)
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// isHidden reports whether any element of the slash path starts with a dot.
func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
