package canvassync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/metrics"
)

// OnFileRenamed renames the canvas property from the old canvas name to the
// new one in every member document. Entries are kept as they are. members
// may be nil, in which case they are looked up under either path in the
// link index. Renames of other files are ignored.
func (e *Engine) OnFileRenamed(oldPath, newPath string, members []string) {
	if !canvas.IsCanvasPath(oldPath) || !canvas.IsCanvasPath(newPath) {
		return
	}
	oldKey, newKey := canvas.PropertyName(oldPath), canvas.PropertyName(newPath)
	if oldKey == newKey {
		return
	}
	if members == nil {
		members = e.members(newPath, oldPath)
	}
	for _, doc := range members {
		if err := e.ctx.Err(); err != nil {
			return
		}
		changed, err := e.props.RenameKey(e.ctx, doc, oldKey, newKey)
		if changed {
			metrics.PropertyWrites.WithLabelValues("rename").Inc()
		}
		metrics.Observe("canvas_renamed", err)
		if err != nil {
			e.logger.Warn("sync: rename property failed",
				slog.String("doc", doc),
				slog.String("from", oldKey),
				slog.String("to", newKey),
				slog.String("error", err.Error()))
		}
	}
	e.logger.Info("sync: canvas renamed",
		slog.String("from", oldPath),
		slog.String("to", newPath),
		slog.Int("members", len(members)))
}

// OnFileDeleted removes the canvas property from every member document of a
// deleted canvas. members may be nil, in which case they are looked up in
// the link index.
func (e *Engine) OnFileDeleted(path string, members []string) {
	if !canvas.IsCanvasPath(path) {
		return
	}
	if members == nil {
		members = e.members(path)
	}
	n, err := e.strip(e.ctx, path, members, "canvas_deleted")
	if err != nil {
		e.logger.Warn("sync: canvas delete interrupted", slog.String("canvas", path), slog.String("error", err.Error()))
	}
	e.logger.Info("sync: canvas deleted", slog.String("canvas", path), slog.Int("documents", n))
}

// Strip removes the canvas property of canvasPath from members and from
// every document the link index lists for the canvas. It returns the number
// of documents changed. Per-document failures are logged and skipped; only
// cancellation of ctx stops it early.
func (e *Engine) Strip(ctx context.Context, canvasPath string, members []string) (int, error) {
	if !canvas.IsCanvasPath(canvasPath) {
		return 0, fmt.Errorf("sync: strip %s: %w", canvasPath, apperr.ErrNotCanvas)
	}
	return e.strip(ctx, canvasPath, union(members, e.members(canvasPath)), "strip")
}

// Sweep strips the properties of every canvas in the vault. It is meant for
// shutdown and stops between files once ctx is done.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	canvases, err := e.host.Canvases()
	if err != nil {
		return 0, fmt.Errorf("sync: sweep: %w", err)
	}
	total := 0
	for _, p := range canvases {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := e.strip(ctx, p, e.members(p), "sweep")
		total += n
		if err != nil {
			return total, err
		}
	}
	e.logger.Info("sync: sweep finished", slog.Int("canvases", len(canvases)), slog.Int("documents", total))
	return total, nil
}

func (e *Engine) strip(ctx context.Context, canvasPath string, members []string, kind string) (int, error) {
	key := canvas.PropertyName(canvasPath)
	changedDocs := 0
	for _, doc := range members {
		if err := ctx.Err(); err != nil {
			return changedDocs, err
		}
		changed, err := e.props.DeleteKey(ctx, doc, key)
		metrics.Observe(kind, err)
		if err != nil {
			e.logger.Warn("sync: strip failed",
				slog.String("doc", doc),
				slog.String("canvas", canvasPath),
				slog.String("error", err.Error()))
			continue
		}
		if changed {
			changedDocs++
			metrics.PropertyWrites.WithLabelValues("delete").Inc()
		}
	}
	return changedDocs, nil
}

// members returns the indexed members of the first path that has any.
func (e *Engine) members(paths ...string) []string {
	for _, p := range paths {
		m, err := e.host.CanvasMembers(p)
		if err != nil {
			e.logger.Warn("sync: canvas members failed", slog.String("canvas", p), slog.String("error", err.Error()))
			continue
		}
		if len(m) > 0 {
			return m
		}
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
