// Package vault is the facade the sync engine and the outer surfaces use to
// reach vault files: reads, writes that keep the link index current, link
// resolution and canonical reference generation.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/checksum"
	"github.com/starford/tether/internal/index"
	"github.com/starford/tether/internal/models"
	"github.com/starford/tether/internal/parser"
	"github.com/starford/tether/internal/storage"
)

// Change kinds passed to the change hook.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NoteListItem is a lightweight item in a note listing.
type NoteListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Option configures a Vault.
type Option func(*Vault)

// WithChangeHook registers fn to be called after every file the vault
// writes, moves or deletes.
func WithChangeHook(fn func(kind, path string)) Option {
	return func(v *Vault) { v.onChange = fn }
}

// Vault coordinates storage and index operations.
type Vault struct {
	store    storage.Provider
	db       index.LinkIndex
	onChange func(kind, path string)
}

// New creates a vault over store and db.
func New(store storage.Provider, db index.LinkIndex, opts ...Option) *Vault {
	v := &Vault{store: store, db: db}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Index returns the underlying link index.
func (v *Vault) Index() index.LinkIndex { return v.db }

// Read returns the raw bytes of the file at p. A missing file yields an
// error matching os.ErrNotExist.
func (v *Vault) Read(p string) ([]byte, error) {
	return v.store.Read(p)
}

// Write stores content at p and re-indexes it, so links written into the
// file are visible to ResolvedLinks as soon as Write returns.
func (v *Vault) Write(p string, content []byte) error {
	kind := Updated
	if !v.store.Exists(p) {
		kind = Created
	}
	if err := v.store.Write(p, content); err != nil {
		return err
	}
	if err := index.IndexFile(v.db, p, content); err != nil {
		return fmt.Errorf("vault: index %s: %w", p, err)
	}
	v.changed(kind, p)
	return nil
}

// Delete removes p from disk and from the index.
func (v *Vault) Delete(p string) error {
	if err := v.store.Delete(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("vault: %s: %w", p, apperr.ErrNotFound)
		}
		return err
	}
	if err := v.db.DeleteFile(p); err != nil {
		return err
	}
	v.changed(Deleted, p)
	return nil
}

// Move renames oldPath to newPath and moves its index entry along.
func (v *Vault) Move(oldPath, newPath string) error {
	if !v.store.Exists(oldPath) {
		return fmt.Errorf("vault: %s: %w", oldPath, apperr.ErrNotFound)
	}
	if v.store.Exists(newPath) {
		return fmt.Errorf("vault: %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := v.store.Move(oldPath, newPath); err != nil {
		return err
	}
	if err := v.db.DeleteFile(oldPath); err != nil {
		return err
	}
	data, err := v.store.Read(newPath)
	if err != nil {
		return err
	}
	if err := index.IndexFile(v.db, newPath, data); err != nil {
		return fmt.Errorf("vault: index %s: %w", newPath, err)
	}
	v.changed(Deleted, oldPath)
	v.changed(Created, newPath)
	return nil
}

// Exists reports whether a file exists at p.
func (v *Vault) Exists(p string) bool {
	return v.store.Exists(p)
}

// Resolve maps link text written in from to a vault path.
func (v *Vault) Resolve(link, from string) (string, bool) {
	p, ok, err := v.db.Resolve(link, from)
	if err != nil {
		return "", false
	}
	return p, ok
}

// ResolvedLinks returns the resolved outgoing links of the document at p,
// as target path → link count.
func (v *Vault) ResolvedLinks(ctx context.Context, p string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.db.ResolvedLinks(p)
}

// CanonicalReference returns the wikilink that from should use to point at
// target: the shortest text that still resolves uniquely, which is the
// base name when no other file shares it and the full path otherwise.
// Markdown links drop the .md extension. Embeddable attachments come back
// in embed form (![[...]]).
func (v *Vault) CanonicalReference(target, from string) string {
	base := path.Base(target)
	text := target
	if named, err := v.db.FilesNamed(base); err == nil && len(named) <= 1 {
		text = base
	}
	if models.KindOf(target) == models.KindNote {
		text = strings.TrimSuffix(text, path.Ext(text))
	}
	// Keep the text only if it resolves back to target from the source.
	if got, ok := v.Resolve(text, from); ok && got != target {
		text = target
		if models.KindOf(target) == models.KindNote {
			text = strings.TrimSuffix(text, path.Ext(text))
		}
	}
	link := "[[" + text + "]]"
	if isEmbeddable(target) {
		link = "!" + link
	}
	return link
}

// CanvasMembers returns the documents the canvas at p held when it was last
// indexed.
func (v *Vault) CanvasMembers(p string) ([]string, error) {
	return v.db.CanvasMembers(p)
}

// Canvases returns the paths of every canvas file in the vault.
func (v *Vault) Canvases() ([]string, error) {
	return v.db.Paths(models.KindCanvas)
}

// ListNotes returns a page of indexed notes ordered by path, along with the
// total number of notes. A non-positive limit returns every note from
// offset on.
func (v *Vault) ListNotes(_ context.Context, limit, offset int) ([]NoteListItem, int, error) {
	paths, err := v.db.Paths(models.KindNote)
	if err != nil {
		return nil, 0, err
	}
	total := len(paths)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	paths = paths[offset:]
	if limit > 0 && limit < len(paths) {
		paths = paths[:limit]
	}
	items := make([]NoteListItem, 0, len(paths))
	for _, p := range paths {
		row, err := v.db.GetFile(p)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		items = append(items, NoteListItem{
			Path:      row.Path,
			Title:     row.Title,
			Checksum:  row.Checksum,
			Tags:      nonNilSlice(row.Tags),
			UpdatedAt: row.UpdatedAt,
		})
	}
	return items, total, nil
}

// Backlinks returns all file paths that link to target.
func (v *Vault) Backlinks(_ context.Context, target string) ([]string, error) {
	bl, err := v.db.Backlinks(target)
	return nonNilSlice(bl), err
}

// Search delegates full-text search to the index.
func (v *Vault) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return v.db.Search(query, limit)
}

// ReadCanvas loads and decodes the canvas file at p.
func (v *Vault) ReadCanvas(p string) (canvas.Data, error) {
	if !canvas.IsCanvasPath(p) {
		return canvas.Data{}, fmt.Errorf("vault: %s: %w", p, apperr.ErrNotCanvas)
	}
	data, err := v.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return canvas.Data{}, fmt.Errorf("vault: %s: %w", p, apperr.ErrNotFound)
		}
		return canvas.Data{}, err
	}
	return canvas.Decode(data)
}

// WriteCanvas encodes d and writes it to p.
func (v *Vault) WriteCanvas(p string, d canvas.Data) error {
	if !canvas.IsCanvasPath(p) {
		return fmt.Errorf("vault: %s: %w", p, apperr.ErrNotCanvas)
	}
	raw, err := canvas.Encode(d)
	if err != nil {
		return err
	}
	return v.Write(p, raw)
}

// GetNote reads a note from storage, parses it, and enriches with backlinks.
func (v *Vault) GetNote(_ context.Context, p string) (*NoteDetail, error) {
	data, err := v.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return v.buildNoteDetail(p, data)
}

// CreateNote writes a new note and indexes it.
func (v *Vault) CreateNote(_ context.Context, p string, content []byte) (*NoteDetail, error) {
	if v.store.Exists(p) {
		return nil, apperr.ErrAlreadyExists
	}
	if err := v.Write(p, content); err != nil {
		return nil, err
	}
	return v.buildNoteDetail(p, content)
}

// UpdateNote writes updated content with optimistic concurrency. ifMatch is
// an If-Match value; see checksum.Matches.
func (v *Vault) UpdateNote(_ context.Context, p string, content []byte, ifMatch string) (*NoteDetail, error) {
	existing, err := v.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if !checksum.Matches(ifMatch, checksum.Sum(existing)) {
		return nil, apperr.ErrConflict
	}
	if err := v.Write(p, content); err != nil {
		return nil, err
	}
	return v.buildNoteDetail(p, content)
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func (v *Vault) buildNoteDetail(p string, data []byte) (*NoteDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	bl, err := v.db.Backlinks(p)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:        p,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(res.Tags),
		Frontmatter: res.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   time.Now(),
	}, nil
}

func (v *Vault) changed(kind, p string) {
	if v.onChange != nil {
		v.onChange(kind, p)
	}
}

var embeddable = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".svg": {}, ".webp": {}, ".avif": {},
	".mp3": {}, ".wav": {}, ".m4a": {}, ".ogg": {}, ".flac": {}, ".webm": {},
	".mp4": {}, ".mkv": {}, ".mov": {}, ".ogv": {},
	".pdf": {},
}

func isEmbeddable(p string) bool {
	_, ok := embeddable[strings.ToLower(path.Ext(p))]
	return ok
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
