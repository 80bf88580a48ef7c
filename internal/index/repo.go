package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/tether/internal/apperr"
	"github.com/starford/tether/internal/models"
)

// Link types.
const (
	LinkInline      = "inline"
	LinkFrontmatter = "frontmatter"
)

// FileRow represents a row in the files table.
type FileRow struct {
	Path      string
	Kind      models.FileKind
	Title     string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertFile inserts or replaces a file, its FTS entry, its outgoing links
// and, for canvases, its member documents within a transaction.
func (db *DB) UpsertFile(f FileRow, body string, links []models.Link, members []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if f.Kind == "" {
		f.Kind = models.KindOf(f.Path)
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now()
	}
	tagsJSON, _ := json.Marshal(f.Tags)

	_, err = tx.Exec(`
		INSERT INTO files (path, path_key, name_key, kind, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			path_key   = excluded.path_key,
			name_key   = excluded.name_key,
			kind       = excluded.kind,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, f.Path, pathKey(f.Path), nameKey(f.Path), string(f.Kind), f.Title, f.Checksum, string(tagsJSON), body, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert file: %w", err)
	}

	if f.Kind == models.KindNote {
		if err := ftsUpsert(tx, f, body, links); err != nil {
			return err
		}
	}

	// Replace links: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, f.Path)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, type) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			typ := l.Type
			if typ == "" {
				typ = LinkInline
			}
			if _, err := stmt.Exec(f.Path, l.Target, typ); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	_, _ = tx.Exec(`DELETE FROM canvas_members WHERE canvas = ?`, f.Path)
	if len(members) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO canvas_members (canvas, member) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare member insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range members {
			if _, err := stmt.Exec(f.Path, m); err != nil {
				return fmt.Errorf("index: insert member: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file, its FTS entry, outgoing links and canvas members.
func (db *DB) DeleteFile(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM canvas_members WHERE canvas = ?`, path)
	_, _ = tx.Exec(`DELETE FROM files WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM files WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// GetFile returns the indexed row for path.
func (db *DB) GetFile(path string) (*FileRow, error) {
	var (
		f    FileRow
		kind string
		tags string
	)
	err := db.conn.QueryRow(`SELECT path, kind, title, checksum, tags, updated_at FROM files WHERE path = ?`, path).
		Scan(&f.Path, &kind, &f.Title, &f.Checksum, &tags, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: file %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get file: %w", err)
	}
	f.Kind = models.FileKind(kind)
	_ = json.Unmarshal([]byte(tags), &f.Tags)
	return &f, nil
}

// AllChecksums returns path → checksum for every indexed file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Paths returns every indexed path of the given kind, sorted.
func (db *DB) Paths(kind models.FileKind) ([]string, error) {
	return db.queryStrings(`SELECT path FROM files WHERE kind = ? ORDER BY path`, string(kind))
}

// Links returns the raw outgoing links of source.
func (db *DB) Links(source string) ([]models.Link, error) {
	rows, err := db.conn.Query(`SELECT target, type FROM links WHERE source = ? ORDER BY rowid`, source)
	if err != nil {
		return nil, fmt.Errorf("index: links: %w", err)
	}
	defer rows.Close()
	var out []models.Link
	for rows.Next() {
		l := models.Link{Source: source}
		if err := rows.Scan(&l.Target, &l.Type); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Resolve maps the target of a wikilink written in source to a vault path.
// Resolution tries, in order: the exact path, the path relative to the
// source's folder, and finally files with the same name, preferring the one
// whose path ends with the link text and then the shortest path. Each step
// also tries the text with a .md extension. Matching is case-insensitive.
func (db *DB) Resolve(linkText, source string) (string, bool, error) {
	text := strings.TrimPrefix(strings.TrimSpace(linkText), "/")
	if text == "" {
		return "", false, nil
	}
	tries := []string{text}
	if !strings.EqualFold(path.Ext(text), ".md") {
		tries = append(tries, text+".md")
	}

	for _, try := range tries {
		if p, ok, err := db.byPathKey(try); err != nil || ok {
			return p, ok, err
		}
		if dir := path.Dir(source); dir != "." && dir != "" {
			if p, ok, err := db.byPathKey(path.Join(dir, try)); err != nil || ok {
				return p, ok, err
			}
		}
	}

	for _, try := range tries {
		candidates, err := db.FilesNamed(path.Base(try))
		if err != nil {
			return "", false, err
		}
		if len(candidates) == 0 {
			continue
		}
		suffix := "/" + strings.ToLower(try)
		sort.SliceStable(candidates, func(i, j int) bool {
			si := strings.HasSuffix("/"+strings.ToLower(candidates[i]), suffix)
			sj := strings.HasSuffix("/"+strings.ToLower(candidates[j]), suffix)
			if si != sj {
				return si
			}
			if len(candidates[i]) != len(candidates[j]) {
				return len(candidates[i]) < len(candidates[j])
			}
			return candidates[i] < candidates[j]
		})
		return candidates[0], true, nil
	}
	return "", false, nil
}

// ResolvedLinks returns resolved target path → number of links from source.
// Unresolvable links are left out.
func (db *DB) ResolvedLinks(source string) (map[string]int, error) {
	links, err := db.Links(source)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(links))
	for _, l := range links {
		p, ok, err := db.Resolve(l.Target, source)
		if err != nil {
			return nil, err
		}
		if ok {
			out[p]++
		}
	}
	return out, nil
}

// Backlinks returns all file paths with a link that resolves to target.
func (db *DB) Backlinks(target string) ([]string, error) {
	base := path.Base(target)
	stem := strings.TrimSuffix(base, path.Ext(base))
	variants := []string{target, strings.TrimSuffix(target, ".md"), base, stem}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(variants)), ",")
	args := make([]any, len(variants))
	for i, v := range variants {
		args[i] = strings.ToLower(v)
	}
	rows, err := db.conn.Query(`SELECT DISTINCT source, target FROM links WHERE lower(target) IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	type pair struct{ source, target string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.source, &p.target); err != nil {
			rows.Close()
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, p := range pairs {
		resolved, ok, err := db.Resolve(p.target, p.source)
		if err != nil {
			return nil, err
		}
		if !ok || resolved != target {
			continue
		}
		if _, dup := seen[p.source]; dup {
			continue
		}
		seen[p.source] = struct{}{}
		out = append(out, p.source)
	}
	sort.Strings(out)
	return out, nil
}

// FilesNamed returns the paths of files whose base name equals name,
// ignoring case.
func (db *DB) FilesNamed(name string) ([]string, error) {
	return db.queryStrings(`SELECT path FROM files WHERE name_key = ? ORDER BY path`, strings.ToLower(name))
}

// CanvasMembers returns the document paths placed on the canvas.
func (db *DB) CanvasMembers(canvas string) ([]string, error) {
	return db.queryStrings(`SELECT member FROM canvas_members WHERE canvas = ? ORDER BY rowid`, canvas)
}

func (db *DB) byPathKey(p string) (string, bool, error) {
	var out string
	err := db.conn.QueryRow(`SELECT path FROM files WHERE path_key = ? LIMIT 1`, strings.ToLower(p)).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: lookup path: %w", err)
	}
	return out, true, nil
}

func (db *DB) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func pathKey(p string) string {
	return strings.ToLower(p)
}

func nameKey(p string) string {
	return strings.ToLower(path.Base(p))
}
