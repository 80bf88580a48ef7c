//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/tether/internal/models"
)

// notes_fts carries the link targets of every note as their own column, so a
// search for a note name also finds the notes that link to it.
func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			tags,
			links,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, f FileRow, body string, links []models.Link) error {
	targets := make([]string, 0, len(links))
	for _, l := range links {
		targets = append(targets, l.Target)
	}
	if _, err := tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, f.Path); err != nil {
		return fmt.Errorf("index: clear fts %s: %w", f.Path, err)
	}
	_, err := tx.Exec(`INSERT INTO notes_fts (path, title, body, tags, links) VALUES (?, ?, ?, ?, ?)`,
		f.Path, f.Title, body, strings.Join(f.Tags, " "), strings.Join(targets, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts %s: %w", f.Path, err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path)
}

// Search ranks notes with bm25, weighting title over tags over link targets
// over body, and returns a highlighted body snippet. The title comes from the
// files table so a note renamed since indexing still shows its current one.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT f.path,
		       f.title,
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 32)
		FROM notes_fts
		JOIN files f ON f.path = notes_fts.path AND f.kind = 'note'
		WHERE notes_fts MATCH ?
		ORDER BY bm25(notes_fts, 0.0, 10.0, 1.0, 4.0, 2.0)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search %q: %w", query, err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
