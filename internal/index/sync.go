package index

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/tether/internal/canvas"
	"github.com/starford/tether/internal/checksum"
	"github.com/starford/tether/internal/models"
	"github.com/starford/tether/internal/parser"
	"github.com/starford/tether/internal/storage"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db LinkIndex, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteFile(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data according to the kind of file at p and upserts it.
// Notes contribute their inline and frontmatter wikilinks, canvases the
// documents placed on them. Other files are recorded by path only so links
// to them resolve. An undecodable canvas is still recorded, without members,
// and the decode error is returned.
func IndexFile(db LinkIndex, p string, data []byte) error {
	row := FileRow{
		Path:     p,
		Kind:     models.KindOf(p),
		Checksum: checksum.Sum(data),
	}

	switch row.Kind {
	case models.KindNote:
		res, err := parser.Parse(data)
		if err != nil {
			return err
		}
		row.Title = res.Title
		row.Tags = res.Tags
		links := make([]models.Link, 0, len(res.Links)+len(res.FrontmatterLinks))
		for _, l := range res.Links {
			links = append(links, models.Link{Source: p, Target: l, Type: LinkInline})
		}
		for _, l := range res.FrontmatterLinks {
			links = append(links, models.Link{Source: p, Target: l, Type: LinkFrontmatter})
		}
		return db.UpsertFile(row, res.Body, links, nil)

	case models.KindCanvas:
		row.Title = canvas.PropertyName(p)
		d, decodeErr := canvas.Decode(data)
		if err := db.UpsertFile(row, "", nil, d.Documents()); err != nil {
			return err
		}
		if decodeErr != nil {
			return fmt.Errorf("index: %s: %w", p, decodeErr)
		}
		return nil

	default:
		base := path.Base(p)
		row.Title = strings.TrimSuffix(base, path.Ext(base))
		return db.UpsertFile(row, "", nil, nil)
	}
}
