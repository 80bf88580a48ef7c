// Package frontmatter reads and rewrites list-valued properties in the YAML
// frontmatter of Markdown documents.
//
// Every mutation is a scoped read-modify-write of one document performed
// under that document's lock: the file is read, the frontmatter block is
// edited in memory and the whole file is written back only if something
// changed. Mutations of different documents run independently.
package frontmatter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
)

// Action selects what Update does with a reference.
type Action int

// Update actions.
const (
	Add Action = iota
	Remove
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Documents is the file access the Synchronizer needs.
type Documents interface {
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithChangeHook registers fn to run after a document was rewritten.
func WithChangeHook(fn func(path string)) Option {
	return func(s *Synchronizer) {
		s.onChange = fn
	}
}

// Synchronizer serialises frontmatter edits per document.
type Synchronizer struct {
	docs     Documents
	locks    *keyedMutex
	logger   *slog.Logger
	onChange func(path string)
}

// New returns a Synchronizer over docs.
func New(docs Documents, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		docs:   docs,
		locks:  newKeyedMutex(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsText reports whether p names a document that carries frontmatter.
func IsText(p string) bool {
	return strings.EqualFold(path.Ext(p), ".md")
}

// Process runs fn on the frontmatter of the document at p while holding the
// document's lock, then writes the document back if fn changed the block.
// A missing document, a non-text document or an unparsable block is a no-op.
// It reports whether the document was rewritten.
func (s *Synchronizer) Process(ctx context.Context, p string, fn func(*Block) error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !IsText(p) {
		return false, nil
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	data, err := s.docs.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("frontmatter: document missing", slog.String("path", p))
			return false, nil
		}
		return false, fmt.Errorf("frontmatter: read %s: %w", p, err)
	}

	block, body, err := load(data)
	if err != nil {
		s.logger.Warn("frontmatter: unreadable block, skipping",
			slog.String("path", p), slog.String("error", err.Error()))
		return false, nil
	}

	if err := fn(block); err != nil {
		return false, err
	}
	if !block.changed {
		return false, nil
	}

	out, err := block.render(body)
	if err != nil {
		return false, err
	}
	if err := s.docs.Write(p, out); err != nil {
		return false, fmt.Errorf("frontmatter: write %s: %w", p, err)
	}
	if s.onChange != nil {
		s.onChange(p)
	}
	return true, nil
}

// Update adds ref to, or removes it from, the list property of the document.
func (s *Synchronizer) Update(ctx context.Context, p, property, ref string, action Action) (bool, error) {
	changed, err := s.Process(ctx, p, func(b *Block) error {
		switch action {
		case Add:
			b.Add(property, ref)
		case Remove:
			b.Remove(property, ref)
		default:
			return fmt.Errorf("frontmatter: unknown action %v", action)
		}
		return nil
	})
	if changed {
		s.logger.Debug("frontmatter: updated",
			slog.String("path", p),
			slog.String("property", property),
			slog.String("action", action.String()),
			slog.String("ref", ref))
	}
	return changed, err
}

// RenameKey renames a property, leaving its entries untouched.
func (s *Synchronizer) RenameKey(ctx context.Context, p, oldKey, newKey string) (bool, error) {
	return s.Process(ctx, p, func(b *Block) error {
		b.Rename(oldKey, newKey)
		return nil
	})
}

// DeleteKey removes a property.
func (s *Synchronizer) DeleteKey(ctx context.Context, p, key string) (bool, error) {
	return s.Process(ctx, p, func(b *Block) error {
		b.Delete(key)
		return nil
	})
}

// Values returns the entries of a list property, read under the document lock.
func (s *Synchronizer) Values(ctx context.Context, p, key string) ([]string, error) {
	var out []string
	_, err := s.Process(ctx, p, func(b *Block) error {
		out = b.Values(key)
		return nil
	})
	return out, err
}
