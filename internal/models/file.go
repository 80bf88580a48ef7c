// Package models defines the domain types shared by the index and storage layers.
package models

import (
	"path"
	"strings"
	"time"
)

// FileKind classifies vault files.
type FileKind string

// File kinds.
const (
	KindNote       FileKind = "note"
	KindCanvas     FileKind = "canvas"
	KindAttachment FileKind = "attachment"
)

// KindOf classifies a vault path by its extension.
func KindOf(p string) FileKind {
	switch strings.ToLower(path.Ext(p)) {
	case ".md":
		return KindNote
	case ".canvas":
		return KindCanvas
	default:
		return KindAttachment
	}
}

// FileMetadata is a lightweight representation returned by list operations.
type FileMetadata struct {
	Path      string    `json:"path"`
	Kind      FileKind  `json:"kind"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link represents a directed reference from a note to a link target.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"` // "inline" or "frontmatter"
}
