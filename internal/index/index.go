package index

import "github.com/starford/tether/internal/models"

// LinkIndex defines the read and write operations of the vault index.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type LinkIndex interface {
	UpsertFile(f FileRow, body string, links []models.Link, members []string) error
	DeleteFile(path string) error
	GetChecksum(path string) (string, error)
	GetFile(path string) (*FileRow, error)
	AllChecksums() (map[string]string, error)
	Paths(kind models.FileKind) ([]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	Links(source string) ([]models.Link, error)
	Resolve(linkText, source string) (string, bool, error)
	ResolvedLinks(source string) (map[string]int, error)
	Backlinks(target string) ([]string, error)
	FilesNamed(name string) ([]string, error)
	CanvasMembers(canvas string) ([]string, error)
	Close() error
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)
