// Package storage defines the diary file-system abstraction.
package storage

import "github.com/starford/hibi/internal/models"

// Provider is the interface for diary file operations. Paths are
// slash-separated and relative to the diary root.
type Provider interface {
	// Root returns the absolute diary root.
	Root() string
	// List returns metadata for every entry file under dir.
	List(dir string) ([]models.EntryMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write creates parent directories and replaces the file at path.
	Write(path string, content []byte) error
}
