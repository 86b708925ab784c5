// Package schema embeds the versioned SQL migrations for each backend.
//
// Files are named NNNN_name.sql. Leading comment lines may carry
// directives understood by package migrate:
//
//	-- migrate:requires vector
//	-- migrate:feature embeddings
package schema

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/maloquacious/goobtool/internal/store"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// FS returns the migration directory for a backend kind.
func FS(kind store.Kind) (fs.FS, error) {
	switch kind {
	case store.KindEmbedded:
		return fs.Sub(files, "sqlite")
	case store.KindRelational:
		return fs.Sub(files, "postgres")
	default:
		return nil, fmt.Errorf("no migrations for backend %v", kind)
	}
}
