package qbexport

import (
	"io/fs"

	"github.com/goliatone/go-qbexport/migrations"
)

// GetMigrationsFS returns the embedded snapshot schema tree, including the
// sqlite alternatives under data/sql/migrations/sqlite.
func GetMigrationsFS() fs.FS {
	return migrations.FS()
}
