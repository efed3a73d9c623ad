package migrations

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	schemaRoot = "data/sql/migrations"
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var dialectAliases = map[string]string{
	"postgres":   DialectPostgres,
	"postgresql": DialectPostgres,
	"pg":         DialectPostgres,
	"pgx":        DialectPostgres,
	"sqlite":     DialectSQLite,
	"sqlite3":    DialectSQLite,
}

// NormalizeDialect maps a dialect or driver name onto DialectPostgres or
// DialectSQLite. An empty name means sqlite.
func NormalizeDialect(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DialectSQLite, nil
	}
	if dialect, ok := dialectAliases[name]; ok {
		return dialect, nil
	}
	return "", fmt.Errorf("migrations: unsupported dialect %q", name)
}

// Dialects lists the dialects with embedded schema files.
func Dialects() []string {
	return []string{DialectPostgres, DialectSQLite}
}

// ForDialect returns the schema files for dialect. Postgres files live at the
// schema root and sqlite overrides under sqlite/. Pass source to read from a
// tree other than the embedded one.
func ForDialect(dialect string, source ...fs.FS) (fs.FS, error) {
	dialect, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}
	root := FS()
	if len(source) > 0 && source[0] != nil {
		root = source[0]
	}

	dir := schemaRoot
	if dialect == DialectSQLite {
		dir += "/sqlite"
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s schema: %w", dialect, err)
	}
	if _, err := Versions(sub); err != nil {
		return nil, fmt.Errorf("migrations: %s schema: %w", dialect, err)
	}
	return sub, nil
}

// Versions returns the migration names in apply order, e.g.
// "00001_qbexport_snapshots". Every up file needs a matching down file.
func Versions(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no %s files", "*"+upSuffix)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, upSuffix)
		if _, err := fs.Stat(fsys, version+downSuffix); err != nil {
			return nil, fmt.Errorf("%s has no down migration", up)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}
