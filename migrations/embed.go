// Package migrations compiles the schema migration SQL into the
// binary, so a deployed latchline needs no loose .sql files next to
// it. Importing this package (blank import in main) is what arms
// database.Migrate.
package migrations

import (
	"embed"

	"github.com/sloanware/latchline-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	// The embedded FS roots at this directory, not at "migrations".
	database.UseMigrations(files, ".")
}
