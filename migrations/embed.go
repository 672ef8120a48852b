// Package migrations embeds the run-history schema into the binary.
//
// Importing this package (for side effects) registers the files with the
// database package, so a deployed droidpilot needs no SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/droidpilot/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
