// Package migrations embeds the SQL schema for the transfer daemon's
// state database into the binary.
package migrations

import (
	"embed"

	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Source is the embedded migration set, passed to database.DB.Migrate.
var Source = database.Source{FS: migrationsFS, Dir: "."}
