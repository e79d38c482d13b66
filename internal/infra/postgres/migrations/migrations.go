package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is filled by the init funcs of the numbered files in this package.
// bun takes each migration's name from the file that registers it.
var Migrations = migrate.NewMigrations()
