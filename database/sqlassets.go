package sqlassets

import "embed"

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS
