package sqlite

import "embed"

//go:embed migrations/*.sql
var migrations embed.FS

// GetMigrationsFS returns the SQLite migrations, rooted so that they live under "migrations".
func GetMigrationsFS() embed.FS {
	return migrations
}
