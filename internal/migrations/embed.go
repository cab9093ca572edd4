// Package migrations embeds the SQL schema and applies it with
// golang-migrate on startup.
package migrations

import "embed"

//go:embed sql
var sqlMigrations embed.FS
