// Package migrations embeds the SQL migrations for the sqlite cache
// backend so the binary carries its own schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
