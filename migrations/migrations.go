// Package migrations embeds the goose migrations of the hotspot store.
//
// SQL migrations are embedded as files. Migrations whose content is derived
// from Go values (the status constraints) register themselves as Go
// migrations and run in version order with the SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
