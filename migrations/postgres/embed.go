// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contiene las migraciones de Postgres, embebidas en el binario.
//
//go:embed *.sql
var FS embed.FS
