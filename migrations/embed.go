// Package migrations embeds the SQL migration files so they ship inside
// the compiled binaries rather than needing to be deployed alongside
// them.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
