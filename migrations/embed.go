// Package migrations embeds the SQL schema migrations so a single binary
// can bring a database up to date.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
