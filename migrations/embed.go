// Package migrations embeds the goose SQL migrations so binaries apply the
// schema on startup without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
