// Package migrations holds the Postgres schema, embedded so binaries do not
// need the directory at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
