// Package migrations carries the goose SQL migrations of the alert store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
