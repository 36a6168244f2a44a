// Package migrations embeds the tasks-table schema migrations so the
// falconq binary carries them without a separate file deployment step.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
