// Package migrations embeds the postgres schema. Scripts are idempotent and
// applied in lexical order; {{correlation_table}} is replaced with the
// configured correlation table name.
package migrations

import "embed"

//go:embed *_up.sql
var FS embed.FS

const CorrelationTablePlaceholder = "{{correlation_table}}"
