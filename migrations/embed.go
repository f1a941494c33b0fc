// Package migrations holds the goose SQL migrations, embedded so the admin
// CLI and integration tests do not depend on the working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
