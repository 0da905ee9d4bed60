// Package dbmigrations exposes the embedded SQL migrations bundled into
// portsync binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migration scripts.
//
//go:embed *.sql
var Files embed.FS
