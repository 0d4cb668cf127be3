// Package appfs holds assets embedded in the binary (database migrations).
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
