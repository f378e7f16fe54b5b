//go:build !sqlite_cgo

package productstore

// Pure Go SQLite driver, no C compiler required.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

// DriverName is the SQLite driver to use
const DriverName = "sqlite"
