//go:build sqlite_cgo

package productstore

// CGO SQLite driver.
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the SQLite driver to use
const DriverName = "sqlite3"
