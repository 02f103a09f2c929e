//go:build cgo_sqlite

package graph

import (
	_ "github.com/mattn/go-sqlite3" // SQLite driver (cgo)
)

const driverName = "sqlite3"
