//go:build !cgo_sqlite

package graph

import (
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

const driverName = "sqlite"
