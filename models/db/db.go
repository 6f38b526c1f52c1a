// Definitions of database objects, and logic for connecting to the database.
package db

import (
	"database/sql"
	"sync"
)

var mu sync.Mutex

// Conn is a shared connection used by all database queries.
var Conn *sql.DB

// SetConn stores the shared connection. Called once from setup.
func SetConn(conn *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	Conn = conn
}

// Connected returns true if a connection exists to the database.
func Connected() bool {
	mu.Lock()
	defer mu.Unlock()
	return Conn != nil
}
