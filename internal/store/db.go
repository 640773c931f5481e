// Package store owns the infrastructure handles shared by the session and
// attendance layers: the Postgres pool, the redis client behind the
// active-session cache, and the embedded schema migrations.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is the Postgres pool both repositories run on. The schema's unique
// constraints carry the attendance invariants, so everything goes through
// this one pool.
type DB struct {
	Client *sql.DB
}

// NewDB opens the pool via the pgx stdlib driver. maxConns bounds open
// connections; half stay idle for the burst when a session opens and the
// whole class submits at once.
func NewDB(connString string, maxConns int, connLifetime time.Duration) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	if maxConns < 2 {
		maxConns = 2
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(connLifetime)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
