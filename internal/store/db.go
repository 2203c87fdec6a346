package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB is the Postgres handle shared by the session, scheduler, roster and
// snapshot repositories. It is the root of every transaction the coordinator
// opens.
type DB struct {
	Client *sql.DB
}

// NewDB opens a pooled Postgres connection and verifies it with a ping.
// maxOpen bounds concurrent statements across the api handlers and the
// worker's poll loop; maxIdle keeps warm connections for the next tick.
func NewDB(connString string, maxOpen, maxIdle int) (*DB, error) {
	maxOpen, maxIdle = poolBounds(maxOpen, maxIdle)
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// poolBounds clamps pool settings to something sane: a positive open cap,
// and an idle count never exceeding it.
func poolBounds(maxOpen, maxIdle int) (int, int) {
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen / 2
	}
	if maxIdle < 1 {
		maxIdle = 1
	}
	return maxOpen, maxIdle
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
