/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ortuman/jabberwire/log"
	"github.com/sony/gobreaker"
)

// Driver identifies which SQL dialect/placeholder style to build
// queries for (spec.md SPEC_FULL.md domain-stack: the storage component
// must run against any of the drivers the corpus wires — mysql, pq,
// sqlite3).
type Driver string

const (
	MySQL    Driver = "mysql"
	Postgres Driver = "postgres"
	SQLite3  Driver = "sqlite3"
)

func placeholderFormat(d Driver) sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// Storage is a database/sql-backed XDB storage component. Every call
// into the database runs through a gobreaker.CircuitBreaker so a flaky
// backend degrades into fast ErrStorageFailure replies instead of
// piling up blocked goroutines against a dead connection pool.
type Storage struct {
	db      *sql.DB
	driver  Driver
	builder sq.StatementBuilderType
	breaker *gobreaker.CircuitBreaker
}

// New wraps an already-opened *sql.DB. The caller owns db's lifecycle
// via Close.
func New(db *sql.DB, driver Driver) *Storage {
	st := &gobreaker.Settings{
		Name:        "xdb-sql",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("sql: circuit breaker %q: %s -> %s", name, from, to)
		},
	}
	return &Storage{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholderFormat(driver)),
		breaker: gobreaker.NewCircuitBreaker(*st),
	}
}

// Open opens driver/dataSourceName and wraps the resulting handle.
func Open(driver Driver, dataSourceName string) (*Storage, error) {
	db, err := sql.Open(string(driver), dataSourceName)
	if err != nil {
		return nil, err
	}
	return New(db, driver), nil
}

// NewMock builds a Storage over a go-sqlmock handle for tests, mirroring
// the teacher's MySQL storage test helper.
func NewMock() (*Storage, sqlmock.Sqlmock) {
	db, mock, _ := sqlmock.New()
	return New(db, MySQL), mock
}

// Init creates the xdb_documents table if it does not already exist.
func (s *Storage) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS xdb_documents (
		owner VARCHAR(255) NOT NULL,
		ns VARCHAR(255) NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY(owner, ns)
	)`)
	return err
}

// Close closes the underlying *sql.DB.
func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) withBreaker(fn func() (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(fn)
}
