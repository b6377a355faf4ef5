package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names a supported database backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" or "postgres" ("postgresql" is an alias).
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", s)
	}
}

// driver returns the database/sql driver registered for d.
func (d Dialect) driver() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// placeholder returns the first positional parameter marker.
func (d Dialect) placeholder() string {
	if d == Postgres {
		return "$1"
	}
	return "?"
}

// Schema is the layout SQLSource reads. Extra columns are ignored.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY,
	name      TEXT,
	user_type TEXT
);
CREATE TABLE IF NOT EXISTS queries (
	id             INTEGER PRIMARY KEY,
	user_id        INTEGER NOT NULL REFERENCES users(id),
	text           TEXT NOT NULL,
	is_interactive BOOLEAN NOT NULL DEFAULT FALSE,
	is_suspicious  BOOLEAN NOT NULL DEFAULT FALSE
);
`

// SQLSource reads users and queries from a relational database.
type SQLSource struct {
	db      *sql.DB
	dialect Dialect

	queriesSQL string
}

// OpenSQL connects to dsn and checks the connection.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty %s DSN", dialect)
	}
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLSource(db, dialect), nil
}

// NewSQLSource wraps an open handle. Closing the source closes db.
func NewSQLSource(db *sql.DB, dialect Dialect) *SQLSource {
	return &SQLSource{
		db:      db,
		dialect: dialect,
		queriesSQL: "SELECT text, is_interactive, is_suspicious FROM queries WHERE user_id = " +
			dialect.placeholder() + " ORDER BY id",
	}
}

// Users lists all users ordered by id. A missing name falls back to the id.
func (s *SQLSource) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, user_type FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			id       string
			name     sql.NullString
			userType sql.NullString
		)
		if err := rows.Scan(&id, &name, &userType); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u := User{ID: id, Name: id, Type: userType.String}
		if name.Valid && name.String != "" {
			u.Name = name.String
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Queries returns every query of u, ordered by id.
func (s *SQLSource) Queries(ctx context.Context, u User) ([]Query, error) {
	rows, err := s.db.QueryContext(ctx, s.queriesSQL, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queries for %s: %w", u.Name, err)
	}
	defer rows.Close()

	var queries []Query
	for rows.Next() {
		var q Query
		if err := rows.Scan(&q.Text, &q.Interactive, &q.Suspicious); err != nil {
			return nil, fmt.Errorf("failed to scan query for %s: %w", u.Name, err)
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch queries for %s: %w", u.Name, err)
	}
	return queries, nil
}

// Dialect returns the backend in use.
func (s *SQLSource) Dialect() Dialect {
	return s.dialect
}

// Close releases the connection pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}
