// Package freescout reads and writes helpdesk tickets directly in a FreeScout
// database.
//
// FreeScout owns the schema; this package only touches the mailboxes, folders,
// customers, conversations and threads tables. MySQL is what FreeScout runs
// on in production. PostgreSQL and SQLite are accepted for other deployments
// and for tests.
package freescout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Options configures a Store.
type Options struct {
	// CustomerName is the "First Last" name of the customer new tickets are
	// filed under. The first word is the first name, the rest the last name.
	CustomerName string

	// CustomerEmail is used when a NewTicket carries no email.
	CustomerEmail string

	// Now returns the timestamp written to new rows. Defaults to time.Now in UTC.
	Now func() time.Time

	// MaxOpenConns caps the pool. Zero leaves the driver default.
	MaxOpenConns int
}

// Store is a FreeScout database client. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect string
	opts    Options
}

var driverNames = map[string]string{
	"mysql":    "mysql",
	"postgres": "pgx",
	"sqlite":   "sqlite",
}

// Open connects to the FreeScout database. driver is one of mysql, postgres
// or sqlite. The connection is verified lazily by the first query; call Ping
// to check it up front.
func Open(driver, dsn string, opts Options) (*Store, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported ticket database driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("ticket database DSN is empty")
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	switch {
	case driver == "sqlite":
		// One writer at a time, and ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if strings.TrimSpace(opts.CustomerName) == "" {
		opts.CustomerName = "Usuario IT"
	}

	return &Store{db: db, dialect: driver, opts: opts}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// withConn runs fn on a connection held for the duration of the call and
// returned to the pool afterwards, whatever fn does.
func (s *Store) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func (s *Store) isPostgres() bool { return s.dialect == "postgres" }

// rebind rewrites ? placeholders into $N placeholders for PostgreSQL.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (s *Store) q(query string) string {
	return rebind(s.isPostgres(), query)
}

// quoteIdent quotes a column name that collides with an SQL keyword.
func (s *Store) quoteIdent(name string) string {
	if s.dialect == "mysql" {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// splitName splits "First Last Name" into its first word and the remainder.
func splitName(full string) (first, last string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
