package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

const (
	DriverLibSQL = "libsql"
	DriverSQLite = "sqlite" // modernc.org/sqlite, no cgo
)

// Config holds connection settings for either driver.
type Config struct {
	Driver       string
	DSN          string
	AuthToken    string // remote libsql only
	MaxOpenConns int
}

// Connect opens the configured database, verifies connectivity and applies pool settings.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverLibSQL
	}

	var dsn string
	switch driver {
	case DriverLibSQL:
		dsn = libsqlDSN(cfg.DSN, cfg.AuthToken)
	case DriverSQLite:
		dsn = sqliteDSN(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if path, ok := localPath(cfg.DSN); ok {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	logger.Info().Str("driver", driver).Str("dsn", redact(cfg.DSN)).Msg("Connecting to database")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// go-libsql ignores pragma query parameters, so local files get them per connection.
	if _, local := localPath(cfg.DSN); local && driver == DriverLibSQL {
		drv := db.Driver()
		db.Close()
		db = sql.OpenDB(&pragmaConnector{driver: drv, dsn: dsn, pragmas: localPragmas})
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	configurePool(db, cfg.MaxOpenConns)
	return db, nil
}

// OpenInMemory opens a private in-memory sqlite database with all migrations applied.
// A single connection is kept so every caller sees the same schema.
func OpenInMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(DriverSQLite, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := Migrate(ctx, db, DriverSQLite, zerolog.Nop()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Ping reports whether the database answers a trivial query.
func Ping(ctx context.Context, db *sql.DB) error {
	return verify(ctx, db)
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

func configurePool(db *sql.DB, maxOpen int) {
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)
}

func libsqlDSN(dsn, authToken string) string {
	if strings.HasPrefix(dsn, "file:") || authToken == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&authToken=" + url.QueryEscape(authToken)
	}
	return dsn + "?authToken=" + url.QueryEscape(authToken)
}

// localPragmas are applied to every connection of a local database file.
var localPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

// pragmaConnector opens driver connections and runs pragmas on each before
// handing it to the pool.
type pragmaConnector struct {
	driver  driver.Driver
	dsn     string
	pragmas []string
}

func (c *pragmaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	var (
		conn driver.Conn
		err  error
	)
	if dc, ok := c.driver.(driver.DriverContext); ok {
		var connector driver.Connector
		connector, err = dc.OpenConnector(c.dsn)
		if err != nil {
			return nil, err
		}
		conn, err = connector.Connect(ctx)
	} else {
		conn, err = c.driver.Open(c.dsn)
	}
	if err != nil {
		return nil, err
	}

	for _, pragma := range c.pragmas {
		if err := runPragma(ctx, conn, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}

func (c *pragmaConnector) Driver() driver.Driver { return c.driver }

// runPragma executes a pragma as a query and drains its rows, since some
// pragmas report their new value and engines reject rows from an exec.
func runPragma(ctx context.Context, conn driver.Conn, pragma string) error {
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := conn.(driver.QueryerContext); ok {
		rows, err = q.QueryContext(ctx, pragma, nil)
	} else {
		var stmt driver.Stmt
		stmt, err = conn.Prepare(pragma)
		if err != nil {
			return err
		}
		defer stmt.Close()
		if sq, ok := stmt.(driver.StmtQueryContext); ok {
			rows, err = sq.QueryContext(ctx, nil)
		} else {
			rows, err = stmt.Query(nil)
		}
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	dest := make([]driver.Value, len(rows.Columns()))
	for {
		if err := rows.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// IsBusy reports whether err is SQLite lock contention that outlasted the busy timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func sqliteDSN(dsn string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + pragmas
	}
	return dsn + "?" + pragmas
}

// localPath extracts the filesystem path of a file: DSN.
func localPath(dsn string) (string, bool) {
	if !strings.HasPrefix(dsn, "file:") {
		return "", false
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return "", false
	}
	return path, true
}

func redact(dsn string) string {
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		return dsn[:i]
	}
	return dsn
}
