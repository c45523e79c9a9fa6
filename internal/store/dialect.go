package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/topstories/internal/config"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// dialect holds what differs between the supported SQL backends.
type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	schema      []string
	// ignoreConflict turns an INSERT into insert-if-absent on the given key.
	ignoreConflict func(b sq.InsertBuilder, key ...string) sq.InsertBuilder
	// open connects to the target database.
	open func(cfg config.DatabaseConfig, loc *time.Location) (*sql.DB, error)
	// ensureDatabase creates the database itself when it does not exist.
	ensureDatabase func(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) error
	// bindTime converts a timestamp into the value the driver stores, so equal
	// instants always produce equal keys.
	bindTime func(t time.Time) any
}

// sqliteTimeLayout is one of the layouts modernc parses back from DATETIME
// columns. Values are written in UTC so text order is chronological.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

func sqliteTime(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) }

func nativeTime(t time.Time) any { return t }

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverSQLite, "":
		return dialect{
			driver:         config.DriverSQLite,
			placeholder:    sq.Question,
			schema:         sqliteSchema,
			ignoreConflict: onConflictDoNothing,
			open: func(cfg config.DatabaseConfig, _ *time.Location) (*sql.DB, error) {
				return sql.Open("sqlite", cfg.Path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
			},
			ensureDatabase: func(context.Context, config.DatabaseConfig, *time.Location) error { return nil },
			bindTime:       sqliteTime,
		}, nil
	case config.DriverMySQL:
		return dialect{
			driver:         config.DriverMySQL,
			placeholder:    sq.Question,
			schema:         mysqlSchema,
			ignoreConflict: onDuplicateKeyNoop,
			open: func(cfg config.DatabaseConfig, loc *time.Location) (*sql.DB, error) {
				return openMySQL(cfg, loc, cfg.Name)
			},
			ensureDatabase: ensureMySQLDatabase,
			bindTime:       nativeTime,
		}, nil
	case config.DriverPostgres:
		return dialect{
			driver:         config.DriverPostgres,
			placeholder:    sq.Dollar,
			schema:         postgresSchema,
			ignoreConflict: onConflictDoNothing,
			open: func(cfg config.DatabaseConfig, _ *time.Location) (*sql.DB, error) {
				return sql.Open("postgres", postgresDSN(cfg, cfg.Name))
			},
			ensureDatabase: ensurePostgresDatabase,
			bindTime:       nativeTime,
		}, nil
	}
	return dialect{}, fmt.Errorf("%w: unsupported driver %q", ErrDatabase, driver)
}

func onConflictDoNothing(b sq.InsertBuilder, key ...string) sq.InsertBuilder {
	return b.Suffix(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(key, ", ")))
}

// MySQL's INSERT IGNORE would also swallow foreign key violations, so a no-op
// update on the first key column is used instead.
func onDuplicateKeyNoop(b sq.InsertBuilder, key ...string) sq.InsertBuilder {
	return b.Suffix(fmt.Sprintf("ON DUPLICATE KEY UPDATE %[1]s = %[1]s", key[0]))
}

func mysqlConfig(cfg config.DatabaseConfig, loc *time.Location, dbName string) *mysql.Config {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = dbName
	mc.ParseTime = true
	mc.Loc = loc
	if cfg.Charset != "" {
		mc.Params = map[string]string{"charset": cfg.Charset}
	}
	return mc
}

// openMySQL goes through a connector rather than a DSN string: a fixed-offset
// Location has no name the DSN parser could load back.
func openMySQL(cfg config.DatabaseConfig, loc *time.Location, dbName string) (*sql.DB, error) {
	connector, err := mysql.NewConnector(mysqlConfig(cfg, loc, dbName))
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func ensureMySQLDatabase(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) error {
	if !identRe.MatchString(cfg.Name) || (cfg.Charset != "" && !identRe.MatchString(cfg.Charset)) {
		return fmt.Errorf("%w: invalid database name %q or charset %q", ErrDatabase, cfg.Name, cfg.Charset)
	}

	db, err := openMySQL(cfg, loc, "")
	if err != nil {
		return fmt.Errorf("%w: open mysql server: %w", ErrDatabase, err)
	}
	defer db.Close()

	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Name)
	if cfg.Charset != "" {
		query += fmt.Sprintf(" DEFAULT CHARACTER SET '%s'", cfg.Charset)
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: create database %s: %w", ErrDatabase, cfg.Name, err)
	}
	return nil
}

func postgresDSN(cfg config.DatabaseConfig, dbName string) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + dbName,
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// postgresEncoding maps MySQL-style charset names onto Postgres encodings.
func postgresEncoding(charset string) string {
	switch strings.ToLower(charset) {
	case "", "utf8", "utf8mb4", "utf-8":
		return "UTF8"
	}
	return strings.ToUpper(charset)
}

func ensurePostgresDatabase(ctx context.Context, cfg config.DatabaseConfig, _ *time.Location) error {
	encoding := postgresEncoding(cfg.Charset)
	if !identRe.MatchString(cfg.Name) || !identRe.MatchString(encoding) {
		return fmt.Errorf("%w: invalid database name %q or encoding %q", ErrDatabase, cfg.Name, encoding)
	}

	db, err := sql.Open("postgres", postgresDSN(cfg, "postgres"))
	if err != nil {
		return fmt.Errorf("%w: open postgres server: %w", ErrDatabase, err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: look up database %s: %w", ErrDatabase, cfg.Name, err)
	}
	if exists {
		return nil
	}

	query := fmt.Sprintf(`CREATE DATABASE "%s" ENCODING '%s'`, cfg.Name, encoding)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%w: create database %s: %w", ErrDatabase, cfg.Name, err)
	}
	return nil
}
