package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/andys/listimport/config"
	"github.com/andys/listimport/store"
)

type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
)

// Connection is a list site backed by a SQL database, one table per list
type Connection struct {
	db   *sql.DB
	Type DBType
	cfg  *config.Config
}

var _ store.Session = (*Connection)(nil)

// Connect establishes a database connection from a URL string.
// Non-empty credentials replace any user info in the URL. Times are sent in
// the configured timezone so retained timestamps keep their wall clock.
func Connect(ctx context.Context, dbURL string, creds store.Credentials, cfg *config.Config) (*Connection, error) {
	loc := time.UTC
	if cfg != nil {
		var err error
		if loc, err = cfg.Location(); err != nil {
			return nil, fmt.Errorf("failed to load timezone: %w", err)
		}
	}

	dbType, dsn, err := buildDSN(dbURL, creds, loc)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dbType), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classifyError(err))
	}

	return &Connection{db: db, Type: dbType, cfg: cfg}, nil
}

func buildDSN(dbURL string, creds store.Credentials, loc *time.Location) (DBType, string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database URL: %w", err)
	}
	if creds.ClientID != "" {
		u.User = url.UserPassword(creds.ClientID, creds.ClientSecret)
	}

	switch u.Scheme {
	case "mysql":
		return MySQL, mysqlDSN(u, loc), nil
	case "postgres", "postgresql":
		// PostgreSQL can use the URL directly
		return PostgreSQL, u.String(), nil
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", u.Scheme)
	}
}

// mysqlDSN converts a mysql:// URL to the driver's DSN format
func mysqlDSN(u *url.URL, loc *time.Location) string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = u.Host
	mc.DBName = strings.TrimPrefix(u.Path, "/")
	mc.ParseTime = true
	if loc != nil {
		mc.Loc = loc
	}
	if u.User != nil {
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
	}
	for key, values := range u.Query() {
		if len(values) > 0 {
			if mc.Params == nil {
				mc.Params = map[string]string{}
			}
			mc.Params[key] = values[0]
		}
	}
	return mc.FormatDSN()
}

// classifyError maps driver errors for rejected credentials to store.ErrAuth
// and connection or rate quota errors to *store.RateLimitError
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045:
			return fmt.Errorf("%w: %w", store.ErrAuth, err)
		case 1040, 1203, 1226:
			return &store.RateLimitError{Err: err}
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28000", "28P01":
			return fmt.Errorf("%w: %w", store.ErrAuth, err)
		case "53300":
			return &store.RateLimitError{Err: err}
		}
	}
	return err
}

// Close closes the database connection
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Connection) logSQL(query string) {
	if c.cfg != nil && c.cfg.Verbose {
		fmt.Printf("Executing SQL: %s\n", query)
	}
}
