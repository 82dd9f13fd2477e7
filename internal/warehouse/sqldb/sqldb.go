// Package sqldb runs queries against database/sql warehouses: PostgreSQL
// through pgx, MySQL and SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/infobloxopen/bq-ingest/internal/checkpoint"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config configures a Querier.
type Config struct {
	Driver string
	DSN    string
}

// Querier implements warehouse.Querier over a *sql.DB.
type Querier struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and verifies it answers. Failures are
// returned as *warehouse.ClientError.
func Open(ctx context.Context, cfg Config) (*Querier, error) {
	driver, sqlDriver, err := resolveDriver(cfg.Driver)
	if err != nil {
		return nil, &warehouse.ClientError{Err: err}
	}

	dsn := cfg.DSN
	if driver == DriverMySQL {
		// DATETIME columns must come back as time.Time.
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, &warehouse.ClientError{Err: fmt.Errorf("failed to parse mysql dsn: %w", err)}
		}
		mc.ParseTime = true
		dsn = mc.FormatDSN()
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, &warehouse.ClientError{Err: fmt.Errorf("failed to open %s database: %w", driver, err)}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &warehouse.ClientError{Err: fmt.Errorf("failed to connect to %s database: %w", driver, err)}
	}
	return &Querier{db: db, driver: driver}, nil
}

func resolveDriver(name string) (driver, sqlDriver string, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, "pgx", nil
	case "mysql":
		return DriverMySQL, "mysql", nil
	case "sqlite", "sqlite3":
		return DriverSQLite, "sqlite", nil
	default:
		return "", "", fmt.Errorf("unsupported sql driver %q", name)
	}
}

// Query runs q. In bind mode postgres reuses $1 for every placeholder while
// mysql and sqlite receive one positional argument per placeholder.
func (q *Querier) Query(ctx context.Context, query warehouse.Query) (warehouse.ResultSet, error) {
	text, args := q.bind(query)

	rows, err := q.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, classify(err)
	}

	cts, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	schema := make(warehouse.Schema, len(cts))
	for i, ct := range cts {
		schema[i] = warehouse.Column{Name: ct.Name(), Type: ColumnType(ct.DatabaseTypeName())}
	}
	return &resultSet{rows: rows, schema: schema}, nil
}

func (q *Querier) bind(query warehouse.Query) (string, []any) {
	if query.Bind == nil {
		return query.SQL, nil
	}
	if q.driver == DriverPostgres {
		return strings.ReplaceAll(query.SQL, checkpoint.Placeholder, "$1"), []any{*query.Bind}
	}
	n := query.Occurrences()
	args := make([]any, n)
	for i := range args {
		args[i] = *query.Bind
	}
	return strings.ReplaceAll(query.SQL, checkpoint.Placeholder, "?"), args
}

// Close closes the connection pool.
func (q *Querier) Close() error {
	return q.db.Close()
}

type resultSet struct {
	rows   *sql.Rows
	schema warehouse.Schema
	page   int
}

func (r *resultSet) Schema() warehouse.Schema { return r.schema }

// Page is 1 once a row has been read; database/sql streams without pages.
func (r *resultSet) Page() int { return r.page }

func (r *resultSet) Next(context.Context) (warehouse.Row, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, classify(err)
		}
		return nil, io.EOF
	}
	r.page = 1

	raw := make([]any, len(r.schema))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	row := make(warehouse.Row, len(raw))
	for i, v := range raw {
		if b, ok := v.([]byte); ok && r.schema[i].Type != warehouse.TypeBytes {
			v = string(b)
		}
		row[i] = v
	}
	return row, nil
}

func (r *resultSet) Close() error { return r.rows.Close() }

// ColumnType maps a driver's DatabaseTypeName onto the warehouse type names.
func ColumnType(databaseType string) warehouse.ColumnType {
	t := strings.ToUpper(strings.TrimSpace(databaseType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")

	switch t {
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"SERIAL", "BIGSERIAL", "YEAR":
		return warehouse.TypeInteger
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION":
		return warehouse.TypeFloat
	case "NUMERIC", "DECIMAL":
		return warehouse.TypeNumeric
	case "BOOL", "BOOLEAN":
		return warehouse.TypeBoolean
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME":
		return warehouse.TypeTimestamp
	case "DATE":
		return warehouse.TypeDate
	case "TIME", "TIMETZ":
		return warehouse.TypeTime
	case "BYTEA", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY":
		return warehouse.TypeBytes
	case "JSON", "JSONB":
		return warehouse.TypeJSON
	case "TEXT", "VARCHAR", "CHAR", "BPCHAR", "NAME", "UUID", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT",
		"NVARCHAR", "NCHAR", "CHARACTER", "CHARACTER VARYING", "ENUM", "CLOB":
		return warehouse.TypeString
	default:
		return warehouse.TypeOther
	}
}

// classify turns syntax and unknown-object errors into
// *warehouse.MalformedQueryError.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42") {
		d := warehouse.ErrorDetail{Reason: pgErr.Code, Message: pgErr.Message}
		if pgErr.Position > 0 {
			d.Location = strconv.Itoa(int(pgErr.Position))
		}
		return &warehouse.MalformedQueryError{Details: []warehouse.ErrorDetail{d}, Err: err}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1054, 1064, 1146:
			return &warehouse.MalformedQueryError{
				Details: []warehouse.ErrorDetail{{Reason: strconv.Itoa(int(myErr.Number)), Message: myErr.Message}},
				Err:     err,
			}
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqlite3.SQLITE_ERROR {
		return &warehouse.MalformedQueryError{
			Details: []warehouse.ErrorDetail{{Reason: "SQLITE_ERROR", Message: liteErr.Error()}},
			Err:     err,
		}
	}
	return err
}
