package sqldb

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

func openSQLite(t *testing.T) *Querier {
	t.Helper()
	ctx := context.Background()
	q, err := Open(ctx, Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "wh.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	_, err = q.db.ExecContext(ctx, `CREATE TABLE events (
		id INTEGER,
		ts TIMESTAMP,
		name TEXT,
		payload BLOB,
		score REAL
	)`)
	require.NoError(t, err)
	_, err = q.db.ExecContext(ctx, `INSERT INTO events VALUES
		(1, '2024-01-01 00:00:00', 'a', x'0102', 1.5),
		(2, '2024-01-02 00:00:00', 'b', NULL, NULL),
		(3, '2024-01-03 00:00:00', 'c', x'03', 2)`)
	require.NoError(t, err)
	return q
}

func drain(t *testing.T, rs warehouse.ResultSet) []warehouse.Row {
	t.Helper()
	var rows []warehouse.Row
	for {
		row, err := rs.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	var ce *warehouse.ClientError
	require.True(t, errors.As(err, &ce))
}

func TestQuery_SQLite(t *testing.T) {
	q := openSQLite(t)

	rs, err := q.Query(context.Background(), warehouse.Query{SQL: "SELECT id, ts, name, payload, score FROM events WHERE id > 1 ORDER BY id"})
	require.NoError(t, err)
	defer rs.Close()

	assert.Equal(t, warehouse.Schema{
		{Name: "id", Type: warehouse.TypeInteger},
		{Name: "ts", Type: warehouse.TypeTimestamp},
		{Name: "name", Type: warehouse.TypeString},
		{Name: "payload", Type: warehouse.TypeBytes},
		{Name: "score", Type: warehouse.TypeFloat},
	}, rs.Schema())
	assert.Equal(t, 0, rs.Page())

	rows := drain(t, rs)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rs.Page())

	assert.Equal(t, int64(2), rows[0][0])
	ts, ok := rows[0][1].(time.Time)
	require.True(t, ok, "timestamp column scanned as %T", rows[0][1])
	assert.True(t, ts.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "b", rows[0][2])
	assert.Nil(t, rows[0][3])
	assert.Equal(t, []byte{0x03}, rows[1][3])
	assert.Equal(t, float64(2), rows[1][4])
}

func TestQuery_SQLiteBind(t *testing.T) {
	q := openSQLite(t)
	v := "1"

	rs, err := q.Query(context.Background(), warehouse.Query{
		SQL:  "SELECT id FROM events WHERE id > %checkpoint% AND id <> %checkpoint% ORDER BY id",
		Bind: &v,
	})
	require.NoError(t, err)
	defer rs.Close()

	rows := drain(t, rs)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0][0])
}

func TestQuery_SQLiteMalformed(t *testing.T) {
	q := openSQLite(t)

	_, err := q.Query(context.Background(), warehouse.Query{SQL: "SELEC id FROM events"})
	var mq *warehouse.MalformedQueryError
	require.True(t, errors.As(err, &mq), "got %v", err)
	assert.Equal(t, "SQLITE_ERROR", mq.Details[0].Reason)

	_, err = q.Query(context.Background(), warehouse.Query{SQL: "SELECT id FROM nope"})
	require.True(t, errors.As(err, &mq), "got %v", err)
}

func TestBind_Postgres(t *testing.T) {
	q := &Querier{driver: DriverPostgres}
	v := "'2024-01-01'"
	text, args := q.bind(warehouse.Query{SQL: "a > %checkpoint% OR b > %checkpoint%", Bind: &v})
	assert.Equal(t, "a > $1 OR b > $1", text)
	assert.Equal(t, []any{v}, args)

	q = &Querier{driver: DriverMySQL}
	text, args = q.bind(warehouse.Query{SQL: "a > %checkpoint% OR b > %checkpoint%", Bind: &v})
	assert.Equal(t, "a > ? OR b > ?", text)
	assert.Equal(t, []any{v, v}, args)

	text, args = q.bind(warehouse.Query{SQL: "a > 1"})
	assert.Equal(t, "a > 1", text)
	assert.Nil(t, args)
}

func TestColumnType(t *testing.T) {
	for in, want := range map[string]warehouse.ColumnType{
		"INT8":             warehouse.TypeInteger,
		"unsigned bigint":  warehouse.TypeInteger,
		"VARCHAR(255)":     warehouse.TypeString,
		"TIMESTAMPTZ":      warehouse.TypeTimestamp,
		"DATETIME":         warehouse.TypeTimestamp,
		"numeric(10,2)":    warehouse.TypeNumeric,
		"DOUBLE PRECISION": warehouse.TypeFloat,
		"JSONB":            warehouse.TypeJSON,
		"BYTEA":            warehouse.TypeBytes,
		"INET":             warehouse.TypeOther,
		"":                 warehouse.TypeOther,
	} {
		assert.Equal(t, want, ColumnType(in), in)
	}
}

func TestClassify(t *testing.T) {
	var mq *warehouse.MalformedQueryError

	err := classify(&pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\"", Position: 1})
	require.True(t, errors.As(err, &mq))
	assert.Equal(t, warehouse.ErrorDetail{Reason: "42601", Location: "1", Message: "syntax error at or near \"SELEC\""}, mq.Details[0])

	err = classify(&pgconn.PgError{Code: "57014", Message: "canceling statement"})
	assert.False(t, errors.As(err, &mq))

	err = classify(&mysql.MySQLError{Number: 1146, Message: "Table 'x.nope' doesn't exist"})
	require.True(t, errors.As(err, &mq))
	assert.Equal(t, "1146", mq.Details[0].Reason)

	err = classify(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
	assert.False(t, errors.As(err, &mq))
}
