package bq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/infobloxopen/bq-ingest/internal/normalize"
	"github.com/infobloxopen/bq-ingest/internal/warehouse"
)

func TestProjectFromCredentials(t *testing.T) {
	got, err := ProjectFromCredentials([]byte(`{"type":"service_account","project_id":"acme-prod"}`))
	require.NoError(t, err)
	assert.Equal(t, "acme-prod", got)

	_, err = ProjectFromCredentials([]byte(`{"type":"service_account"}`))
	assert.Error(t, err)

	_, err = ProjectFromCredentials([]byte(`not json`))
	assert.Error(t, err)
}

func TestNew_NoProject(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	var ce *warehouse.ClientError
	assert.True(t, errors.As(err, &ce))
}

func TestBindSQL(t *testing.T) {
	v := "100"
	tpl := "SELECT * FROM t WHERE a > %checkpoint% OR b > %checkpoint%"

	assert.Equal(t, tpl, bindSQL(warehouse.Query{SQL: tpl}))
	assert.Equal(t, "SELECT * FROM t WHERE a > @checkpoint OR b > @checkpoint",
		bindSQL(warehouse.Query{SQL: tpl, Bind: &v}))
}

func TestConvertSchema(t *testing.T) {
	fields := bigquery.Schema{
		{Name: "ts", Type: bigquery.TimestampFieldType},
		{Name: "n", Type: "INT64"},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{Name: "addr", Type: "STRUCT"},
	}
	got := convertSchema(fields)
	assert.Equal(t, warehouse.Schema{
		{Name: "ts", Type: warehouse.TypeTimestamp},
		{Name: "n", Type: warehouse.TypeInteger},
		{Name: "tags", Type: warehouse.TypeString, Repeated: true},
		{Name: "addr", Type: warehouse.TypeRecord},
	}, got)
}

func TestConvertRow(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fields := bigquery.Schema{
		{Name: "ts", Type: bigquery.TimestampFieldType},
		{Name: "tags", Type: bigquery.StringFieldType, Repeated: true},
		{Name: "addr", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
			{Name: "city", Type: bigquery.StringFieldType},
			{Name: "zip", Type: bigquery.IntegerFieldType},
		}},
		{Name: "hops", Type: bigquery.RecordFieldType, Repeated: true, Schema: bigquery.Schema{
			{Name: "host", Type: bigquery.StringFieldType},
		}},
		{Name: "missing", Type: bigquery.StringFieldType},
	}
	raw := []bigquery.Value{
		ts,
		[]bigquery.Value{"a", "b"},
		[]bigquery.Value{"Paris", int64(75001)},
		[]bigquery.Value{[]bigquery.Value{"h1"}, []bigquery.Value{"h2"}},
		nil,
	}

	row, err := convertRow(fields, raw)
	require.NoError(t, err)
	require.Len(t, row, 5)

	assert.Equal(t, ts, row[0])
	assert.Equal(t, []any{"a", "b"}, row[1])
	assert.Equal(t, normalize.Map{{Key: "city", Value: "Paris"}, {Key: "zip", Value: int64(75001)}}, row[2])
	assert.Equal(t, []any{
		normalize.Map{{Key: "host", Value: "h1"}},
		normalize.Map{{Key: "host", Value: "h2"}},
	}, row[3])
	assert.Nil(t, row[4])
}

func TestConvertRow_Mismatch(t *testing.T) {
	fields := bigquery.Schema{{Name: "a", Type: bigquery.StringFieldType}}
	_, err := convertRow(fields, []bigquery.Value{"x", "y"})
	assert.Error(t, err)

	fields = bigquery.Schema{{Name: "r", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
		{Name: "x", Type: bigquery.StringFieldType},
	}}}
	_, err = convertRow(fields, []bigquery.Value{"not a record"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Run("bad request is malformed", func(t *testing.T) {
		src := &googleapi.Error{
			Code:    http.StatusBadRequest,
			Message: "Syntax error",
			Errors:  []googleapi.ErrorItem{{Reason: "invalidQuery", Message: "Syntax error: Unexpected end of script at [1:7]"}},
		}
		err := classify(fmt.Errorf("query: %w", src))

		var mq *warehouse.MalformedQueryError
		require.True(t, errors.As(err, &mq))
		assert.Equal(t, `[{"reason":"invalidQuery","message":"Syntax error: Unexpected end of script at [1:7]"}]`, mq.DetailJSON())
		assert.True(t, errors.Is(err, src))
	})

	t.Run("bad request without items keeps message", func(t *testing.T) {
		err := classify(&googleapi.Error{Code: http.StatusBadRequest, Message: "bad"})

		var mq *warehouse.MalformedQueryError
		require.True(t, errors.As(err, &mq))
		assert.Equal(t, []warehouse.ErrorDetail{{Message: "bad"}}, mq.Details)
	})

	t.Run("job error with invalidQuery", func(t *testing.T) {
		err := classify(&bigquery.Error{Reason: "invalidQuery", Location: "query", Message: "Unrecognized name: foo"})

		var mq *warehouse.MalformedQueryError
		require.True(t, errors.As(err, &mq))
		assert.Equal(t, "query", mq.Details[0].Location)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		src := &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}
		err := classify(src)
		assert.Same(t, src, err)

		var mq *warehouse.MalformedQueryError
		assert.False(t, errors.As(err, &mq))
	})
}
