package normalize

import (
	"math"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Scalars(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil becomes blank", nil, ""},
		{"bool", true, true},
		{"string", "abc", "abc"},
		{"int", 7, int64(7)},
		{"int32", int32(-3), int64(-3)},
		{"int64", int64(42), int64(42)},
		{"uint16", uint16(9), int64(9)},
		{"uint64 in range", uint64(10), int64(10)},
		{"uint64 overflow", uint64(math.MaxUint64), float64(math.MaxUint64)},
		{"float32", float32(1.5), float64(1.5)},
		{"float64", 2.25, 2.25},
		{"nan", math.NaN(), "NaN"},
		{"positive inf", math.Inf(1), "Infinity"},
		{"negative inf", math.Inf(-1), "-Infinity"},
		{"decimal", big.NewRat(5, 4), 1.25},
		{"nil decimal", (*big.Rat)(nil), ""},
		{"bytes", []byte("hello"), "aGVsbG8="},
		{"timestamp", ts, "2024-03-01 12:30:00+00:00"},
		{"timestamp micros", ts.Add(1500 * time.Microsecond), "2024-03-01 12:30:00.0015+00:00"},
		{"date", civil.Date{Year: 2024, Month: 3, Day: 1}, "2024-03-01"},
		{"time of day", civil.Time{Hour: 8, Minute: 5, Second: 9}, "08:05:09"},
		{"datetime", civil.DateTime{
			Date: civil.Date{Year: 2024, Month: 3, Day: 1},
			Time: civil.Time{Hour: 8},
		}, "2024-03-01T08:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Value(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValue_Unsupported(t *testing.T) {
	type interval struct{ Months int }

	tests := []struct {
		name string
		in   any
	}{
		{"struct", interval{Months: 1}},
		{"pointer", &interval{}},
		{"complex", complex(1, 2)},
		{"nested in list", []any{"ok", interval{}}},
		{"nested in map", Map{{Key: "a", Value: []any{interval{}}}}},
		{"string slice", []string{"a"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Value(tc.in)
			require.Error(t, err)
			var ute *UnsupportedTypeError
			assert.ErrorAs(t, err, &ute)
		})
	}
}

func TestValue_StructurePreserving(t *testing.T) {
	in := Map{
		{Key: "z", Value: int32(1)},
		{Key: "a", Value: []any{[]byte{0xff}, nil, Map{{Key: "inner", Value: 1.5}}}},
		{Key: "m", Value: "x"},
	}

	got, err := Value(in)
	require.NoError(t, err)

	m, ok := got.(Map)
	require.True(t, ok, "expected Map, got %T", got)
	require.Len(t, m, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{m[0].Key, m[1].Key, m[2].Key})

	list, ok := m[1].Value.([]any)
	require.True(t, ok)
	require.Len(t, list, 3)
	assert.Equal(t, "/w==", list[0])
	assert.Equal(t, "", list[1])
	assert.Equal(t, Map{{Key: "inner", Value: 1.5}}, list[2])
}

func TestValue_GoMapSortsKeys(t *testing.T) {
	got, err := Value(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, Map{{Key: "a", Value: int64(1)}, {Key: "b", Value: int64(2)}}, got)
}

func TestValue_Idempotent(t *testing.T) {
	inputs := []any{
		nil,
		int8(3),
		big.NewRat(1, 3),
		[]byte("data"),
		time.Unix(1700000000, 0).UTC(),
		math.Inf(1),
		[]any{1, []any{2, "x"}, Map{{Key: "k", Value: civil.Date{Year: 2020, Month: 1, Day: 2}}}},
		map[string]any{"q": []any{}},
	}

	for _, in := range inputs {
		once, err := Value(in)
		require.NoError(t, err)
		twice, err := Value(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %#v", in)
	}
}

func TestValue_EmptyListStaysList(t *testing.T) {
	got, err := Value([]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)

	s, err := Compact(got)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestMap_MarshalJSON(t *testing.T) {
	m := Map{
		{Key: "b", Value: "<tag>&"},
		{Key: "a", Value: []any{int64(1), 2.5}},
		{Key: "c", Value: Map{{Key: "y", Value: true}, {Key: "x", Value: ""}}},
	}
	s, err := Compact(m)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"<tag>&","a":[1,2.5],"c":{"y":true,"x":""}}`, s)
}

func TestText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{"", ""},
		{true, "true"},
		{false, "false"},
		{int64(-12), "-12"},
		{5.0, "5"},
		{1.5, "1.5"},
		{1500000.0, "1500000"},
		{1e22, "1e+22"},
		{[]any{"a", int64(1)}, `["a",1]`},
		{Map{{Key: "k", Value: "v"}}, `{"k":"v"}`},
	}
	for _, tc := range tests {
		got, err := Text(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty([]any{}))
	assert.False(t, IsEmpty(""))
	assert.False(t, IsEmpty([]any{nil}))
	assert.False(t, IsEmpty(int64(0)))
}
