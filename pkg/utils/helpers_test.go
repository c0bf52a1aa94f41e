package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-etl-pipeline/internal/model"
)

func TestInferValue(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in       string
		wantType model.LogicalType
		want     any
	}{
		{"", "", nil},
		{"  ", "", nil},
		{"42", model.TypeInteger, int64(42)},
		{"-7", model.TypeInteger, int64(-7)},
		{"10.5", model.TypeFloat, 10.5},
		{"NaN", model.TypeString, "NaN"},
		{"yes", model.TypeBoolean, true},
		{"FALSE", model.TypeBoolean, false},
		{"2024-01-01 10:00:00", model.TypeTimestamp, ts},
		{"2024-01-01T10:00:00Z", model.TypeTimestamp, ts},
		{"Electronics", model.TypeString, "Electronics"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			typ, v := InferValue(tt.in)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseAs(t *testing.T) {
	v, err := ParseAs("3.0", model.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = ParseAs("3.5", model.TypeInteger)
	assert.Error(t, err)

	v, err = ParseAs("B", model.TypeCategorical)
	require.NoError(t, err)
	assert.Equal(t, "B", v)

	v, err = ParseAs("", model.TypeFloat)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseAs("1e19", model.TypeInteger)
	assert.ErrorContains(t, err, "overflows integer")

	v, err = ParseAs("-9.2e18", model.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(-9.2e18), v)

	_, err = ParseAs("maybe", model.TypeBoolean)
	assert.Error(t, err)

	_, err = ParseAs("x", model.LogicalType("decimal"))
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(float64(12), model.TypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	_, err = Coerce(12.5, model.TypeInteger)
	assert.Error(t, err)

	_, err = Coerce(json.Number("18446744073709551616"), model.TypeInteger)
	assert.ErrorContains(t, err, "overflows integer")

	_, err = Coerce(1e19, model.TypeInteger)
	assert.ErrorContains(t, err, "overflows integer")

	v, err = Coerce(json.Number("99.9"), model.TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 99.9, v)

	v, err = Coerce(true, model.TypeString)
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	_, err = Coerce(true, model.TypeInteger)
	assert.Error(t, err)

	_, err = Coerce([]any{1}, model.TypeString)
	assert.Error(t, err)
}

func TestInferJSON(t *testing.T) {
	typ, v := InferJSON(float64(5))
	assert.Equal(t, model.TypeInteger, typ)
	assert.Equal(t, int64(5), v)

	typ, v = InferJSON(5.25)
	assert.Equal(t, model.TypeFloat, typ)
	assert.Equal(t, 5.25, v)

	typ, _ = InferJSON("2024-03-01")
	assert.Equal(t, model.TypeTimestamp, typ)

	typ, v = InferJSON(map[string]any{})
	assert.Equal(t, model.LogicalType(""), typ)
	assert.Nil(t, v)
}

func TestWidenType(t *testing.T) {
	assert.Equal(t, model.TypeInteger, WidenType("", model.TypeInteger))
	assert.Equal(t, model.TypeInteger, WidenType(model.TypeInteger, ""))
	assert.Equal(t, model.TypeFloat, WidenType(model.TypeInteger, model.TypeFloat))
	assert.Equal(t, model.TypeString, WidenType(model.TypeBoolean, model.TypeInteger))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, ParseDuration("90s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("-5s", time.Minute))
}
