package utils

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
)

// TimestampLayouts are tried in order when text is parsed as a timestamp.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDuration parses a duration string like "5m", falling back when it
// is empty or malformed.
func ParseDuration(d string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(d) == "" {
		return fallback
	}
	duration, err := time.ParseDuration(strings.TrimSpace(d))
	if err != nil || duration <= 0 {
		return fallback
	}
	return duration
}

// InferValue guesses the logical type of a text cell and returns the typed
// value. Empty text is null. Integers win over floats, then booleans,
// then timestamps; everything else is a string.
func InferValue(s string) (model.LogicalType, any) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.TypeInteger, i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return model.TypeFloat, f
	}
	if b, ok := parseBool(s); ok {
		return model.TypeBoolean, b
	}
	if ts, err := ParseTimestamp(s); err == nil {
		return model.TypeTimestamp, ts
	}
	return model.TypeString, s
}

// ParseAs converts text into a value of type t. Empty text is null.
func ParseAs(s string, t model.LogicalType) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch t {
	case model.TypeInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == math.Trunc(f) {
				return floatToInt(f)
			}
			return nil, errors.Wrapf(err, "parse %q as integer", s)
		}
		return i, nil
	case model.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q as float", s)
		}
		return f, nil
	case model.TypeBoolean:
		b, ok := parseBool(s)
		if !ok {
			return nil, errors.Newf("parse %q as boolean", s)
		}
		return b, nil
	case model.TypeTimestamp:
		return ParseTimestamp(s)
	case model.TypeString, model.TypeCategorical:
		return s, nil
	}
	return nil, errors.Newf("unknown logical type %q", t)
}

// ParseTimestamp tries every layout in TimestampLayouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Newf("parse %q as timestamp", s)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

// Coerce converts a decoded JSON value (float64, json.Number, string, bool,
// nil) into a value of type t.
func Coerce(v any, t model.LogicalType) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseAs(x, t)
	case json.Number:
		return ParseAs(x.String(), t)
	case time.Time:
		switch t {
		case model.TypeTimestamp:
			return x, nil
		case model.TypeString, model.TypeCategorical:
			return model.FormatValue(x), nil
		}
		return nil, errors.Newf("cannot use timestamp as %s", t)
	case bool:
		switch t {
		case model.TypeBoolean:
			return x, nil
		case model.TypeString, model.TypeCategorical:
			return strconv.FormatBool(x), nil
		}
		return nil, errors.Newf("cannot use boolean as %s", t)
	}
	if f, ok := Numeric(v); ok {
		switch t {
		case model.TypeFloat:
			return f, nil
		case model.TypeInteger:
			if f != math.Trunc(f) {
				return nil, errors.Newf("%v is not an integer", f)
			}
			return floatToInt(f)
		case model.TypeString, model.TypeCategorical:
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return nil, errors.Newf("cannot use number as %s", t)
	}
	return nil, errors.Newf("unsupported value %T", v)
}

// floatToInt converts a whole float, rejecting values outside int64.
func floatToInt(f float64) (any, error) {
	if f >= 1<<63 || f < -(1<<63) || math.IsNaN(f) {
		return nil, errors.Newf("%v overflows integer", f)
	}
	return int64(f), nil
}

// InferJSON guesses the logical type of a decoded JSON value.
func InferJSON(v any) (model.LogicalType, any) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case bool:
		return model.TypeBoolean, x
	case string:
		return InferValue(x)
	case json.Number:
		return InferValue(x.String())
	}
	if f, ok := Numeric(v); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return model.TypeInteger, int64(f)
		}
		return model.TypeFloat, f
	}
	return "", nil
}

// Numeric safely converts any Go numeric kind to float64.
func Numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	default:
		if v == nil {
			return 0, false
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() >= reflect.Int && rv.Kind() <= reflect.Float64 {
			return rv.Convert(reflect.TypeOf(float64(0))).Float(), true
		}
		return 0, false
	}
}

// WidenType returns the narrowest type able to hold values of a and b.
// An empty type means "no observation yet".
func WidenType(a, b model.LogicalType) model.LogicalType {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	case a.Numeric() && b.Numeric():
		return model.TypeFloat
	}
	return model.TypeString
}
