// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrRange is reported when a wire number does not fit the declared type of
// a field. Numbers are never truncated or wrapped.
var ErrRange = errors.New("value out of range")

// wireInt returns the integer value of the wire number w.  A number with a
// fractional part is an error.
func wireInt(w any) (int64, error) {
	switch v := w.(type) {
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err == nil {
			return n, nil
		} else if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%s: %w", v, ErrRange)
		}
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return floatInt(f)
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d: %w", v, ErrRange)
		}
		return int64(v), nil
	case float64:
		return floatInt(v)
	case float32:
		return floatInt(float64(v))
	}
	return 0, fmt.Errorf("got %T, want number", w)
}

// wireUint returns the unsigned integer value of the wire number w.
func wireUint(w any) (uint64, error) {
	switch v := w.(type) {
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err == nil {
			return n, nil
		} else if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%s: %w", v, ErrRange)
		}
		// Negative values and values in exponent form land here.
		s, err := wireInt(v)
		if err != nil {
			return 0, err
		} else if s < 0 {
			return 0, fmt.Errorf("%d: %w", s, ErrRange)
		}
		return uint64(s), nil
	case uint64:
		return v, nil
	case int64, int, float64, float32:
		s, err := wireInt(v)
		if err != nil {
			return 0, err
		} else if s < 0 {
			return 0, fmt.Errorf("%d: %w", s, ErrRange)
		}
		return uint64(s), nil
	}
	return 0, fmt.Errorf("got %T, want number", w)
}

// wireFloat returns the floating-point value of the wire number w.
func wireFloat(w any) (float64, error) {
	switch v := w.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%s: %w", v, ErrRange)
		} else if err != nil {
			return 0, fmt.Errorf("invalid number %q", v)
		}
		return f, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("got %T, want number", w)
}

func floatInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsNaN(f) {
		return 0, fmt.Errorf("%g is not an integer", f)
	} else if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%g: %w", f, ErrRange)
	}
	return int64(f), nil
}
