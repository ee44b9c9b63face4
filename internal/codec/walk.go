package codec

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnsupportedValue is returned for values outside the codec's value domain.
var ErrUnsupportedValue = errors.New("unsupported value")

// LeafFunc transforms a single non-container value.
type LeafFunc func(v any) (any, error)

// Map rebuilds v, applying fn to every value that is not a []any or a
// map[string]any. Containers are always copied, so the result never aliases v.
func Map(v any, fn LeafFunc) (any, error) {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			m, err := Map(e, fn)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = m
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			m, err := Map(e, fn)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = m
		}
		return out, nil
	default:
		return fn(v)
	}
}

// MapAttrs applies Map to every value of an attribute dictionary.
func MapAttrs(attrs map[string]any, fn LeafFunc) (map[string]any, error) {
	out, err := Map(attrs, fn)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// Refs returns the object ids referenced anywhere inside v, in walk order.
// Map keys are visited in sorted order so the result is deterministic.
func Refs(v any) []uint32 {
	var out []uint32
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case *Ref:
			if t != nil {
				out = append(out, t.OID())
			}
		case Ref:
			out = append(out, uint32(t))
		}
	}
	walk(v)
	return out
}

// Primitive normalizes a scalar into the codec's value domain: integer kinds
// become int64, float32 becomes float64. References pass through unchanged.
func Primitive(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string, []byte, *Ref:
		return t, nil
	case Ref:
		return &t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Normalize validates v and returns a copy in the codec's value domain.
func Normalize(v any) (any, error) {
	return Map(v, Primitive)
}
