package codec

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value in the codec's value domain. Map keys are sorted
// so equal values produce equal bytes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes bytes produced by Marshal. References come back as *Ref.
func Unmarshal(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	out, err := Map(v, fromWire)
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}

// MarshalAttrs encodes an attribute dictionary.
func MarshalAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return Marshal(attrs)
}

// UnmarshalAttrs decodes an attribute dictionary. Empty input yields an
// empty dictionary.
func UnmarshalAttrs(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("unmarshal attributes: got %T, want map", v)
	}
}

// MarshalKey encodes a root item key.
func MarshalKey(key string) ([]byte, error) {
	b, err := msgpack.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return b, nil
}

// UnmarshalKey decodes a root item key.
func UnmarshalKey(data []byte) (string, error) {
	var key string
	if err := msgpack.Unmarshal(data, &key); err != nil {
		return "", fmt.Errorf("unmarshal key: %w", err)
	}
	return key, nil
}

// MarshalRefcounts encodes the reference count table as a msgpack map with
// ascending object ids.
func MarshalRefcounts(counts map[uint32]int64) ([]byte, error) {
	oids := make([]uint32, 0, len(counts))
	for oid := range counts {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(oids)); err != nil {
		return nil, fmt.Errorf("marshal refcounts: %w", err)
	}
	for _, oid := range oids {
		if err := enc.EncodeUint32(oid); err != nil {
			return nil, fmt.Errorf("marshal refcounts: %w", err)
		}
		if err := enc.EncodeInt64(counts[oid]); err != nil {
			return nil, fmt.Errorf("marshal refcounts: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalRefcounts decodes a table written by MarshalRefcounts. Empty
// input yields an empty table.
func UnmarshalRefcounts(data []byte) (map[uint32]int64, error) {
	counts := make(map[uint32]int64)
	if len(data) == 0 {
		return counts, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, fmt.Errorf("unmarshal refcounts: %w", err)
	}
	for i := 0; i < n; i++ {
		oid, err := dec.DecodeUint32()
		if err != nil {
			return nil, fmt.Errorf("unmarshal refcounts: entry %d: %w", i, err)
		}
		count, err := dec.DecodeInt64()
		if err != nil {
			return nil, fmt.Errorf("unmarshal refcounts: entry %d: %w", i, err)
		}
		counts[oid] = count
	}
	return counts, nil
}

// MarshalClassNames encodes the class index → name list.
func MarshalClassNames(names []string) ([]byte, error) {
	if names == nil {
		names = []string{}
	}
	b, err := msgpack.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("marshal class names: %w", err)
	}
	return b, nil
}

// UnmarshalClassNames decodes the class list. Empty input yields no names.
func UnmarshalClassNames(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var names []string
	if err := msgpack.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("unmarshal class names: %w", err)
	}
	return names, nil
}

// fromWire maps loosely decoded scalars back into the value domain.
func fromWire(v any) (any, error) {
	switch t := v.(type) {
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case Ref:
		return &t, nil
	default:
		return Primitive(v)
	}
}
