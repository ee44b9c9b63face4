// Package codec encodes attribute dictionaries and root values for storage.
//
// Values are serialized as msgpack. The supported value domain is closed:
//   - nil, bool, int64, float64, string, []byte
//   - []any and map[string]any containing supported values
//   - *Ref, a reference to a persisted object
//
// A Ref is written as msgpack extension type 1 carrying the object id as a
// 4-byte big-endian integer. It is never an embedded copy of the target.
//
// codec knows nothing about live objects. Callers translate between their own
// object handles and Ref values with Map before Marshal and after Unmarshal.
package codec
