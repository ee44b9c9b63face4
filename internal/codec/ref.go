package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// RefExtID is the msgpack extension type used for object references.
const RefExtID int8 = 1

// Ref is a reference to the persisted object with the given id.
type Ref uint32

// NewRef returns a reference to oid. It fails if oid does not fit the
// 4-byte wire form.
func NewRef(oid int64) (*Ref, error) {
	if oid <= 0 || oid > math.MaxUint32 {
		return nil, fmt.Errorf("object id %d out of range", oid)
	}
	r := Ref(oid)
	return &r, nil
}

// OID returns the referenced object id.
func (r *Ref) OID() uint32 {
	return uint32(*r)
}

// MarshalMsgpack implements msgpack.Marshaler for the extension payload.
func (r *Ref) MarshalMsgpack() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(*r))
	return b, nil
}

// UnmarshalMsgpack implements msgpack.Unmarshaler for the extension payload.
func (r *Ref) UnmarshalMsgpack(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("object reference: want 4 bytes, got %d", len(b))
	}
	*r = Ref(binary.BigEndian.Uint32(b))
	return nil
}

func (r *Ref) String() string {
	return fmt.Sprintf("ref(%d)", uint32(*r))
}

func init() {
	msgpack.RegisterExt(RefExtID, (*Ref)(nil))
}
