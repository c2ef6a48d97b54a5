package linktable

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("linktable: CBOR encoder initialization failed: " + err.Error())
	}
}

type value struct {
	Bytes []byte   `cbor:"1,keyasint"`
	Links []string `cbor:"2,keyasint"`
}

// MarshalCBOR encodes the bytes and links of r in deterministic CBOR, for
// key-value backends that key records by CID.
func MarshalCBOR(r Record) ([]byte, error) {
	return encMode.Marshal(value{Bytes: r.Bytes, Links: LinkStrings(r.Links)})
}

// UnmarshalCBOR decodes a value written by MarshalCBOR as the record for c.
func UnmarshalCBOR(c cid.Cid, data []byte) (Record, error) {
	var v value
	if err := cbor.Unmarshal(data, &v); err != nil {
		return Record{}, fmt.Errorf("decoding %s: %w", c, err)
	}
	links, err := ParseLinks(v.Links)
	if err != nil {
		return Record{}, fmt.Errorf("parsing links of %s: %w", c, err)
	}
	return Record{CID: c, Bytes: v.Bytes, Links: links}, nil
}
