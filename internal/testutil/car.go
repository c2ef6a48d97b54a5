package testutil

import (
	"bytes"
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	ipldcar "github.com/ipld/go-car"
	"github.com/ipld/go-car/util"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/require"
)

// CAR encodes the blocks as a CARv1 with the given roots, in the order given.
func CAR(t testing.TB, roots []cid.Cid, blks ...blocks.Block) []byte {
	t.Helper()

	header, err := cbor.DumpObject(ipldcar.CarHeader{Roots: roots, Version: 1})
	require.NoError(t, err, "encoding CAR header")

	var buf bytes.Buffer
	require.NoError(t, util.LdWrite(&buf, header), "length-delimiting CAR header")
	for _, b := range blks {
		writeSection(&buf, b)
	}
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, b blocks.Block) {
	c := b.Cid().Bytes()
	buf.Write(varint.ToUvarint(uint64(len(c) + len(b.RawData()))))
	buf.Write(c)
	buf.Write(b.RawData())
}

// CorruptSection returns a CAR whose first section declares a length far
// larger than the remaining data, after a valid header.
func CorruptSection(t testing.TB, roots []cid.Cid) []byte {
	t.Helper()
	car := CAR(t, roots)
	car = append(car, varint.ToUvarint(1<<20)...)
	return append(car, 0x01, 0x71, 0x12)
}
