package testutil

import (
	"fmt"
	"testing"

	"github.com/ipfs/boxo/ipld/merkledag"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	basicnode "github.com/ipld/go-ipld-prime/node/basic"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

// PBNode builds a dag-pb node holding data and linking to children.
func PBNode(t testing.TB, data string, children ...format.Node) *merkledag.ProtoNode {
	t.Helper()
	nd := merkledag.NodeWithData([]byte(data))
	for i, child := range children {
		require.NoError(t, nd.AddNodeLink(fmt.Sprintf("%d", i), child))
	}
	return nd
}

// RawNode builds a raw leaf block.
func RawNode(data string) *merkledag.RawNode {
	return merkledag.NewRawNode([]byte(data))
}

// CBORBlock encodes the map built by fn as a dag-cbor block.
func CBORBlock(t testing.TB, fn func(ma datamodel.MapAssembler)) blocks.Block {
	t.Helper()
	n, err := qp.BuildMap(basicnode.Prototype.Any, -1, fn)
	require.NoError(t, err)
	data, err := ipld.Encode(n, dagcbor.Encode)
	require.NoError(t, err)
	c, err := cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: multihash.SHA2_256, MhLength: -1}.Sum(data)
	require.NoError(t, err)
	blk, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)
	return blk
}

// Link returns an assembler for a CID link, for use with [CBORBlock].
func Link(c cid.Cid) qp.Assemble {
	return qp.Link(cidlink.Link{Cid: c})
}

// IdentityCID builds an identity-hashed CID inlining payload.
func IdentityCID(t testing.TB, codec uint64, payload []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(payload, multihash.IDENTITY, -1)
	require.NoError(t, err)
	return cid.NewCidV1(codec, mh)
}

// Block builds a block with a sha2-256 CID of the given codec without
// checking that data is valid for the codec.
func Block(t testing.TB, codec uint64, data []byte) blocks.Block {
	t.Helper()
	c, err := cid.Prefix{Version: 1, Codec: codec, MhType: multihash.SHA2_256, MhLength: -1}.Sum(data)
	require.NoError(t, err)
	blk, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)
	return blk
}
