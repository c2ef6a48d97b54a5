package linkdex

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	dagpb "github.com/ipld/go-codec-dagpb"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/codec/cbor"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/codec/dagjson"
	"github.com/ipld/go-ipld-prime/codec/json"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/traversal"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrUnsupportedCodec is returned when a block's codec has no decoder.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrUndecodable is returned when a block's bytes do not decode with the
	// codec named by its CID.
	ErrUndecodable = errors.New("undecodable block")
)

// linkless codecs can be decoded but never contain links.
var linkless = map[multicodec.Code]ipld.Decoder{
	multicodec.Json: json.Decode,
	multicodec.Cbor: cbor.Decode,
}

var linking = map[multicodec.Code]ipld.Decoder{
	multicodec.DagPb:   dagpb.Decode,
	multicodec.DagCbor: dagcbor.Decode,
	multicodec.DagJson: dagjson.Decode,
}

// IsRaw reports whether the CID addresses a raw leaf.
func IsRaw(c cid.Cid) bool {
	return c.Prefix().Codec == cid.Raw
}

// IsIdentity reports whether the CID uses the identity hash function, and so
// carries its own payload.
func IsIdentity(c cid.Cid) bool {
	return c.Prefix().MhType == multihash.IDENTITY
}

// IdentityPayload returns the bytes inlined in an identity CID.
func IdentityPayload(c cid.Cid) ([]byte, error) {
	dmh, err := multihash.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("decoding multihash of %s: %w", c, err)
	}
	if dmh.Code != multihash.IDENTITY {
		return nil, fmt.Errorf("%s is not an identity CID", c)
	}
	return dmh.Digest, nil
}

// ExtractLinks decodes a block with the codec named by its CID and returns
// every unique link found anywhere in the decoded value, in the order they
// were first encountered. Raw blocks have no links and are never decoded.
func ExtractLinks(c cid.Cid, data []byte) ([]cid.Cid, error) {
	codec := multicodec.Code(c.Prefix().Codec)
	if codec == multicodec.Raw {
		return []cid.Cid{}, nil
	}
	if decoder, ok := linkless[codec]; ok {
		if _, err := ipld.Decode(data, decoder); err != nil {
			return nil, fmt.Errorf("%w: decoding %s block %s: %w", ErrUndecodable, codec, c, err)
		}
		return []cid.Cid{}, nil
	}
	decoder, ok := linking[codec]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedCodec, codec, c)
	}
	n, err := ipld.Decode(data, decoder)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s block %s: %w", ErrUndecodable, codec, c, err)
	}
	links, err := traversal.SelectLinks(n)
	if err != nil {
		return nil, fmt.Errorf("%w: selecting links in %s: %w", ErrUndecodable, c, err)
	}
	seen := map[string]struct{}{}
	keys := make([]cid.Cid, 0, len(links))
	for _, l := range links {
		lc, err := toCID(l)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
		}
		k := lc.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, lc)
	}
	return keys, nil
}

// toCID converts an IPLD link to a CID. Links that are not already a
// [cidlink.Link] are parsed from their string form.
func toCID(l ipld.Link) (cid.Cid, error) {
	if cl, ok := l.(cidlink.Link); ok {
		return cl.Cid, nil
	}
	c, err := cid.Parse(l.String())
	if err != nil {
		return cid.Undef, fmt.Errorf("parsing link CID %q: %w", l.String(), err)
	}
	return c, nil
}
