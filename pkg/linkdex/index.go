package linkdex

import (
	"iter"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-libstoracha/digestutil"
)

var log = logging.Logger("pkg/linkdex")

// Recorder accepts blocks read from an archive.
type Recorder interface {
	RecordBlock(blk blocks.Block)
}

// Summary holds the counters reported alongside a Structure.
type Summary struct {
	// BlocksIndexed is the number of blocks recorded, duplicates included.
	BlocksIndexed int `json:"blocksIndexed"`
	// UniqueCids is the number of distinct CIDs seen, either as a stored block
	// or as a link target.
	UniqueCids int `json:"uniqueCids"`
	// Undecodable is the number of blocks that failed to decode.
	Undecodable int `json:"undecodable"`
}

// Index accumulates the links between blocks and classifies how complete the
// DAG they describe is. An Index must only ever see blocks from a single
// ownership group.
//
// RecordBlock may be called concurrently. Decoding happens outside the lock;
// only updates to the maps are serialized.
type Index struct {
	mu          sync.Mutex
	blocks      int
	order       []string
	present     map[string]cid.Cid
	entries     map[string][]cid.Cid
	undecodable map[string]struct{}
	referenced  map[string]cid.Cid
	roots       map[string]cid.Cid
}

var _ Recorder = (*Index)(nil)

func NewIndex() *Index {
	return &Index{
		present:     map[string]cid.Cid{},
		entries:     map[string][]cid.Cid{},
		undecodable: map[string]struct{}{},
		referenced:  map[string]cid.Cid{},
		roots:       map[string]cid.Cid{},
	}
}

// DeclareRoot marks a CID as required for the DAG to be Complete. Declared
// roots count towards UniqueCids only once a block has been recorded.
func (i *Index) DeclareRoot(root cid.Cid) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.roots[root.String()] = root
}

// RecordBlock decodes a block and records the links it contains. Recording a
// CID a second time only increments BlocksIndexed.
func (i *Index) RecordBlock(blk blocks.Block) {
	c := blk.Cid()
	key := c.String()

	i.mu.Lock()
	i.blocks++
	_, dup := i.present[key]
	if !dup {
		i.present[key] = c
		i.order = append(i.order, key)
	}
	i.mu.Unlock()

	if dup || IsRaw(c) {
		return
	}

	links, err := ExtractLinks(c, blk.RawData())
	var inlined, bad []cid.Cid
	if err == nil {
		inlined, bad = expandInlined(links)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		log.Debugw("block failed to decode", "cid", key, "digest", digestutil.Format(c.Hash()), "error", err)
		i.undecodable[key] = struct{}{}
		return
	}
	i.entries[key] = links
	for _, l := range links {
		i.referenced[l.String()] = l
	}
	for _, l := range inlined {
		i.referenced[l.String()] = l
	}
	for _, b := range bad {
		i.undecodable[b.String()] = struct{}{}
	}
}

// expandInlined walks the payloads of identity CIDs among links, returning
// the further CIDs they reference and any identity CIDs whose payload failed
// to decode.
func expandInlined(links []cid.Cid) (found, bad []cid.Cid) {
	visited := map[string]struct{}{}
	queue := append([]cid.Cid{}, links...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if !IsIdentity(c) || IsRaw(c) {
			continue
		}
		if _, ok := visited[c.String()]; ok {
			continue
		}
		visited[c.String()] = struct{}{}

		payload, err := IdentityPayload(c)
		if err != nil {
			bad = append(bad, c)
			continue
		}
		children, err := ExtractLinks(c, payload)
		if err != nil {
			log.Debugw("inline block failed to decode", "cid", c.String(), "error", err)
			bad = append(bad, c)
			continue
		}
		found = append(found, children...)
		queue = append(queue, children...)
	}
	return found, bad
}

// Links yields each recorded, decodable, non-raw block with the CIDs it links
// to, in the order the blocks were first recorded.
func (i *Index) Links() iter.Seq2[cid.Cid, []cid.Cid] {
	i.mu.Lock()
	type entry struct {
		cid   cid.Cid
		links []cid.Cid
	}
	snapshot := make([]entry, 0, len(i.entries))
	for _, key := range i.order {
		links, ok := i.entries[key]
		if !ok {
			continue
		}
		snapshot = append(snapshot, entry{cid: i.present[key], links: links})
	}
	i.mu.Unlock()

	return func(yield func(cid.Cid, []cid.Cid) bool) {
		for _, e := range snapshot {
			if !yield(e.cid, e.links) {
				return
			}
		}
	}
}

// Has reports whether a block for the CID has been recorded.
func (i *Index) Has(c cid.Cid) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.present[c.String()]
	return ok
}

// Missing returns the referenced CIDs (and declared roots) that have no
// recorded block and are not inlined.
func (i *Index) Missing() []cid.Cid {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.missing()
}

func (i *Index) missing() []cid.Cid {
	var out []cid.Cid
	check := func(set map[string]cid.Cid) {
		for key, c := range set {
			if _, ok := i.present[key]; ok || IsIdentity(c) {
				continue
			}
			out = append(out, c)
		}
	}
	check(i.referenced)
	for key, c := range i.roots {
		if _, ok := i.referenced[key]; ok {
			continue
		}
		if _, ok := i.present[key]; ok || IsIdentity(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Structure classifies the DAG described by the recorded blocks. It never
// returns Complete if any block failed to decode.
func (i *Index) Structure() Structure {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.blocks == 0 {
		return Unknown
	}
	if len(i.missing()) > 0 {
		return Partial
	}
	if len(i.undecodable) > 0 {
		return Unknown
	}
	return Complete
}

func (i *Index) Summary() Summary {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.blocks == 0 {
		return Summary{}
	}
	unique := len(i.present)
	for key := range i.referenced {
		if _, ok := i.present[key]; !ok {
			unique++
		}
	}
	for key := range i.roots {
		_, stored := i.present[key]
		_, linked := i.referenced[key]
		if !stored && !linked {
			unique++
		}
	}
	return Summary{
		BlocksIndexed: i.blocks,
		UniqueCids:    unique,
		Undecodable:   len(i.undecodable),
	}
}
