package reporter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ipfs/boxo/ipld/merkledag"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/spf13/afero"
	"github.com/storacha/go-libstoracha/testutil"
	"github.com/stretchr/testify/require"

	fixtures "github.com/storacha/linkdex/internal/testutil"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/grouping"
	"github.com/storacha/linkdex/pkg/linkdex"
	"github.com/storacha/linkdex/pkg/reporter"
	"github.com/storacha/linkdex/pkg/store/fsstore"
)

type dag struct {
	root   *merkledag.ProtoNode
	leaves []blocks.Block
}

func (d dag) rootCID() cid.Cid { return d.root.Cid() }

// newDAG builds a dag-pb root linking to n distinct raw leaves.
func newDAG(t *testing.T, n int) dag {
	t.Helper()
	var d dag
	var children []format.Node
	for range n {
		leaf := merkledag.NewRawNode(testutil.RandomBytes(t, 64))
		d.leaves = append(d.leaves, leaf)
		children = append(children, leaf)
	}
	d.root = fixtures.PBNode(t, "root", children...)
	return d
}

func newBucket(t *testing.T) (*fsstore.Store, *carstream.Ingestor) {
	t.Helper()
	s := fsstore.New(afero.NewMemMapFs(), "carpark", fsstore.WithPageSize(2))
	return s, carstream.New(s, carstream.WithInitialInterval(time.Millisecond), carstream.WithMaxTries(2))
}

// put stores a CAR of blks under key and returns its reported location.
func put(t *testing.T, s *fsstore.Store, key string, root cid.Cid, blks ...blocks.Block) string {
	t.Helper()
	require.NoError(t, s.Put(t.Context(), key, bytes.NewReader(fixtures.CAR(t, []cid.Cid{root}, blks...))))
	return "carpark/" + key
}

func rawKey(root cid.Cid, uploader, file string) string {
	return reporter.RawPrefix(root) + uploader + "/" + file
}

func TestRaw(t *testing.T) {
	t.Run("single complete archive", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		loc := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0], d.leaves[1])

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, reporter.Report{
			Archives:  []string{loc},
			Structure: linkdex.Complete,
			Summary:   linkdex.Summary{BlocksIndexed: 3, UniqueCids: 3, Undecodable: 0},
		}, report)
	})

	t.Run("archives split within one group are combined", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		a := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])
		b := put(t, s, rawKey(d.rootCID(), "u1", "b.car"), d.rootCID(), d.root, d.leaves[1])

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Equal(t, []string{a, b}, report.Archives)
		require.Equal(t, linkdex.Summary{BlocksIndexed: 4, UniqueCids: 3}, report.Summary)
	})

	t.Run("missing child is Partial", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 3)
		put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, linkdex.Summary{BlocksIndexed: 2, UniqueCids: 4}, report.Summary)
	})

	t.Run("incomplete groups are never merged", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		u1 := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])
		put(t, s, rawKey(d.rootCID(), "u2", "a.car"), d.rootCID(), d.root, d.leaves[1])

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, []string{u1}, report.Archives, "first partial group in listing order wins")
	})

	t.Run("group with more archives is tried first", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)
		a := put(t, s, rawKey(d.rootCID(), "u2", "a.car"), d.rootCID(), d.root, d.leaves[0])
		b := put(t, s, rawKey(d.rootCID(), "u2", "b.car"), d.rootCID(), d.leaves[1])

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Equal(t, []string{a, b}, report.Archives)
	})

	t.Run("size order picks the largest group", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 8)
		big := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)
		put(t, s, rawKey(d.rootCID(), "u2", "a.car"), d.rootCID(), d.root)
		put(t, s, rawKey(d.rootCID(), "u2", "b.car"), d.rootCID(), d.root)

		report, err := reporter.NewRaw(in, reporter.WithOrder(grouping.BySize)).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Equal(t, []string{big}, report.Archives)
	})

	t.Run("stops at the first complete group", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 1)
		a := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)
		put(t, s, rawKey(d.rootCID(), "u1", "b.car"), d.rootCID(), d.leaves...)
		require.NoError(t, s.Put(t.Context(), rawKey(d.rootCID(), "u2", "bad.car"), bytes.NewReader([]byte("not a car"))))

		report, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Contains(t, report.Archives, a)
	})

	t.Run("malformed archive fails the report", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 1)
		require.NoError(t, s.Put(t.Context(), rawKey(d.rootCID(), "u1", "bad.car"), bytes.NewReader([]byte("not a car"))))

		_, err := reporter.NewRaw(in).Report(t.Context(), d.rootCID())
		require.ErrorIs(t, err, carstream.ErrMalformedArchive)
	})

	t.Run("max groups bounds the groups tried", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 1)
		first := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root)
		put(t, s, rawKey(d.rootCID(), "u2", "a.car"), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)

		report, err := reporter.NewRaw(in, reporter.WithMaxGroups(1)).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, []string{first}, report.Archives)

		report, err = reporter.NewRaw(in, reporter.WithMaxGroups(0)).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
	})

	t.Run("undecodable block is Unknown with no archives", func(t *testing.T) {
		s, in := newBucket(t)
		bad := fixtures.Block(t, cid.DagCBOR, []byte{0xff})
		put(t, s, rawKey(bad.Cid(), "u1", "a.car"), bad.Cid(), bad)

		report, err := reporter.NewRaw(in).Report(t.Context(), bad.Cid())
		require.NoError(t, err)
		require.Equal(t, reporter.NullReport(), report)
	})

	t.Run("Partial group wins over an earlier Unknown group", func(t *testing.T) {
		s, in := newBucket(t)
		bad := fixtures.Block(t, cid.DagCBOR, []byte{0xff})
		put(t, s, rawKey(bad.Cid(), "u1", "a.car"), bad.Cid(), bad)
		put(t, s, rawKey(bad.Cid(), "u1", "b.car"), bad.Cid(), bad)
		leaf := fixtures.RawNode("leaf")
		partial := put(t, s, rawKey(bad.Cid(), "u2", "a.car"), bad.Cid(), leaf)

		report, err := reporter.NewRaw(in).Report(t.Context(), bad.Cid())
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, []string{partial}, report.Archives)
		require.Equal(t, linkdex.Summary{BlocksIndexed: 1, UniqueCids: 2}, report.Summary)
	})

	t.Run("ignores files that are not archives", func(t *testing.T) {
		s, in := newBucket(t)
		root := testutil.RandomCID(t).(cidlink.Link).Cid
		require.NoError(t, s.Put(t.Context(), rawKey(root, "u1", "notes.txt"), bytes.NewReader([]byte("hi"))))

		report, err := reporter.NewRaw(in).Report(t.Context(), root)
		require.NoError(t, err)
		require.Equal(t, reporter.NullReport(), report)
	})

	t.Run("canceled context", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 1)
		put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := reporter.NewRaw(in).Report(ctx, d.rootCID())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestComplete(t *testing.T) {
	t.Run("key is base32 CIDv1", func(t *testing.T) {
		d := newDAG(t, 1)
		require.Equal(t, uint64(0), d.rootCID().Version())
		v1 := cid.NewCidV1(cid.DagProtobuf, d.rootCID().Hash())
		require.Equal(t, "complete/"+v1.String()+".car", reporter.CompleteKey(d.rootCID()))
	})

	t.Run("indexes the complete archive", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		loc := put(t, s, reporter.CompleteKey(d.rootCID()), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)

		report, err := reporter.NewComplete(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, []string{loc}, report.Archives)
		require.Equal(t, linkdex.Complete, report.Structure)
	})

	t.Run("archive without the root is Partial", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		put(t, s, reporter.CompleteKey(d.rootCID()), d.rootCID(), d.leaves...)

		report, err := reporter.NewComplete(in).Report(t.Context(), d.rootCID())
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, linkdex.Summary{BlocksIndexed: 2, UniqueCids: 3}, report.Summary)
	})

	t.Run("missing archive is an error", func(t *testing.T) {
		_, in := newBucket(t)
		_, err := reporter.NewComplete(in).Report(t.Context(), newDAG(t, 1).rootCID())
		require.Error(t, err)
	})
}

type stubReporter struct {
	report reporter.Report
	err    error
	calls  int
}

func (s *stubReporter) Report(ctx context.Context, root cid.Cid) (reporter.Report, error) {
	s.calls++
	return s.report, s.err
}

func stub(structure linkdex.Structure, archive string) *stubReporter {
	return &stubReporter{report: reporter.Report{Archives: []string{archive}, Structure: structure}}
}

func TestReportForCID(t *testing.T) {
	root := testutil.RandomCID(t).(cidlink.Link).Cid

	t.Run("first complete short circuits", func(t *testing.T) {
		partial := stub(linkdex.Partial, "p")
		complete := stub(linkdex.Complete, "c")
		after := stub(linkdex.Complete, "later")

		report, err := reporter.ReportForCID(t.Context(), root, partial, complete, after)
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, report.Archives)
		require.Zero(t, after.calls)
	})

	t.Run("partial beats unknown", func(t *testing.T) {
		report, err := reporter.ReportForCID(t.Context(), root,
			stub(linkdex.Unknown, "u"), stub(linkdex.Partial, "p1"), stub(linkdex.Partial, "p2"))
		require.NoError(t, err)
		require.Equal(t, []string{"p1"}, report.Archives)
	})

	t.Run("failing reporters are skipped", func(t *testing.T) {
		report, err := reporter.ReportForCID(t.Context(), root,
			&stubReporter{err: errors.New("boom")}, stub(linkdex.Unknown, "u"))
		require.NoError(t, err)
		require.Equal(t, []string{"u"}, report.Archives)
	})

	t.Run("no reports is the null report", func(t *testing.T) {
		report, err := reporter.ReportForCID(t.Context(), root, &stubReporter{err: errors.New("boom")})
		require.NoError(t, err)
		require.Equal(t, reporter.NullReport(), report)
	})

	t.Run("complete archive preferred over raw", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])
		loc := put(t, s, reporter.CompleteKey(d.rootCID()), d.rootCID(), append([]blocks.Block{d.root}, d.leaves...)...)

		report, err := reporter.ReportForCID(t.Context(), d.rootCID(), reporter.NewComplete(in), reporter.NewRaw(in))
		require.NoError(t, err)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Equal(t, []string{loc}, report.Archives)
	})

	t.Run("falls back to raw archives", func(t *testing.T) {
		s, in := newBucket(t)
		d := newDAG(t, 2)
		loc := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])

		report, err := reporter.ReportForCID(t.Context(), d.rootCID(), reporter.NewComplete(in), reporter.NewRaw(in))
		require.NoError(t, err)
		require.Equal(t, linkdex.Partial, report.Structure)
		require.Equal(t, []string{loc}, report.Archives)
	})

	t.Run("absent root is the null report", func(t *testing.T) {
		_, in := newBucket(t)
		report, err := reporter.ReportForCID(t.Context(), root, reporter.NewComplete(in), reporter.NewRaw(in))
		require.NoError(t, err)
		require.Equal(t, reporter.NullReport(), report)
	})
}

func TestParseRoot(t *testing.T) {
	_, err := reporter.ParseRoot("")
	require.ErrorIs(t, err, reporter.ErrInvalidCID)

	_, err = reporter.ParseRoot("not-a-cid")
	require.ErrorIs(t, err, reporter.ErrInvalidCID)

	root := testutil.RandomCID(t).(cidlink.Link).Cid
	got, err := reporter.ParseRoot(" " + root.String() + "\n")
	require.NoError(t, err)
	require.Equal(t, root, got)
}

func TestReportJSON(t *testing.T) {
	data, err := json.Marshal(reporter.NullReport())
	require.NoError(t, err)
	require.JSONEq(t, `{"archives":[],"structure":"Unknown","blocksIndexed":0,"uniqueCids":0,"undecodable":0}`, string(data))
}

func TestSiblings(t *testing.T) {
	s, in := newBucket(t)
	d := newDAG(t, 2)
	a := put(t, s, rawKey(d.rootCID(), "u1", "a.car"), d.rootCID(), d.root, d.leaves[0])
	b := put(t, s, rawKey(d.rootCID(), "u1", "b.car"), d.rootCID(), d.leaves[1])
	put(t, s, rawKey(d.rootCID(), "u2", "c.car"), d.rootCID(), d.root)
	require.NoError(t, s.Put(t.Context(), rawKey(d.rootCID(), "u1", "meta.json"), bytes.NewReader([]byte("{}"))))
	sib := reporter.NewSiblings(in, 2)

	t.Run("indexes every archive in the directory", func(t *testing.T) {
		report, err := sib.ReportForKey(t.Context(), rawKey(d.rootCID(), "u1", "b.car"))
		require.NoError(t, err)
		require.Equal(t, []string{a, b}, report.Archives)
		require.Equal(t, linkdex.Complete, report.Structure)
		require.Equal(t, linkdex.Summary{BlocksIndexed: 3, UniqueCids: 3}, report.Summary)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := sib.ReportForKey(t.Context(), "")
		require.ErrorIs(t, err, reporter.ErrMissingKey)
	})

	for _, key := range []string{
		"complete/" + d.rootCID().String() + ".car",
		"raw/" + d.rootCID().String() + "/u1/a.txt",
		"raw/" + d.rootCID().String() + "/a.car",
		"raw/" + d.rootCID().String() + "/u1/x/a.car",
		rawKey(d.rootCID(), "u1", "missing.car"),
	} {
		t.Run(fmt.Sprintf("forbidden %s", key), func(t *testing.T) {
			_, err := sib.ReportForKey(t.Context(), key)
			require.ErrorIs(t, err, reporter.ErrForbiddenKey)
		})
	}
}
