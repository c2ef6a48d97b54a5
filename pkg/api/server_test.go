package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/spf13/afero"
	"github.com/storacha/go-libstoracha/testutil"
	"github.com/stretchr/testify/require"

	fixtures "github.com/storacha/linkdex/internal/testutil"
	"github.com/storacha/linkdex/pkg/api"
	"github.com/storacha/linkdex/pkg/carstream"
	"github.com/storacha/linkdex/pkg/linktable/dstable"
	"github.com/storacha/linkdex/pkg/pipeline"
	"github.com/storacha/linkdex/pkg/reporter"
	"github.com/storacha/linkdex/pkg/store"
	"github.com/storacha/linkdex/pkg/store/fsstore"
)

type env struct {
	fs     afero.Fs
	store  *fsstore.Store
	server *api.Server
	root   cid.Cid
	blocks []blocks.Block
}

func newEnv(t *testing.T, opts ...api.Option) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	s := fsstore.New(fs, "carpark")
	in := carstream.New(s, carstream.WithInitialInterval(time.Millisecond), carstream.WithMaxTries(1))

	l1 := fixtures.RawNode("leaf one")
	l2 := fixtures.RawNode("leaf two")
	root := fixtures.PBNode(t, "root", l1, l2)

	p := pipeline.New(func(bucket string) (store.Store, error) { return s, nil },
		dstable.New(dssync.MutexWrap(datastore.NewMapDatastore())),
		pipeline.WithRetry(1, time.Millisecond))

	opts = append([]api.Option{
		api.WithReporters(reporter.NewComplete(in), reporter.NewRaw(in)),
		api.WithSiblings(reporter.NewSiblings(in, 2)),
		api.WithPipeline(p),
	}, opts...)
	srv, err := api.New(opts...)
	require.NoError(t, err)
	return &env{fs: fs, store: s, server: srv, root: root.Cid(), blocks: []blocks.Block{root, l1, l2}}
}

func (e *env) put(t *testing.T, key string, blks ...blocks.Block) {
	t.Helper()
	require.NoError(t, e.store.Put(t.Context(), key, bytes.NewReader(fixtures.CAR(t, []cid.Cid{e.root}, blks...))))
}

func (e *env) do(t *testing.T, method, target string, body []byte) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func errorDetails(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "body has an error object: %v", body)
	details, _ := e["details"].(string)
	return details
}

func TestCIDRoutes(t *testing.T) {
	t.Run("full report", func(t *testing.T) {
		e := newEnv(t)
		e.put(t, reporter.RawPrefix(e.root)+"u1/a.car", e.blocks...)

		code, body := e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "Complete", body["structure"])
		require.Equal(t, []any{"carpark/" + reporter.RawPrefix(e.root) + "u1/a.car"}, body["archives"])
		require.EqualValues(t, 3, body["blocksIndexed"])
		require.EqualValues(t, 3, body["uniqueCids"])
		require.EqualValues(t, 0, body["undecodable"])
	})

	t.Run("structure only", func(t *testing.T) {
		e := newEnv(t)
		e.put(t, reporter.RawPrefix(e.root)+"u1/a.car", e.blocks[:2]...)

		code, body := e.do(t, http.MethodGet, "/cid/"+e.root.String()+"/structure", nil)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, map[string]any{"structure": "Partial"}, body)
	})

	t.Run("invalid cid", func(t *testing.T) {
		e := newEnv(t)
		code, body := e.do(t, http.MethodGet, "/cid/nope", nil)
		require.Equal(t, http.StatusBadRequest, code)
		require.Contains(t, errorDetails(t, body), "cid is invalid")
	})

	t.Run("absent cid is the null report", func(t *testing.T) {
		e := newEnv(t)
		code, body := e.do(t, http.MethodGet, "/cid/"+testutil.RandomCID(t).(cidlink.Link).Cid.String(), nil)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, map[string]any{
			"archives": []any{}, "structure": "Unknown", "blocksIndexed": float64(0), "uniqueCids": float64(0), "undecodable": float64(0),
		}, body)
	})

	t.Run("complete reports are cached", func(t *testing.T) {
		e := newEnv(t)
		key := reporter.RawPrefix(e.root) + "u1/a.car"
		e.put(t, key, e.blocks...)

		_, body := e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, "Complete", body["structure"])

		require.NoError(t, e.fs.Remove("/"+key))
		_, body = e.do(t, http.MethodGet, "/cid/"+e.root.String()+"/structure", nil)
		require.Equal(t, "Complete", body["structure"])
	})

	t.Run("cached reports are keyed by the requested cid", func(t *testing.T) {
		e := newEnv(t)
		v1 := cid.NewCidV1(e.root.Type(), e.root.Hash())
		e.put(t, reporter.RawPrefix(v1)+"u1/a.car", e.blocks...)

		_, body := e.do(t, http.MethodGet, "/cid/"+v1.String(), nil)
		require.Equal(t, "Complete", body["structure"])

		_, body = e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, "Unknown", body["structure"])
		require.Equal(t, []any{}, body["archives"])
	})

	t.Run("partial reports are not cached", func(t *testing.T) {
		e := newEnv(t)
		e.put(t, reporter.RawPrefix(e.root)+"u1/a.car", e.blocks[:2]...)

		_, body := e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, "Partial", body["structure"])

		e.put(t, reporter.RawPrefix(e.root)+"u1/b.car", e.blocks[2])
		_, body = e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, "Complete", body["structure"])
	})

	t.Run("request deadline", func(t *testing.T) {
		e := newEnv(t, api.WithReporters(blockingReporter{}), api.WithRequestTimeout(10*time.Millisecond))
		code, body := e.do(t, http.MethodGet, "/cid/"+e.root.String(), nil)
		require.Equal(t, http.StatusInternalServerError, code)
		require.Contains(t, errorDetails(t, body), "deadline exceeded")
		require.Contains(t, errorDetails(t, body), api.ErrRequestTimeout.Error())
	})
}

type blockingReporter struct{}

func (blockingReporter) Report(ctx context.Context, root cid.Cid) (reporter.Report, error) {
	<-ctx.Done()
	return reporter.Report{}, ctx.Err()
}

func TestKeyRoute(t *testing.T) {
	e := newEnv(t)
	key := reporter.RawPrefix(e.root) + "u1/a.car"
	e.put(t, key, e.blocks...)

	t.Run("reports siblings", func(t *testing.T) {
		code, body := e.do(t, http.MethodGet, "/?key="+url.QueryEscape(key), nil)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "Complete", body["structure"])
	})

	t.Run("missing key", func(t *testing.T) {
		code, body := e.do(t, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusBadRequest, code)
		require.Equal(t, "key query param is required", errorDetails(t, body))
	})

	t.Run("forbidden layout", func(t *testing.T) {
		code, body := e.do(t, http.MethodGet, "/?key="+url.QueryEscape("complete/x.car"), nil)
		require.Equal(t, http.StatusForbidden, code)
		require.Contains(t, errorDetails(t, body), "key is forbidden")
	})

	t.Run("absent object", func(t *testing.T) {
		code, _ := e.do(t, http.MethodGet, "/?key="+url.QueryEscape(reporter.RawPrefix(e.root)+"u1/zzz.car"), nil)
		require.Equal(t, http.StatusForbidden, code)
	})
}

func TestEventsRoute(t *testing.T) {
	notification := func(t *testing.T, keys ...string) []byte {
		var records []lambdaevents.S3EventRecord
		for _, k := range keys {
			records = append(records, lambdaevents.S3EventRecord{
				EventSource: "aws:s3",
				EventName:   "ObjectCreated:Put",
				S3: lambdaevents.S3Entity{
					Bucket: lambdaevents.S3Bucket{Name: "carpark"},
					Object: lambdaevents.S3Object{Key: k},
				},
			})
		}
		msg, err := json.Marshal(lambdaevents.S3Event{Records: records})
		require.NoError(t, err)
		body, err := json.Marshal(lambdaevents.SNSEvent{Records: []lambdaevents.SNSEventRecord{{SNS: lambdaevents.SNSEntity{Message: string(msg)}}}})
		require.NoError(t, err)
		return body
	}

	t.Run("indexes created archives", func(t *testing.T) {
		e := newEnv(t)
		key := reporter.RawPrefix(e.root) + "u1/a.car"
		e.put(t, key, e.blocks...)

		code, body := e.do(t, http.MethodPost, "/events", notification(t, key))
		require.Equal(t, http.StatusOK, code)
		results := body["results"].([]any)
		require.Len(t, results, 1)
		require.EqualValues(t, 1, results[0].(map[string]any)["records"])
	})

	t.Run("failures are a server error", func(t *testing.T) {
		e := newEnv(t)
		code, body := e.do(t, http.MethodPost, "/events", notification(t, "raw/r/u/missing.car"))
		require.Equal(t, http.StatusInternalServerError, code)
		require.Contains(t, errorDetails(t, body), "not found")
	})

	t.Run("bad body", func(t *testing.T) {
		e := newEnv(t)
		code, _ := e.do(t, http.MethodPost, "/events", []byte("{"))
		require.Equal(t, http.StatusBadRequest, code)
	})
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
}
