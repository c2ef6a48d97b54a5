package bettererrgroup_test

import (
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storacha/linkdex/pkg/bettererrgroup"
)

func panicWhileDecoding() error {
	panic("test panic")
}

func TestGroup(t *testing.T) {
	t.Run("reports panics with the worker stack", func(t *testing.T) {
		eg, ctx := bettererrgroup.WithContext(t.Context(), 0)
		eg.Go(panicWhileDecoding)
		err := eg.Wait()

		var pErr bettererrgroup.PanicError
		require.ErrorAs(t, err, &pErr)
		require.Equal(t, "test panic", pErr.Recovered())
		require.Regexp(t, regexp.MustCompile(`bettererrgroup_test\.panicWhileDecoding\(\)`), pErr.Stack())
		require.Contains(t, pErr.Error(), "panic: test panic")
		require.Error(t, ctx.Err())
	})

	t.Run("unwraps panicked errors", func(t *testing.T) {
		sentinel := errors.New("boom")
		eg, _ := bettererrgroup.WithContext(t.Context(), 0)
		eg.Go(func() error { panic(sentinel) })
		require.ErrorIs(t, eg.Wait(), sentinel)
	})

	t.Run("bounds concurrency", func(t *testing.T) {
		eg, _ := bettererrgroup.WithContext(t.Context(), 2)
		var running, peak atomic.Int32
		for range 8 {
			eg.Go(func() error {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		require.LessOrEqual(t, peak.Load(), int32(2))
		require.Positive(t, peak.Load())
	})
}
