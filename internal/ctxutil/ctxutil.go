// Package ctxutil reports why a context ended.
package ctxutil

import (
	"context"
	"fmt"
)

// Err returns nil while ctx is live. Once it is done, Err returns ctx.Err(),
// wrapped together with the cause when one was given, so that both match
// with errors.Is.
func Err(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil || cause == err {
		return err
	}
	return fmt.Errorf("%w: %w", err, cause)
}
