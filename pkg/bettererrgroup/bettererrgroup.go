// Package bettererrgroup wraps [errgroup.Group] so that a panicking worker
// fails the group with its own stack trace instead of crashing the process.
package bettererrgroup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Group is a [errgroup.Group] whose goroutines report panics as
// [PanicError].
type Group struct {
	*errgroup.Group
}

// WithContext returns a Group and a context that is canceled when any
// goroutine fails. A limit above zero bounds how many goroutines run at once.
func WithContext(ctx context.Context, limit int) (*Group, context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	return &Group{Group: group}, ctx
}

// PanicError carries the value recovered from a worker and the worker's
// stack at the time of the panic.
type PanicError struct {
	recovered any
	stack     string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.recovered, e.stack)
}

func (e PanicError) Unwrap() error {
	err, _ := e.recovered.(error)
	return err
}

func (e PanicError) Recovered() any { return e.recovered }

func (e PanicError) Stack() string { return e.stack }

func (g *Group) Go(f func() error) {
	g.Group.Go(guard(f))
}

// TryGo starts f only if the limit allows it right now.
func (g *Group) TryGo(f func() error) bool {
	return g.Group.TryGo(guard(f))
}

func guard(f func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError{recovered: r, stack: string(debug.Stack())}
			}
		}()
		return f()
	}
}
