// Package fanout runs a list of tasks under a fixed concurrency ceiling.
package fanout

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Logger defines the logging behaviour required by the pool.
type Logger interface {
	Printf(format string, v ...any)
}

// Outcome is the result of a single task. Value is only meaningful when
// Present is true; a task that failed with a non-fatal error is absent.
type Outcome[T any] struct {
	Value   T
	Present bool
}

// Pool bundles the concurrency limit and an optional logger for swallowed
// task failures.
type Pool struct {
	Limit  int
	Logger Logger
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as one that must reach the caller of Map rather than
// degrading the task to an absent outcome.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Map invokes fn for every item with at most p.Limit invocations outstanding
// and returns outcomes aligned with items. A failing task never stops its
// siblings. Non-fatal failures become absent outcomes; the first fatal failure
// in input order is returned (unwrapped) alongside the collected outcomes.
func Map[I, O any](ctx context.Context, p Pool, items []I, fn func(context.Context, I) (O, error)) ([]Outcome[O], error) {
	outcomes := make([]Outcome[O], len(items))
	if len(items) == 0 {
		return outcomes, nil
	}

	limit := p.Limit
	if limit < 1 {
		limit = 1
	}

	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			v, err := fn(ctx, item)
			if err != nil {
				errs[i] = err
				return nil
			}
			outcomes[i] = Outcome[O]{Value: v, Present: true}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		var f *fatalError
		if errors.As(err, &f) {
			return outcomes, f.err
		}
		if p.Logger != nil {
			p.Logger.Printf("fanout: task %d failed: %v", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
