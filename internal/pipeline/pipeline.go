// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline implements the parallel-for and stage-barrier
// primitives spec.md §5 describes: work within a stage is mutually
// independent and runs concurrently; a stage barrier waits for every task
// before the next stage begins, and a first fatal error cancels the rest
// of the stage's not-yet-started work.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn(i) for every i in [0, n) concurrently, bounded by
// maxConcurrency goroutines (0 means unbounded), and returns the first
// error any call returned after cancelling the rest of the stage — the
// "cancel-on-first-fatal-error barrier semantics" spec.md §5 calls for.
func ForEach(n int, maxConcurrency int, fn func(i int) error) error {
	g, ctx := errgroup.WithContext(context.Background())
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil // an earlier call failed; skip the rest
			}
			return fn(i)
		})
	}
	return g.Wait()
}

// Map runs fn(items[i]) for every item concurrently and collects the
// results in input order, or returns the first error. Used by stages like
// object reading where each file populates only its own arrays (spec.md
// §5) and the caller wants the per-file results back in command-line
// order afterward.
func Map[T any, R any](items []T, maxConcurrency int, fn func(T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	err := ForEach(len(items), maxConcurrency, func(i int) error {
		r, err := fn(items[i])
		if err != nil {
			return err
		}
		results[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Barrier runs every stage function in order, stopping at the first one
// that returns an error. Each stage is expected to internally fan out with
// ForEach/Map; Barrier only enforces that stage N+1 never starts before
// stage N's goroutines have all finished, per spec.md §5's "strictly
// stage-ordered" pipeline model.
func Barrier(stages ...func() error) error {
	for _, stage := range stages {
		if err := stage(); err != nil {
			return err
		}
	}
	return nil
}
