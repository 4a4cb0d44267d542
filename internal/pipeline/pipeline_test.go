// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestForEachRunsEveryIndex(t *testing.T) {
	var count int64
	err := ForEach(100, 8, func(i int) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 100 {
		t.Errorf("count = %d, want 100", count)
	}
}

func TestForEachPropagatesFirstError(t *testing.T) {
	sentinel := errors.New("boom")
	err := ForEach(10, 4, func(i int) error {
		if i == 5 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
}

func TestMapPreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	out, err := Map(items, 3, func(i int) (int, error) { return i * i, nil })
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	want := []int{1, 4, 9, 16, 25}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestBarrierStopsAtFirstError(t *testing.T) {
	var ran []int
	sentinel := errors.New("stage 2 failed")
	err := Barrier(
		func() error { ran = append(ran, 1); return nil },
		func() error { ran = append(ran, 2); return sentinel },
		func() error { ran = append(ran, 3); return nil },
	)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if len(ran) != 2 {
		t.Fatalf("ran = %v, want exactly stages 1 and 2 to have run", ran)
	}
}
