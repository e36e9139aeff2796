// Copyright 2025 The XRFusion Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ringbuf

import "testing"

func TestPushBelowCapacity(t *testing.T) {
	b := New(4)
	for i := 0; i < 3; i++ {
		if v := b.Push(float32(i)); v != 0 {
			t.Fatalf("Push(%d) evicted %v, want 0", i, v)
		}
	}
	if b.Len() != 3 || b.Full() {
		t.Fatalf("Len()=%d Full()=%v, want 3 false", b.Len(), b.Full())
	}
}

func TestPushEvicts(t *testing.T) {
	b := New(3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	if !b.Full() {
		t.Fatal("expected buffer to be full")
	}
	evicted := b.Push(4)
	if evicted != 1 {
		t.Fatalf("evicted=%v, want 1", evicted)
	}
	want := []float32{2, 3, 4}
	for i, w := range want {
		if got := b.At(i); got != w {
			t.Fatalf("At(%d)=%v, want %v", i, got, w)
		}
	}
}

func TestCountAfterNPushes(t *testing.T) {
	const capacity = 5
	b := New(capacity)
	for n := 0; n <= 12; n++ {
		want := n
		if want > capacity {
			want = capacity
		}
		if b.Len() != want {
			t.Fatalf("after %d pushes: Len()=%d, want %d", n, b.Len(), want)
		}
		b.Push(float32(n))
	}
}

func TestReset(t *testing.T) {
	b := New(2)
	b.Push(1)
	b.Push(2)
	b.Reset()
	if b.Len() != 0 || b.Full() {
		t.Fatalf("Reset did not empty buffer: Len()=%d Full()=%v", b.Len(), b.Full())
	}
	if v := b.Push(9); v != 0 {
		t.Fatalf("Push after reset evicted %v, want 0", v)
	}
}

func TestOrdered(t *testing.T) {
	b := New(3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Push(4) // evicts 1
	got := b.Ordered()
	want := []float32{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ordered()[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestAtOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range index")
		}
	}()
	New(2).At(0)
}
