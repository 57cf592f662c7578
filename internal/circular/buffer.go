//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package circular provides a fixed size moving window of values.
package circular

// Buffer keeps the most recent values added to it, up to its window size,
// along with their running total. Once full, each new value replaces the oldest,
// so Mean is a moving average. Adding never allocates.
//
// Buffer isn't safe for concurrent use; the gate calls it once per sample
// and the inventory once per tag read, each from its owning goroutine.
type Buffer struct {
	values []float64
	total  float64
	index  int
}

// NewBuffer panics if windowSize isn't positive.
func NewBuffer(windowSize int) *Buffer {
	if windowSize <= 0 {
		panic("illegal window size")
	}

	return &Buffer{
		values: make([]float64, 0, windowSize),
	}
}

// Len returns the number of values in the buffer, at most its window size.
func (b *Buffer) Len() int {
	return len(b.values)
}

// Mean returns NaN if no values have been added.
func (b *Buffer) Mean() float64 {
	return b.total / float64(len(b.values))
}

func (b *Buffer) Add(value float64) {
	if len(b.values) < cap(b.values) {
		b.values = append(b.values, value)
		b.total += value
		return
	}

	b.total = b.total - b.values[b.index] + value
	b.values[b.index] = value

	b.index++
	if b.index >= cap(b.values) {
		b.index = 0
		// resum once per lap so rounding error doesn't accumulate
		b.total = 0
		for _, v := range b.values {
			b.total += v
		}
	}
}

func (b *Buffer) Reset() {
	b.values = b.values[:0]
	b.total = 0
	b.index = 0
}
