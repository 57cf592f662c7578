//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package circular

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	b := NewBuffer(3)
	assert.True(t, math.IsNaN(b.Mean()))

	b.Add(3)
	assert.Equal(t, 3.0, b.Mean())
	for _, v := range []float64{6, 9, 12} {
		b.Add(v)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 9.0, b.Mean())

	b.Reset()
	assert.Zero(t, b.Len())
	assert.True(t, math.IsNaN(b.Mean()))
}

func TestBuffer_longRunStaysExact(t *testing.T) {
	b := NewBuffer(5)
	for i := 0; i < 1_000_000; i++ {
		b.Add(0.1 * float64(i%7))
	}
	b.Add(1)
	b.Add(1)
	b.Add(1)
	b.Add(1)
	b.Add(1)
	assert.InDelta(t, 1.0, b.Mean(), 1e-12)
}

func TestNewBuffer_panicsOnBadSize(t *testing.T) {
	assert.Panics(t, func() { NewBuffer(0) })
	assert.Panics(t, func() { NewBuffer(-1) })
}
