//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"math"

	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

// FM0 (bi-phase space) inverts the baseband level at every symbol boundary.
// A data-0 has an additional inversion mid-symbol; a data-1 doesn't.
// Levels are given per half-symbol, +1 or -1.

// Preamble is the FM0 tag preamble without pilot tone, "1 0 1 0 v 1",
// where v is a deliberate boundary violation.
var Preamble = [2 * gen2.TagPreambleSymbols]int8{1, 1, -1, 1, -1, -1, 1, -1, -1, -1, 1, 1}

// EncodeFM0 returns the half-symbol levels for bits,
// continuing from a symbol that ended at level last.
func EncodeFM0(bits gen2.Bits, last int8) []int8 {
	halves := make([]int8, 0, 2*len(bits))
	for _, b := range bits {
		first := -last
		second := first
		if b == 0 {
			second = -first
		}
		halves = append(halves, first, second)
		last = second
	}
	return halves
}

// ReplyHalves returns the half-symbol levels of a complete tag reply:
// the preamble, the FM0 encoded bits, and the trailing dummy 1.
func ReplyHalves(bits gen2.Bits) []int8 {
	halves := make([]int8, 0, len(Preamble)+2*(len(bits)+1))
	halves = append(halves, Preamble[:]...)
	payload := make(gen2.Bits, 0, len(bits)+1)
	payload = append(payload, bits...)
	payload = append(payload, 1)
	return append(halves, EncodeFM0(payload, Preamble[len(Preamble)-1])...)
}

// Render draws half-symbol levels at the given samples per symbol,
// scaled by amp, which carries the reply's amplitude and phase.
func Render(halves []int8, sps float64, amp complex64) sdr.SamplesC64 {
	n := int(math.Round(float64(len(halves)) * sps / 2))
	out := make(sdr.SamplesC64, n)
	for i := range out {
		h := int(float64(i) * 2 / sps)
		if h >= len(halves) {
			h = len(halves) - 1
		}
		out[i] = amp * complex(float32(halves[h]), 0)
	}
	return out
}

// RenderReply renders a complete tag reply.
func RenderReply(bits gen2.Bits, sps float64, amp complex64) sdr.SamplesC64 {
	return Render(ReplyHalves(bits), sps, amp)
}

// decodeFM0 slices already phase-aligned half-symbol means into bits.
// It also reports, per symbol, whether the boundary inversion was missing.
func decodeFM0(halves []float64, last float64) (gen2.Bits, []bool) {
	n := len(halves) / 2
	bits := make(gen2.Bits, n)
	violations := make([]bool, n)
	for i := 0; i < n; i++ {
		h1, h2 := halves[2*i], halves[2*i+1]
		if (h1 >= 0) == (h2 >= 0) {
			bits[i] = 1
		}
		violations[i] = (h1 >= 0) == (last >= 0)
		last = h2
	}
	return bits, violations
}
