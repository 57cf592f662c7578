//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"math"
)

// SlotOutcome is what the reader saw in response to Query, QueryRep, or QueryAdjust.
type SlotOutcome int

const (
	SlotEmpty = SlotOutcome(iota)
	SlotCollision
	SlotSuccess
)

func (o SlotOutcome) String() string {
	switch o {
	case SlotEmpty:
		return "empty"
	case SlotCollision:
		return "collision"
	case SlotSuccess:
		return "success"
	}
	return "unknown"
}

// QPolicy chooses the slot-count exponent for each round.
type QPolicy interface {
	// Q is the value for the current round.
	Q() int
	// Observe records the outcome of a slot in the current round.
	Observe(SlotOutcome)
	// NextRound ends the current round and returns Q for the next one.
	NextRound() int
	// Reset returns to the initial Q.
	Reset()
}

// FixedQ never changes Q.
// It's ideal only when the tag population is known and stable:
// too small a Q for the population collides in most slots,
// and too large a Q wastes time in empty ones.
type FixedQ struct {
	q int
}

func NewFixedQ(q int) *FixedQ {
	return &FixedQ{q: q}
}

func (f *FixedQ) Q() int              { return f.q }
func (f *FixedQ) Observe(SlotOutcome) {}
func (f *FixedQ) NextRound() int      { return f.q }
func (f *FixedQ) Reset()              {}

// AdaptiveQ keeps a floating point Qfp that each collision raises by C
// and each empty slot lowers by C, rounding it to get the next round's Q.
//
// A round made up only of collisions raises Q by at least 1,
// and a round made up only of empty slots lowers it by at least 1,
// so a run of either always moves Q until it reaches its limit.
type AdaptiveQ struct {
	initial  int
	min, max int
	c        float64

	qfp float64
	q   int

	slots, empty, collisions int
}

// NewAdaptiveQ returns a policy starting at initial and staying within [min, max].
// The caller is expected to validate the arguments.
func NewAdaptiveQ(initial, min, max int, c float64) *AdaptiveQ {
	a := &AdaptiveQ{initial: initial, min: min, max: max, c: c}
	a.Reset()
	return a
}

func (a *AdaptiveQ) Q() int {
	return a.q
}

func (a *AdaptiveQ) Observe(o SlotOutcome) {
	a.slots++
	switch o {
	case SlotEmpty:
		a.empty++
		a.qfp = math.Max(a.qfp-a.c, float64(a.min))
	case SlotCollision:
		a.collisions++
		a.qfp = math.Min(a.qfp+a.c, float64(a.max))
	}
}

func (a *AdaptiveQ) NextRound() int {
	next := int(math.Round(a.qfp))

	switch {
	case a.slots == 0:
	case a.collisions == a.slots && next <= a.q:
		next = a.q + 1
	case a.empty == a.slots && next >= a.q:
		next = a.q - 1
	}

	if next < a.min {
		next = a.min
	} else if next > a.max {
		next = a.max
	}

	if int(math.Round(a.qfp)) != next {
		a.qfp = float64(next)
	}
	a.q = next
	a.slots, a.empty, a.collisions = 0, 0, 0
	return next
}

func (a *AdaptiveQ) Reset() {
	a.q = a.initial
	a.qfp = float64(a.initial)
	a.slots, a.empty, a.collisions = 0, 0, 0
}
