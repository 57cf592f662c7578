//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package gen2

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"hz.tools/rf"
)

const (
	// TagPreambleSymbols is the length of the FM0 reply preamble (TRext=0).
	TagPreambleSymbols = 6

	// RN16ReplySymbols counts the preamble, RN16, and dummy bit.
	RN16ReplySymbols = TagPreambleSymbols + RN16Bits + 1
)

// LinkTiming holds the reader to tag (PIE) and tag to reader (FM0) timing.
type LinkTiming struct {
	PW        time.Duration // PIE pulse width
	Delimiter time.Duration
	TRcal     time.Duration
	BLF       rf.Hz // backscatter link frequency

	T1 time.Duration // reader command end to tag reply start
	T2 time.Duration // tag reply end to next reader command
	T4 time.Duration // minimum time between reader commands

	Settle    time.Duration // CW before the first command after power-up
	PowerDown time.Duration // carrier off when stopping
	CW        time.Duration
}

// DefaultLinkTiming returns timing suitable for a 40 kHz BLF with FM0.
func DefaultLinkTiming() LinkTiming {
	return LinkTiming{
		PW:        12 * time.Microsecond,
		Delimiter: 12 * time.Microsecond,
		TRcal:     200 * time.Microsecond,
		BLF:       40 * rf.KHz,
		T1:        240 * time.Microsecond,
		T2:        480 * time.Microsecond,
		T4:        100 * time.Microsecond,
		Settle:    time.Millisecond,
		PowerDown: 2 * time.Millisecond,
		CW:        250 * time.Microsecond,
	}
}

// Data0 is the length of a PIE data-0 symbol.
func (lt LinkTiming) Data0() time.Duration {
	return 2 * lt.PW
}

// Data1 is the length of a PIE data-1 symbol.
func (lt LinkTiming) Data1() time.Duration {
	return 4 * lt.PW
}

// RTcal is the length of a data-0 plus a data-1.
func (lt LinkTiming) RTcal() time.Duration {
	return lt.Data0() + lt.Data1()
}

// Symbol is the length of one FM0 symbol from the tag.
func (lt LinkTiming) Symbol() time.Duration {
	return time.Duration(float64(time.Second) / float64(lt.BLF))
}

// RN16Reply is the on-air duration of an RN16 reply.
func (lt LinkTiming) RN16Reply() time.Duration {
	return RN16ReplySymbols * lt.Symbol()
}

// EPCReply is the on-air duration of an EPC reply for an EPC of the given words.
func (lt LinkTiming) EPCReply(epcWords int) time.Duration {
	n := TagPreambleSymbols + EPCReplyBits(epcWords) + 1
	return time.Duration(n) * lt.Symbol()
}

func (lt LinkTiming) Validate() error {
	if lt.PW <= 0 || lt.Delimiter <= 0 {
		return errors.New("PIE pulse width and delimiter must be positive")
	}
	if lt.BLF <= 0 {
		return errors.New("BLF must be positive")
	}
	if lt.TRcal < lt.RTcal() {
		return errors.Errorf("TRcal (%v) must be at least RTcal (%v)", lt.TRcal, lt.RTcal())
	}
	if lt.T1 <= 0 || lt.T2 < 0 || lt.T4 < 0 || lt.Settle < 0 || lt.PowerDown < 0 || lt.CW < 0 {
		return errors.New("link times must not be negative")
	}
	return nil
}

// Samples converts a duration to a number of samples at the given rate,
// rounding to the nearest sample.
func Samples(d time.Duration, rate rf.Hz) int {
	return int(math.Round(d.Seconds() * float64(rate)))
}
