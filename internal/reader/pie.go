//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"math/cmplx"
	"time"

	"github.com/pkg/errors"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

// ErrNoCommand is returned by DemodulatePIE when a waveform
// doesn't contain a complete PIE frame.
var ErrNoCommand = errors.New("no PIE command")

// Modulator renders reader commands as PIE baseband waveforms.
//
// Every PIE symbol is a high level followed by a low pulse of width PW;
// the symbol's total length carries its meaning.
// The carrier level is the configured amplitude on the real axis.
type Modulator struct {
	rate rf.Hz
	amp  float32

	data0, data1, rtcal, trcal, delim sdr.SamplesC64
}

func NewModulator(timing gen2.LinkTiming, rate rf.Hz, amp float32) *Modulator {
	m := &Modulator{rate: rate, amp: amp}
	pw := m.n(timing.PW)
	m.data0 = m.symbol(m.n(timing.Data0()), pw)
	m.data1 = m.symbol(m.n(timing.Data1()), pw)
	m.rtcal = m.symbol(len(m.data0)+len(m.data1), pw)
	m.trcal = m.symbol(m.n(timing.TRcal), pw)
	m.delim = make(sdr.SamplesC64, m.n(timing.Delimiter))
	return m
}

// Rate is the transmit sample rate.
func (m *Modulator) Rate() rf.Hz {
	return m.rate
}

func (m *Modulator) n(d time.Duration) int {
	return gen2.Samples(d, m.rate)
}

func (m *Modulator) symbol(length, pw int) sdr.SamplesC64 {
	s := make(sdr.SamplesC64, length)
	for i := 0; i < length-pw; i++ {
		s[i] = complex(m.amp, 0)
	}
	return s
}

// Command renders the command's preamble or frame-sync followed by its bits.
func (m *Modulator) Command(c gen2.Command) sdr.SamplesC64 {
	bits := c.Bits()

	n := len(m.delim) + len(m.data0) + len(m.rtcal)
	if gen2.WantsPreamble(c) {
		n += len(m.trcal)
	}
	for _, b := range bits {
		if b == 1 {
			n += len(m.data1)
		} else {
			n += len(m.data0)
		}
	}

	out := make(sdr.SamplesC64, 0, n)
	out = append(out, m.delim...)
	out = append(out, m.data0...)
	out = append(out, m.rtcal...)
	if gen2.WantsPreamble(c) {
		out = append(out, m.trcal...)
	}
	for _, b := range bits {
		if b == 1 {
			out = append(out, m.data1...)
		} else {
			out = append(out, m.data0...)
		}
	}
	return out
}

// CW is unmodulated carrier for the given duration.
func (m *Modulator) CW(d time.Duration) sdr.SamplesC64 {
	return m.symbol(m.n(d), 0)
}

// Off is carrier off for the given duration.
func (m *Modulator) Off(d time.Duration) sdr.SamplesC64 {
	return make(sdr.SamplesC64, m.n(d))
}

// DemodulatePIE recovers the bits of the first PIE frame in a waveform,
// the way a tag does: the data-0 after the delimiter and RTcal set the pivot
// between data-0 and data-1, and a TRcal after RTcal marks a full preamble.
// The frame ends at the last low pulse; the waveform must include the carrier after it.
func DemodulatePIE(samples sdr.SamplesC64) (bits gen2.Bits, preamble bool, err error) {
	var peak float32
	for _, s := range samples {
		if a := abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return nil, false, errors.Wrap(ErrNoCommand, "no carrier")
	}
	thr := peak / 2

	// Edges: the lengths of alternating high and low runs.
	var runs []int
	high := abs(samples[0]) >= thr
	if !high {
		runs = append(runs, 0)
	}
	n := 0
	for _, s := range samples {
		h := abs(s) >= thr
		if h != high {
			runs = append(runs, n)
			n = 0
			high = h
		}
		n++
	}
	runs = append(runs, n)

	// runs[0] is leading carrier, runs[1] is the delimiter,
	// then each symbol is a high run and a low run.
	// The last run is trailing carrier if it's high.
	if len(runs)%2 == 0 {
		return nil, false, errors.Wrap(ErrNoCommand, "waveform ends without carrier")
	}
	var symbols []int
	for i := 2; i+1 < len(runs); i += 2 {
		symbols = append(symbols, runs[i]+runs[i+1])
	}
	if len(symbols) < 2 {
		return nil, false, errors.Wrapf(ErrNoCommand, "only %d PIE symbols", len(symbols))
	}

	data0, rtcal := symbols[0], symbols[1]
	if rtcal < 2*data0 {
		return nil, false, errors.Wrapf(ErrNoCommand, "RTcal %d is too short for data-0 %d", rtcal, data0)
	}
	symbols = symbols[2:]

	// Data symbols are at most 2/3 RTcal, and TRcal is at least RTcal.
	if len(symbols) > 0 && 6*symbols[0] > 5*rtcal {
		preamble = true
		symbols = symbols[1:]
	}

	bits = make(gen2.Bits, len(symbols))
	for i, s := range symbols {
		if 2*s > rtcal {
			bits[i] = 1
		}
	}
	return bits, preamble, nil
}

func abs(s complex64) float32 {
	return float32(cmplx.Abs(complex128(s)))
}
