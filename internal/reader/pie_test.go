//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

func testModulator() *Modulator {
	cfg := DefaultConfig()
	return NewModulator(cfg.Timing, cfg.TxRate, 0.8)
}

func TestModulator_symbols(t *testing.T) {
	m := testModulator()

	// 12 µs at 1 MS/s
	assert.Len(t, m.delim, 12)
	assert.Len(t, m.data0, 24)
	assert.Len(t, m.data1, 48)
	assert.Len(t, m.rtcal, 72)
	assert.Len(t, m.trcal, 200)

	for _, sym := range []sdr.SamplesC64{m.data0, m.data1, m.rtcal, m.trcal} {
		n := len(sym)
		assert.Equal(t, complex64(complex(0.8, 0)), sym[0])
		assert.Equal(t, complex64(complex(0.8, 0)), sym[n-13])
		for _, s := range sym[n-12:] {
			assert.Zero(t, s, "every symbol ends with a PW low pulse")
		}
	}

	assert.Len(t, m.CW(250*time.Microsecond), 250)
	assert.Len(t, m.Off(2*time.Millisecond), 2000)
	for _, s := range m.Off(time.Millisecond) {
		assert.Zero(t, s)
	}
}

func TestModulator_roundTrip(t *testing.T) {
	mask := gen2.MustParseBits("1110001")
	commands := []gen2.Command{
		gen2.Query{Q: 4},
		gen2.Query{Sel: gen2.SelSL, Session: gen2.S2, Target: gen2.TargetB, Q: 15},
		gen2.QueryRep{Session: gen2.S1},
		gen2.QueryAdjust{Session: gen2.S3, UpDn: gen2.UpDnUp},
		gen2.QueryAdjust{Session: gen2.S0, UpDn: gen2.UpDnDown},
		gen2.Ack{RN16: testRN16},
		gen2.Nak{},
		gen2.DefaultSelect(mask),
		gen2.Select{Target: gen2.SelectS2, Action: 4, MemBank: gen2.MemBankUser, Pointer: 200,
			Mask: mask, Truncate: true},
	}

	m := testModulator()
	for _, cmd := range commands {
		cmd := cmd
		t.Run(cmd.Kind().String(), func(t *testing.T) {
			wave := append(m.CW(20*time.Microsecond), m.Command(cmd)...)
			wave = append(wave, m.CW(100*time.Microsecond)...)

			bits, preamble, err := DemodulatePIE(wave)
			require.NoError(t, err)
			assert.Equal(t, cmd.Bits().String(), bits.String())
			assert.Equal(t, cmd.Kind() == gen2.CmdQuery, preamble)

			parsed, err := gen2.ParseCommand(bits)
			require.NoError(t, err)
			assert.Equal(t, cmd, parsed)
		})
	}
}

func TestDemodulatePIE_startsWithDelimiter(t *testing.T) {
	m := testModulator()
	wave := append(m.Command(gen2.QueryRep{}), m.CW(50*time.Microsecond)...)

	bits, preamble, err := DemodulatePIE(wave)
	require.NoError(t, err)
	assert.False(t, preamble)
	assert.Equal(t, "0000", bits.String())
}

func TestDemodulatePIE_errors(t *testing.T) {
	m := testModulator()

	tests := []struct {
		name string
		wave sdr.SamplesC64
	}{
		{"empty", nil},
		{"carrier off", m.Off(time.Millisecond)},
		{"carrier only", m.CW(time.Millisecond)},
		{"no trailing carrier", append(m.CW(20*time.Microsecond), m.Command(gen2.Nak{})...)},
		{"delimiter and one symbol", func() sdr.SamplesC64 {
			w := append(m.CW(20*time.Microsecond), m.delim...)
			w = append(w, m.data0...)
			return append(w, m.CW(50*time.Microsecond)...)
		}()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DemodulatePIE(tt.wave)
			assert.True(t, errors.Is(err, ErrNoCommand), "%v", err)
		})
	}
}
