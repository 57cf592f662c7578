//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

const testSPS = 10.0

var testRN16 = gen2.MustParseBits("1100110011110000")

func getTestingLogger() logger.LoggingClient {
	if testing.Verbose() {
		return logger.NewClient("test", "DEBUG")
	}

	return logger.NewMockClient()
}

func newTestDecoder(t *testing.T, sps float64) *TagDecoder {
	t.Helper()
	td, err := New(getTestingLogger(), DefaultConfig(sps))
	require.NoError(t, err)
	return td
}

// replyBurst renders a reply with some quiet samples around it,
// the way the gate would deliver it.
func replyBurst(bits gen2.Bits, sps float64, amp complex64, r *rand.Rand, sigma float64) gate.Burst {
	x := make(sdr.SamplesC64, 8)
	x = append(x, RenderReply(bits, sps, amp)...)
	x = append(x, make(sdr.SamplesC64, 15)...)
	if r != nil {
		for i := range x {
			x[i] += complex(float32(r.NormFloat64()*sigma), float32(r.NormFloat64()*sigma))
		}
	}
	return gate.Burst{Start: 1000, Samples: x}
}

func rotated(mag, phase float64) complex64 {
	return complex64(cmplx.Rect(mag, phase))
}

func testEPCReply(t *testing.T, epcHex string) gen2.Bits {
	t.Helper()
	epc, err := gen2.ParseEPC(epcHex)
	require.NoError(t, err)
	return gen2.NewEPCReply(epc)
}

func TestFM0_roundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for n := 1; n < 200; n += 13 {
		bits := make(gen2.Bits, n)
		for i := range bits {
			bits[i] = byte(r.Intn(2))
		}

		for _, last := range []int8{1, -1} {
			halves := EncodeFM0(bits, last)
			f := make([]float64, len(halves))
			for i, h := range halves {
				f[i] = float64(h)
			}

			got, violations := decodeFM0(f, float64(last))
			require.Equal(t, bits, got)
			assert.Equal(t, 0, countTrue(violations))
		}
	}
}

func TestFM0_preambleViolation(t *testing.T) {
	f := make([]float64, len(Preamble))
	for i, h := range Preamble {
		f[i] = float64(h)
	}

	// "1 0 1 0 v 1", where the v has no boundary inversion;
	// start as if the level before the preamble was low
	bits, violations := decodeFM0(f, -1)
	assert.Equal(t, "101011", bits.String())
	assert.Equal(t, []bool{false, false, false, false, true, false}, violations)
}

func TestDecoder_validRN16(t *testing.T) {
	td := newTestDecoder(t, testSPS)

	f, ok := td.Process(replyBurst(testRN16, testSPS, rotated(0.5, 2.1), nil, 0))
	require.True(t, ok)
	assert.Equal(t, ClassRN16, f.Class)
	assert.True(t, f.Valid)
	assert.Equal(t, testRN16, f.Bits)
	assert.Equal(t, 17, f.Symbols)
	assert.Equal(t, int64(1000), f.Start)
	assert.Greater(t, f.Correlation, 0.95)
	assert.InDelta(t, 0.5, f.Strength, 0.05)

	assert.Equal(t, Stats{Bursts: 1, RN16Valid: 1}, td.Stats())
}

func TestDecoder_fractionalSamplesPerSymbol(t *testing.T) {
	const sps = 12.5
	td := newTestDecoder(t, sps)

	f, ok := td.Process(replyBurst(testRN16, sps, 0.4, nil, 0))
	require.True(t, ok)
	assert.True(t, f.Valid)
	assert.Equal(t, testRN16, f.Bits)
}

func TestDecoder_validEPC(t *testing.T) {
	td := newTestDecoder(t, testSPS)
	reply := testEPCReply(t, "E2000019")

	f, ok := td.Process(replyBurst(reply, testSPS, rotated(0.3, -0.7), nil, 0))
	require.True(t, ok)
	assert.Equal(t, ClassEPC, f.Class)
	assert.True(t, f.Valid)
	assert.Equal(t, reply, f.Bits)

	epc, ok := f.EPC()
	require.True(t, ok)
	assert.Equal(t, "E2000019", epc.ID())
}

func TestDecoder_noisyEPC96(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	td := newTestDecoder(t, testSPS)
	reply := testEPCReply(t, "3034257BF7194E4000001A85")

	f, ok := td.Process(replyBurst(reply, testSPS, rotated(0.2, 3.0), r, 0.02))
	require.True(t, ok)
	assert.True(t, f.Valid)

	epc, ok := f.EPC()
	require.True(t, ok)
	assert.Equal(t, "3034257BF7194E4000001A85", epc.ID())
}

func TestDecoder_bitFlipInvalidates(t *testing.T) {
	td := newTestDecoder(t, testSPS)
	reply := testEPCReply(t, "E2000019")

	for _, i := range []int{0, 20, 31, 47, 50, 63} {
		flipped := reply.Clone()
		flipped[i] ^= 1

		f, ok := td.Process(replyBurst(flipped, testSPS, 0.3, nil, 0))
		require.True(t, ok, "bit %d", i)
		assert.False(t, f.Valid, "bit %d", i)
		_, ok = f.EPC()
		assert.False(t, ok, "bit %d", i)
	}
}

func TestDecoder_emptyEPCIsInvalid(t *testing.T) {
	td := newTestDecoder(t, testSPS)
	reply := gen2.NewEPCReply(nil)
	require.True(t, gen2.CheckCRC16(reply))

	f, ok := td.Process(replyBurst(reply, testSPS, 0.3, nil, 0))
	require.True(t, ok)
	assert.Equal(t, ClassEPC, f.Class)
	assert.False(t, f.Valid, "a reply without EPC words identifies nothing")
	_, ok = f.EPC()
	assert.False(t, ok)

	// even if something upstream marked it valid
	f.Valid = true
	_, ok = f.EPC()
	assert.False(t, ok)
}

func TestDecoder_truncatedRN16IsInvalid(t *testing.T) {
	td := newTestDecoder(t, testSPS)

	// drop the dummy bit
	halves := ReplyHalves(testRN16)
	halves = halves[:len(halves)-2]
	x := make(sdr.SamplesC64, 8)
	x = append(x, Render(halves, testSPS, 0.5)...)
	x = append(x, make(sdr.SamplesC64, 15)...)

	f, ok := td.Process(gate.Burst{Samples: x})
	require.True(t, ok)
	assert.Equal(t, ClassRN16, f.Class)
	assert.False(t, f.Valid)
	assert.Equal(t, 1, td.Stats().RN16Invalid)
}

func TestDecoder_noPreambleInNoise(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	x := make(sdr.SamplesC64, 300)
	for i := range x {
		x[i] = complex(float32(r.NormFloat64()*0.1), float32(r.NormFloat64()*0.1))
	}

	td := newTestDecoder(t, testSPS)
	_, ok := td.Process(gate.Burst{Samples: x})
	assert.False(t, ok)

	_, ok = td.Process(gate.Burst{Samples: x[:20]})
	assert.False(t, ok)
	assert.Equal(t, Stats{Bursts: 2, NoPreamble: 2}, td.Stats())
}

func TestDecoder_throughGate(t *testing.T) {
	g, err := gate.New(getTestingLogger(), gate.DefaultConfig(int(testSPS)))
	require.NoError(t, err)
	td := newTestDecoder(t, testSPS)

	r := rand.New(rand.NewSource(21))
	reply := testEPCReply(t, "E2000019")
	x := make(sdr.SamplesC64, 2000)
	x = append(x, RenderReply(testRN16, testSPS, rotated(0.4, 0.3))...)
	x = append(x, make(sdr.SamplesC64, 1500)...)
	x = append(x, RenderReply(reply, testSPS, rotated(0.4, 0.3))...)
	x = append(x, make(sdr.SamplesC64, 1500)...)
	for i := range x {
		x[i] += complex(float32(r.NormFloat64()*0.005), float32(r.NormFloat64()*0.005))
	}

	bursts := g.Process(x)
	require.Len(t, bursts, 2)

	f, ok := td.Process(bursts[0])
	require.True(t, ok)
	assert.True(t, f.Valid)
	assert.Equal(t, testRN16, f.Bits)

	f, ok = td.Process(bursts[1])
	require.True(t, ok)
	epc, ok := f.EPC()
	require.True(t, ok)
	assert.Equal(t, "E2000019", epc.ID())
}

type recordingSink struct {
	diags []Diagnostic
	err   error
}

func (rs *recordingSink) WriteDiagnostic(d Diagnostic) error {
	rs.diags = append(rs.diags, d)
	return rs.err
}

func TestDecoder_diagnostics(t *testing.T) {
	td := newTestDecoder(t, testSPS)
	sink := &recordingSink{}
	td.SetDiagnostics(sink)

	b := replyBurst(testRN16, testSPS, 0.5, nil, 0)
	_, ok := td.Process(b)
	require.True(t, ok)

	require.Len(t, sink.diags, 1)
	d := sink.diags[0]
	assert.Equal(t, b.Start, d.BurstStart)
	assert.Equal(t, b.Samples, d.Samples)
	assert.Len(t, d.SymbolBoundaries, 17)
	assert.InDelta(t, 8, d.PreambleOffset, 1)
	require.NotNil(t, d.Frame)
	assert.True(t, d.Frame.Valid)

	// a failing sink is dropped rather than failing decodes
	sink.err = errors.New("disk full")
	_, ok = td.Process(b)
	assert.True(t, ok)
	_, ok = td.Process(b)
	assert.True(t, ok)
	assert.Len(t, sink.diags, 2)
}

func TestFileDiagnostics(t *testing.T) {
	var samples, annotations bytes.Buffer
	fd := NewFileDiagnostics(&samples, &annotations, 400*rf.KHz)

	frame := Frame{Class: ClassRN16, Bits: testRN16, Valid: true}
	require.NoError(t, fd.WriteDiagnostic(Diagnostic{BurstStart: 10, Samples: sdr.SamplesC64{1, 2i}}))
	require.NoError(t, fd.WriteDiagnostic(Diagnostic{BurstStart: 50, Samples: sdr.SamplesC64{3}, Frame: &frame}))
	require.NoError(t, fd.Close())

	got := make(sdr.SamplesC64, 3)
	n, err := sdr.ByteReader(&samples, binary.LittleEndian, uint(400*rf.KHz), sdr.SampleFormatC64).Read(got)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, sdr.SamplesC64{1, 2i, 3}, got)

	dec := json.NewDecoder(&annotations)
	var first, second map[string]interface{}
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.EqualValues(t, 0, first["file_offset"])
	assert.EqualValues(t, 2, second["file_offset"])
	assert.EqualValues(t, 50, second["burst_start"])

	f, ok := second["frame"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "RN16", f["class"])
	assert.Equal(t, testRN16.String(), f["bits"])
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig(testSPS).Validate())

	for name, c := range map[string]Config{
		"few samples":    DefaultConfig(3),
		"zero threshold": {SamplesPerSymbol: testSPS},
		"big threshold":  {SamplesPerSymbol: testSPS, CorrelationThreshold: 1.5},
		"bad tail":       {SamplesPerSymbol: testSPS, CorrelationThreshold: 0.7, TailRatio: 1},
	} {
		_, err := New(getTestingLogger(), c)
		assert.True(t, errors.Is(err, ErrInvalidConfig), name)
	}

	assert.Equal(t, 10.0, SamplesPerSymbol(400e3, 40e3))
}
