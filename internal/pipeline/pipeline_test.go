//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
	"edgexfoundry/app-rfid-gen2-reader/internal/sim"
)

func getTestingLogger() logger.LoggingClient {
	if testing.Verbose() {
		return logger.NewClient("test", "DEBUG")
	}

	return logger.NewMockClient()
}

// newStages builds a Gate, TagDecoder, and Reader for the default link timing.
func newStages(t *testing.T, rcfg reader.Config) (*gate.Gate, *decoder.TagDecoder, *reader.Reader) {
	t.Helper()
	lc := getTestingLogger()

	sps := decoder.SamplesPerSymbol(rcfg.RxRate, rcfg.Timing.BLF)
	g, err := gate.New(lc, gate.DefaultConfig(int(sps)))
	require.NoError(t, err)
	dec, err := decoder.New(lc, decoder.DefaultConfig(sps))
	require.NoError(t, err)
	rd, err := reader.New(lc, rcfg, nil)
	require.NoError(t, err)
	return g, dec, rd
}

// simulate connects a pipeline to a simulated channel.
// A zero length never ends the sample stream.
func simulate(t *testing.T, population []sim.TagSpec, rcfg reader.Config, length int64) (*Pipeline, *sim.Channel) {
	t.Helper()
	lc := getTestingLogger()

	scfg := sim.DefaultConfig()
	scfg.Timing = rcfg.Timing
	scfg.RxRate = rcfg.RxRate
	scfg.Length = length
	ch, err := sim.NewChannel(lc, scfg, population)
	require.NoError(t, err)

	src, err := FromReader(ch)
	require.NoError(t, err)

	g, dec, rd := newStages(t, rcfg)
	cfg := DefaultConfig()
	cfg.Prefetch = 0
	cfg.ExitWhenIdle = true
	p, err := New(lc, cfg, src, ch, g, dec, rd)
	require.NoError(t, err)
	return p, ch
}

// fiveSeconds of receive samples bounds a test if the reader never stops.
const fiveSeconds = 5 * 400_000

func TestPipeline_inventoriesPopulation(t *testing.T) {
	population := sim.RandomPopulation(5, 7)
	rcfg := reader.DefaultConfig()
	rcfg.StopAfterRounds = 12

	p, ch := simulate(t, population, rcfg, fiveSeconds)

	var events []inventory.Event
	var rounds []reader.RoundSummary
	p.SetObservers(reader.Observers{
		Read:  func(e inventory.Event) { events = append(events, e) },
		Round: func(rs reader.RoundSummary) { rounds = append(rounds, rs) },
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	tags, err := p.Snapshot(ctx)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, tag := range tags {
		seen[tag.EPC] = true
	}
	for _, epc := range ch.EPCs() {
		assert.True(t, seen[epc], "tag %s never inventoried", epc)
	}
	assert.Len(t, tags, len(population), "no phantom tags")

	arrived := 0
	for _, e := range events {
		if e.OfType() == inventory.ArrivedType {
			arrived++
		}
	}
	assert.Equal(t, len(population), arrived)
	assert.Len(t, rounds, rcfg.StopAfterRounds)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Reader.Running)
	assert.Equal(t, rcfg.StopAfterRounds, stats.Reader.Rounds)
	assert.Equal(t, stats.Reader.EPCReads, stats.Reader.TotalReads)
	assert.Zero(t, ch.Stats().Undecodable, "every command must demodulate")
	assert.Equal(t, 1, ch.Stats().PowerDowns)

	// reads the channel saw acknowledged must all have been decoded
	acks := 0
	for _, n := range ch.Acknowledged() {
		acks += n
	}
	assert.LessOrEqual(t, stats.Reader.EPCReads, acks)
}

func TestPipeline_inventoriedTagsSitOut(t *testing.T) {
	for _, selectEnabled := range []bool{false, true} {
		selectEnabled := selectEnabled
		name := "query only"
		if selectEnabled {
			name = "select before query"
		}
		t.Run(name, func(t *testing.T) {
			rcfg := reader.DefaultConfig()
			rcfg.InitialQ = 0
			rcfg.AdaptiveQ = false
			rcfg.DualTarget = false
			rcfg.StopAfterRounds = 6
			rcfg.SelectEnabled = selectEnabled
			rcfg.Select = gen2.DefaultSelect(nil)

			p, ch := simulate(t, []sim.TagSpec{{EPC: "E2000019"}}, rcfg, fiveSeconds)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			require.NoError(t, p.Run(ctx))

			stats, err := p.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 6, stats.Reader.Rounds)
			tag, found, err := p.Tag(ctx, "E2000019")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 1, tag.ReadCount, "an inventoried tag must not answer the same target again")
			assert.Equal(t, 1, ch.Acknowledged()["E2000019"])
		})
	}
}

func TestPipeline_requestsAfterRun(t *testing.T) {
	rcfg := reader.DefaultConfig()
	rcfg.StopAfterRounds = 2
	p, _ := simulate(t, sim.RandomPopulation(1, 3), rcfg, fiveSeconds)

	ctx := context.Background()
	require.NoError(t, p.Run(ctx))
	assert.Error(t, p.Run(ctx), "Run only runs once")

	assert.True(t, errors.Is(p.Start(ctx), ErrStopped))
	assert.True(t, errors.Is(p.Stop(ctx), ErrStopped))
	assert.True(t, errors.Is(p.Restart(ctx), ErrStopped))

	tags, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	tag, found, err := p.Tag(ctx, tags[0].EPC)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, tags[0].EPC, tag.EPC)

	require.NoError(t, p.Reset(ctx))
	tags, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestPipeline_controlWhileRunning(t *testing.T) {
	rcfg := reader.DefaultConfig()
	p, _ := simulate(t, sim.RandomPopulation(3, 11), rcfg, 0)
	p.cfg.AutoStart = false
	p.cfg.ExitWhenIdle = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, p.Start(ctx))
	require.Eventually(t, func() bool {
		s, err := p.Stats(ctx)
		return err == nil && s.Reader.Rounds >= 2
	}, 30*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop(ctx))
	s, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, s.Reader.Running)
	assert.Equal(t, reader.StateIdle, s.Reader.State)

	require.NoError(t, p.Restart(ctx))
	s, err = p.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, s.Reader.Running)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline didn't stop after cancel")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"lockstep", func(c *Config) { c.Prefetch = 0 }, false},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }, true},
		{"negative prefetch", func(c *Config) { c.Prefetch = -1 }, true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mod(&cfg)
			err := cfg.Validate()
			if test.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_missingStage(t *testing.T) {
	g, dec, rd := newStages(t, reader.DefaultConfig())
	src := NewCFileReader(&bytes.Buffer{}, 400*rf.KHz)
	s, err := FromReader(src)
	require.NoError(t, err)

	_, err = New(getTestingLogger(), DefaultConfig(), s, nil, g, dec, rd)
	assert.Error(t, err)
	_, err = New(getTestingLogger(), DefaultConfig(), s, Discard{}, nil, dec, rd)
	assert.Error(t, err)
	_, err = New(getTestingLogger(), DefaultConfig(), s, Discard{}, g, dec, rd)
	assert.NoError(t, err)
}

func TestCFile_roundTrip(t *testing.T) {
	samples := sdr.SamplesC64{1, complex(0.5, -0.25), complex(-1, 2), 0, complex(3.5, 1e-3)}

	var buf bytes.Buffer
	sink := NewCFileSink(&buf, 1000*rf.KHz, 400*rf.KHz, 1)
	require.NoError(t, sink.Transmit(reader.Transmission{At: 0, End: 2, Samples: samples}))
	require.NoError(t, sink.Flush())
	assert.Equal(t, int64(len(samples)), sink.Written())
	assert.Equal(t, len(samples)*cfileSampleSize, buf.Len())

	r := NewCFileReader(&buf, 1000*rf.KHz)
	assert.Equal(t, uint(1000*rf.KHz), r.SampleRate())
	assert.Equal(t, sdr.SampleFormatC64, r.SampleFormat())

	got := make(sdr.SamplesC64, 3)
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, samples[:3], got)

	n, err = r.Read(got)
	require.NoError(t, err, "a short final read isn't an error")
	assert.Equal(t, 2, n)
	assert.Equal(t, samples[3:], got[:n])

	n, err = r.Read(got)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestCFile_sdrByteStreams(t *testing.T) {
	samples := sdr.SamplesC64{complex(0.25, -1), 2i, complex(-3, 0.5)}
	const rate = 400 * rf.KHz

	// files written by other sdr tools read back through CFileReader
	var buf bytes.Buffer
	_, err := sdr.ByteWriter(&buf, binary.LittleEndian, uint(rate), sdr.SampleFormatC64).Write(samples)
	require.NoError(t, err)

	got := make(sdr.SamplesC64, len(samples))
	n, err := NewCFileReader(&buf, rate).Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(samples), n)
	assert.Equal(t, samples, got)

	// and the sink's files read back through sdr.ByteReader
	buf.Reset()
	sink := NewCFileSink(&buf, rate, rate, 1)
	require.NoError(t, sink.Transmit(reader.Transmission{End: 3, Samples: samples}))
	require.NoError(t, sink.Flush())

	got = make(sdr.SamplesC64, len(samples))
	n, err = sdr.ByteReader(&buf, binary.LittleEndian, uint(rate), sdr.SampleFormatC64).Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(samples), n)
	assert.Equal(t, samples, got)
}

func TestCFileReader_partialSample(t *testing.T) {
	raw := make([]byte, cfileSampleSize+3)
	r := NewCFileReader(bytes.NewReader(raw), 400*rf.KHz)

	got := make(sdr.SamplesC64, 4)
	n, err := r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.Read(got)
	assert.Equal(t, io.EOF, err)
}

func TestCFileSink_gaps(t *testing.T) {
	const txRate, rxRate = 1000 * rf.KHz, 400 * rf.KHz

	var buf bytes.Buffer
	sink := NewCFileSink(&buf, txRate, rxRate, 0.5)

	burst := sdr.SamplesC64{1, 1, 1, 1, 1}
	// 2 receive samples of transmit, then a 4 receive sample gap: 10 transmit samples of carrier
	require.NoError(t, sink.Transmit(reader.Transmission{At: 0, CommandEnd: 2, End: 2, Samples: burst}))
	require.NoError(t, sink.Transmit(reader.Transmission{At: 6, CommandEnd: 8, End: 8, Samples: burst}))
	assert.Equal(t, int64(20), sink.Written())

	// after a power down, gaps are silent
	require.NoError(t, sink.Transmit(reader.Transmission{At: 8, End: 10, PowerDown: true, Samples: make(sdr.SamplesC64, 5)}))
	require.NoError(t, sink.Transmit(reader.Transmission{At: 12, End: 14, Samples: burst}))
	assert.Equal(t, int64(35), sink.Written())
	require.NoError(t, sink.Flush())

	got := make(sdr.SamplesC64, 35)
	n, err := NewCFileReader(&buf, txRate).Read(got)
	require.NoError(t, err)
	require.Equal(t, 35, n)

	for i := 5; i < 15; i++ {
		assert.Equal(t, complex64(0.5), got[i], "carrier at %d", i)
	}
	for i := 20; i < 30; i++ {
		assert.Equal(t, complex64(0), got[i], "silence at %d", i)
	}
	assert.Equal(t, complex64(1), got[30])
}

type countingSink struct {
	n   int
	err error
}

func (c *countingSink) Transmit(reader.Transmission) error {
	c.n++
	return c.err
}

func TestTee(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	s := Tee(a, Discard{}, b)
	require.NoError(t, s.Transmit(reader.Transmission{}))
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)

	failing := &countingSink{err: errors.New("broken")}
	s = Tee(failing, b)
	assert.Error(t, s.Transmit(reader.Transmission{}))
	assert.Equal(t, 1, b.n, "stops at the first error")
}

// sliceSource hands out samples a few at a time.
type sliceSource struct {
	samples sdr.SamplesC64
}

func (s *sliceSource) Read(buf sdr.SamplesC64) (int, error) {
	if len(s.samples) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, s.samples)
	s.samples = s.samples[n:]
	return n, nil
}

func TestRecorder(t *testing.T) {
	samples := sdr.SamplesC64{1, complex(0.5, -0.25), complex(-1, 2), 0, complex(3.5, 1e-3)}

	var buf bytes.Buffer
	rec := NewRecorder(&sliceSource{samples: samples}, &buf, 400*rf.KHz)
	got := make(sdr.SamplesC64, 2)
	var all sdr.SamplesC64
	for {
		n, err := rec.Read(got)
		all = append(all, got[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, samples, all)
	assert.Zero(t, buf.Len(), "samples are buffered until flushed")
	require.NoError(t, rec.Flush())

	replay := make(sdr.SamplesC64, len(samples))
	n, err := NewCFileReader(&buf, 400*rf.KHz).Read(replay)
	require.NoError(t, err)
	assert.Equal(t, len(samples), n)
	assert.Equal(t, samples, replay)
}

type u8Reader struct{}

func (u8Reader) SampleRate() uint               { return 1 }
func (u8Reader) SampleFormat() sdr.SampleFormat { return sdr.SampleFormatU8 }
func (u8Reader) Read(sdr.Samples) (int, error)  { return 0, io.EOF }

func TestFromReader(t *testing.T) {
	_, err := FromReader(u8Reader{})
	assert.True(t, errors.Is(err, sdr.ErrSampleFormatMismatch))

	raw := make([]byte, 3*cfileSampleSize)
	binaryPut(raw, 1, complex(0.25, -0.5))
	src, err := FromReader(NewCFileReader(bytes.NewReader(raw), 400*rf.KHz))
	require.NoError(t, err)

	got := make(sdr.SamplesC64, 8)
	n, err := src.Read(got)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, complex64(complex(0.25, -0.5)), got[1])

	_, err = src.Read(got)
	assert.Equal(t, io.EOF, err)
}

func binaryPut(raw []byte, i int, v complex64) {
	b := raw[i*cfileSampleSize:]
	re, im := math.Float32bits(real(v)), math.Float32bits(imag(v))
	for k := 0; k < 4; k++ {
		b[k] = byte(re >> (8 * k))
		b[4+k] = byte(im >> (8 * k))
	}
}
