//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"io"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

func getTestingLogger() logger.LoggingClient {
	if testing.Verbose() {
		return logger.NewClient("test", "DEBUG")
	}

	return logger.NewMockClient()
}

func newTestTag(t *testing.T, epc string) *tag {
	t.Helper()
	tg, err := newTag(TagSpec{EPC: epc})
	require.NoError(t, err)
	return tg
}

func TestTag_singleSlot(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	tg := newTestTag(t, "E2000019")

	rn16 := tg.handle(gen2.Query{Q: 0}, r)
	require.Len(t, rn16, gen2.RN16Bits)
	assert.Equal(t, stateReply, tg.state)

	// the wrong handle sends it back to arbitrate
	wrong := rn16.Clone()
	wrong[0] ^= 1
	assert.Nil(t, tg.handle(gen2.Ack{RN16: wrong}, r))
	assert.Equal(t, stateArbitrate, tg.state)
	assert.Zero(t, tg.acks)

	rn16 = tg.handle(gen2.Query{Q: 0}, r)
	require.NotNil(t, rn16)
	epc := tg.handle(gen2.Ack{RN16: rn16}, r)
	assert.Equal(t, gen2.NewEPCReply([]byte{0xE2, 0x00, 0x00, 0x19}).String(), epc.String())
	assert.Equal(t, stateAcknowledged, tg.state)
	assert.Equal(t, 1, tg.acks)

	// the next command inverts the inventoried flag
	assert.Nil(t, tg.handle(gen2.QueryRep{}, r))
	assert.Equal(t, gen2.TargetB, tg.flags[gen2.S0])
	assert.Equal(t, stateReady, tg.state)

	assert.Nil(t, tg.handle(gen2.Query{Q: 0, Target: gen2.TargetA}, r))
	assert.NotNil(t, tg.handle(gen2.Query{Q: 0, Target: gen2.TargetB}, r))

	// other sessions are unaffected
	assert.NotNil(t, tg.handle(gen2.Query{Q: 0, Session: gen2.S2}, r))
}

func TestTag_slotCounter(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		tg := newTestTag(t, "3034257BF7194E4000001A85")
		reply := tg.handle(gen2.Query{Q: 4}, r)
		slot := tg.slot
		require.True(t, slot >= 0 && slot < 16)

		if slot == 0 {
			assert.NotNil(t, reply)
			continue
		}
		assert.Nil(t, reply)
		for s := 1; s < slot; s++ {
			assert.Nil(t, tg.handle(gen2.QueryRep{}, r))
		}
		assert.NotNil(t, tg.handle(gen2.QueryRep{}, r), "tag replies in slot %d", slot)

		// no ACK: it stays quiet for the rest of the round
		for s := 0; s < 20; s++ {
			assert.Nil(t, tg.handle(gen2.QueryRep{}, r))
		}
	}
}

func TestTag_queryRepOtherSession(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	tg := newTestTag(t, "E2000019")
	for tg.handle(gen2.Query{Q: 2, Session: gen2.S1}, r) != nil {
	}
	slot := tg.slot
	for s := 0; s < 10; s++ {
		assert.Nil(t, tg.handle(gen2.QueryRep{Session: gen2.S0}, r))
	}
	assert.Equal(t, slot, tg.slot)
}

func TestTag_queryAdjust(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	tg := newTestTag(t, "E2000019")
	tg.handle(gen2.Query{Q: 15}, r)

	// lowering Q to 0 always lands in slot 0
	for i := 0; i < 15; i++ {
		tg.handle(gen2.QueryAdjust{UpDn: gen2.UpDnDown}, r)
		if tg.state == stateReply {
			break
		}
	}
	for tg.q > 0 {
		tg.handle(gen2.Nak{}, r)
		tg.handle(gen2.QueryAdjust{UpDn: gen2.UpDnDown}, r)
	}
	assert.Equal(t, 0, tg.q)
	assert.NotNil(t, tg.handle(gen2.QueryAdjust{UpDn: gen2.UpDnNone}, r))

	// a tag that wasn't in the round ignores it
	other := newTestTag(t, "E2000020")
	assert.Nil(t, other.handle(gen2.QueryAdjust{UpDn: gen2.UpDnNone}, r))
}

func TestTag_select(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	match := newTestTag(t, "E2000019")
	miss := newTestTag(t, "3000")

	sel := gen2.DefaultSelect(gen2.MustParseBits("1110"))
	for _, tg := range []*tag{match, miss} {
		tg.handle(sel, r)
	}
	assert.True(t, match.sl)
	assert.False(t, miss.sl)

	q := gen2.Query{Q: 0, Sel: gen2.SelSL}
	assert.NotNil(t, match.handle(q, r))
	assert.Nil(t, miss.handle(q, r))

	q.Sel = gen2.SelNotSL
	assert.Nil(t, match.handle(q, r))
	assert.NotNil(t, miss.handle(q, r))

	// action 4 on S1: matching tags go to B, the rest to A
	s1 := gen2.Select{Target: gen2.SelectS1, Action: 4, MemBank: gen2.MemBankEPC, Pointer: 32,
		Mask: gen2.MustParseBits("1110")}
	miss.flags[gen2.S1] = gen2.TargetB
	match.handle(s1, r)
	miss.handle(s1, r)
	assert.Equal(t, gen2.TargetB, match.flags[gen2.S1])
	assert.Equal(t, gen2.TargetA, miss.flags[gen2.S1])

	// other banks never match a non-empty mask
	tid := gen2.Select{Target: gen2.SelectSL, Action: 0, MemBank: gen2.MemBankTID, Mask: gen2.MustParseBits("1")}
	match.handle(tid, r)
	assert.False(t, match.sl)
}

func TestSelectOp(t *testing.T) {
	tests := []struct {
		action         gen2.SelectAction
		match, nomatch flagOp
	}{
		{0, opAssert, opDeassert},
		{1, opAssert, opNothing},
		{2, opNothing, opDeassert},
		{3, opNegate, opNothing},
		{4, opDeassert, opAssert},
		{5, opDeassert, opNothing},
		{6, opNothing, opAssert},
		{7, opNothing, opNegate},
		{8, opNothing, opNothing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.match, selectOp(tt.action, true), "action %d", tt.action)
		assert.Equal(t, tt.nomatch, selectOp(tt.action, false), "action %d", tt.action)
	}
}

func TestTag_powerDown(t *testing.T) {
	tg := newTestTag(t, "E2000019")
	tg.flags = [4]gen2.Target{gen2.TargetB, gen2.TargetB, gen2.TargetB, gen2.TargetB}
	tg.sl = true
	tg.state = stateAcknowledged

	tg.powerDown()
	assert.Equal(t, [4]gen2.Target{gen2.TargetA, gen2.TargetB, gen2.TargetB, gen2.TargetB}, tg.flags)
	assert.False(t, tg.sl)
	assert.Equal(t, stateReady, tg.state)
}

// transmission builds what a reader would send for cmd starting at position at.
func transmission(cmd gen2.Command, at int64) reader.Transmission {
	cfg := reader.DefaultConfig()
	m := reader.NewModulator(cfg.Timing, cfg.TxRate, cfg.Amplitude)
	wave := m.Command(cmd)
	cmdEnd := at + int64(math.Round(float64(len(wave))*0.4))
	wave = append(wave, m.CW(time.Millisecond)...)
	return reader.Transmission{
		At:         at,
		CommandEnd: cmdEnd,
		End:        at + int64(math.Round(float64(len(wave))*0.4)),
		Command:    cmd,
		Samples:    wave,
	}
}

func TestChannel_reply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Noise = 0
	ch, err := NewChannel(getTestingLogger(), cfg, []TagSpec{{EPC: "E2000019", Amplitude: 0.25, Delay: 2}})
	require.NoError(t, err)

	tx := transmission(gen2.Query{Q: 0}, 0)
	require.NoError(t, ch.Transmit(tx))

	stats := ch.Stats()
	assert.Equal(t, 1, stats.Commands)
	assert.Equal(t, 1, stats.Replies)
	assert.Zero(t, stats.Collisions)

	buf := make(sdr.SamplesC64, 3000)
	n, err := ch.Read(buf[:1000])
	require.NoError(t, err)
	require.Equal(t, 1000, n)
	n, err = ch.Read(buf[1000:])
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	assert.Equal(t, int64(3000), ch.Position())

	// T1 is 96 samples at 400 kS/s; an RN16 reply is 23 symbols of 10 samples
	start := tx.CommandEnd + 96 + 2
	for i, s := range buf {
		mag := math.Hypot(float64(real(s)), float64(imag(s)))
		if int64(i) >= start && int64(i) < start+230 {
			assert.InDelta(t, 0.25, mag, 1e-6, "sample %d", i)
		} else {
			assert.Zero(t, mag, "sample %d", i)
		}
	}
}

func TestChannel_collision(t *testing.T) {
	cfg := DefaultConfig()
	specs := []TagSpec{{EPC: "E2000019"}, {EPC: "E2000020"}, {EPC: "E2000021"}}
	ch, err := NewChannel(getTestingLogger(), cfg, specs)
	require.NoError(t, err)

	require.NoError(t, ch.Transmit(transmission(gen2.Query{Q: 0}, 0)))
	stats := ch.Stats()
	assert.Equal(t, 3, stats.Replies)
	assert.Equal(t, 1, stats.Collisions)
}

func TestChannel_powerDown(t *testing.T) {
	cfg := DefaultConfig()
	ch, err := NewChannel(getTestingLogger(), cfg, []TagSpec{{EPC: "E2000019"}})
	require.NoError(t, err)
	tg := ch.tags[0]
	tg.flags[gen2.S0] = gen2.TargetB

	require.NoError(t, ch.Transmit(reader.Transmission{PowerDown: true, Samples: make(sdr.SamplesC64, 10)}))
	assert.Equal(t, gen2.TargetA, tg.flags[gen2.S0])
	assert.False(t, ch.powered)
	assert.Equal(t, 1, ch.Stats().PowerDowns)

	require.NoError(t, ch.Transmit(reader.Transmission{Samples: make(sdr.SamplesC64, 10)}))
	assert.True(t, ch.powered)
}

func TestChannel_undecodable(t *testing.T) {
	cfg := DefaultConfig()
	ch, err := NewChannel(getTestingLogger(), cfg, []TagSpec{{EPC: "E2000019"}})
	require.NoError(t, err)

	m := reader.NewModulator(gen2.DefaultLinkTiming(), 1e6, 1)
	tx := reader.Transmission{Command: gen2.Nak{}, Samples: m.CW(time.Millisecond)}
	require.NoError(t, ch.Transmit(tx))
	assert.Equal(t, 1, ch.Stats().Undecodable)
	assert.Zero(t, ch.Stats().Commands)
}

func TestChannel_length(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Length = 100
	ch, err := NewChannel(getTestingLogger(), cfg, nil)
	require.NoError(t, err)

	buf := make(sdr.SamplesC64, 64)
	n, err := ch.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 64, n)

	n, err = ch.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 36, n)

	n, err = ch.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)
}

func TestChannel_deterministic(t *testing.T) {
	read := func() sdr.SamplesC64 {
		ch, err := NewChannel(getTestingLogger(), DefaultConfig(), RandomPopulation(4, 11))
		require.NoError(t, err)
		require.NoError(t, ch.Transmit(transmission(gen2.Query{Q: 1}, 0)))
		buf := make(sdr.SamplesC64, 2000)
		_, err = ch.Read(buf)
		require.NoError(t, err)
		return buf
	}
	assert.Equal(t, read(), read())
}

func TestNewChannel_errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		specs  []TagSpec
	}{
		{"bad hex", nil, []TagSpec{{EPC: "XYZW"}}},
		{"odd bytes", nil, []TagSpec{{EPC: "E20000"}}},
		{"empty", nil, []TagSpec{{EPC: " "}}},
		{"duplicate", nil, []TagSpec{{EPC: "e2000019"}, {EPC: "E2000019"}}},
		{"negative delay", nil, []TagSpec{{EPC: "E2000019", Delay: -1}}},
		{"no rate", func(c *Config) { c.RxRate = 0 }, nil},
		{"negative noise", func(c *Config) { c.Noise = -1 }, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.modify != nil {
				tt.modify(&cfg)
			}
			_, err := NewChannel(getTestingLogger(), cfg, tt.specs)
			assert.Error(t, err)
		})
	}
}

func TestRandomPopulation(t *testing.T) {
	specs := RandomPopulation(50, 3)
	require.Len(t, specs, 50)
	assert.Equal(t, specs, RandomPopulation(50, 3))

	seen := map[string]bool{}
	for _, s := range specs {
		assert.Len(t, s.EPC, 24)
		assert.Equal(t, "E280", s.EPC[:4])
		assert.False(t, seen[s.EPC])
		seen[s.EPC] = true
		assert.True(t, s.Amplitude >= 0.15 && s.Amplitude <= 0.5)
	}

	ch, err := NewChannel(getTestingLogger(), DefaultConfig(), specs)
	require.NoError(t, err)
	assert.Len(t, ch.EPCs(), 50)
}
