//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package sim simulates a population of Gen2 tags and the channel between them and a reader.
//
// A Channel is both the reader's sample source and its transmit sink:
// it demodulates the reader's PIE waveforms the way tags do,
// runs each tag's inventory state machine, and adds their FM0 replies
// to the receive stream T1 after the command that caused them.
package sim

import (
	"encoding/hex"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

type Config struct {
	Timing gen2.LinkTiming
	RxRate rf.Hz
	// Noise is the standard deviation of each component of the receive noise.
	Noise float64
	Seed  int64
	// Length ends the receive stream after that many samples. Zero never ends.
	Length int64
}

func DefaultConfig() Config {
	return Config{
		Timing: gen2.DefaultLinkTiming(),
		RxRate: 400 * rf.KHz,
		Noise:  0.01,
		Seed:   1,
	}
}

// Stats count what the channel saw.
type Stats struct {
	Commands    int `json:"commands"`
	Undecodable int `json:"undecodable"`
	Replies     int `json:"replies"`
	// Collisions counts commands answered by more than one tag.
	Collisions int `json:"collisions"`
	PowerDowns int `json:"power_downs"`
}

type pending struct {
	start   int64
	samples sdr.SamplesC64
}

func (p pending) end() int64 {
	return p.start + int64(len(p.samples))
}

// Channel is a reader's view of a tag population.
// Read and Transmit may be called from different goroutines.
type Channel struct {
	lc    logger.LoggingClient
	cfg   Config
	sps   float64
	t1    int64
	noise *rand.Rand
	tagRN *rand.Rand

	mu      sync.Mutex
	tags    []*tag
	pos     int64
	powered bool
	replies []pending
	stats   Stats
}

func NewChannel(lc logger.LoggingClient, cfg Config, specs []TagSpec) (*Channel, error) {
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}
	if cfg.RxRate <= 0 {
		return nil, errors.Errorf("receive rate must be positive, but is %v", cfg.RxRate)
	}
	if cfg.Noise < 0 || cfg.Length < 0 {
		return nil, errors.New("noise and length must not be negative")
	}

	c := &Channel{
		lc:    lc,
		cfg:   cfg,
		sps:   decoder.SamplesPerSymbol(cfg.RxRate, cfg.Timing.BLF),
		t1:    int64(gen2.Samples(cfg.Timing.T1, cfg.RxRate)),
		noise: rand.New(rand.NewSource(cfg.Seed)),
		tagRN: rand.New(rand.NewSource(cfg.Seed + 1)),
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		t, err := newTag(spec)
		if err != nil {
			return nil, err
		}
		if seen[t.id] {
			return nil, errors.Errorf("duplicate tag %s", t.id)
		}
		seen[t.id] = true
		c.tags = append(c.tags, t)
	}

	lc.Debug("Simulated channel ready.", "tags", len(c.tags), "samplesPerSymbol", c.sps, "noise", cfg.Noise)
	return c, nil
}

// RandomPopulation returns n tags with distinct random 96 bit EPCs,
// amplitudes between 0.15 and 0.5, and random phases and small delays.
func RandomPopulation(n int, seed int64) []TagSpec {
	r := rand.New(rand.NewSource(seed))
	specs := make([]TagSpec, 0, n)
	seen := make(map[string]bool, n)
	for len(specs) < n {
		epc := make([]byte, 12)
		epc[0], epc[1] = 0xE2, 0x80
		r.Read(epc[2:])
		id := strings.ToUpper(hex.EncodeToString(epc))
		if seen[id] {
			continue
		}
		seen[id] = true
		specs = append(specs, TagSpec{
			EPC:       id,
			Amplitude: 0.15 + 0.35*r.Float64(),
			Phase:     2 * 3.141592653589793 * r.Float64(),
			Delay:     r.Intn(4),
		})
	}
	return specs
}

// Position is the number of samples read so far.
func (c *Channel) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Acknowledged returns, per EPC, how many times the tag backscattered its EPC.
func (c *Channel) Acknowledged() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	acks := make(map[string]int, len(c.tags))
	for _, t := range c.tags {
		acks[t.id] = t.acks
	}
	return acks
}

// EPCs returns the population's EPCs in order.
func (c *Channel) EPCs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.tags))
	for i, t := range c.tags {
		ids[i] = t.id
	}
	sort.Strings(ids)
	return ids
}

// SampleRate implements sdr.Reader.
func (c *Channel) SampleRate() uint {
	return uint(c.cfg.RxRate)
}

// SampleFormat implements sdr.Reader.
func (c *Channel) SampleFormat() sdr.SampleFormat {
	return sdr.SampleFormatC64
}

// Read implements sdr.Reader. It fills buf with noise plus any replies,
// and returns io.EOF once the configured length is reached.
func (c *Channel) Read(samples sdr.Samples) (int, error) {
	buf, ok := samples.(sdr.SamplesC64)
	if !ok {
		return 0, sdr.ErrSampleFormatMismatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(buf))
	if c.cfg.Length > 0 {
		left := c.cfg.Length - c.pos
		if left <= 0 {
			return 0, io.EOF
		}
		if n > left {
			n = left
		}
	}

	sigma := c.cfg.Noise
	for i := int64(0); i < n; i++ {
		if sigma == 0 {
			buf[i] = 0
			continue
		}
		buf[i] = complex(float32(c.noise.NormFloat64()*sigma), float32(c.noise.NormFloat64()*sigma))
	}

	end := c.pos + n
	kept := c.replies[:0]
	for _, p := range c.replies {
		lo, hi := p.start, p.end()
		if lo < c.pos {
			lo = c.pos
		}
		if hi > end {
			hi = end
		}
		for i := lo; i < hi; i++ {
			buf[i-c.pos] += p.samples[i-p.start]
		}
		if p.end() > end {
			kept = append(kept, p)
		}
	}
	c.replies = kept
	c.pos = end

	return int(n), nil
}

// Transmit delivers a reader transmission to every tag.
func (c *Channel) Transmit(tx reader.Transmission) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.PowerDown {
		c.powered = false
		c.stats.PowerDowns++
		for _, t := range c.tags {
			t.powerDown()
		}
		c.lc.Debug("Simulated tags lost power.", "position", tx.At)
		return nil
	}
	c.powered = true
	if tx.Command == nil {
		return nil
	}

	bits, _, err := reader.DemodulatePIE(tx.Samples)
	if err != nil {
		c.stats.Undecodable++
		c.lc.Warn("Simulated tags couldn't demodulate a command.", "position", tx.At, "error", err)
		return nil
	}
	cmd, err := gen2.ParseCommand(bits)
	if err != nil {
		c.stats.Undecodable++
		c.lc.Warn("Simulated tags ignored an invalid command.", "position", tx.At, "error", err)
		return nil
	}
	c.stats.Commands++

	start := tx.CommandEnd + c.t1
	replies := 0
	for _, t := range c.tags {
		reply := t.handle(cmd, c.tagRN)
		if reply == nil {
			continue
		}
		replies++
		c.replies = append(c.replies, pending{
			start:   start + t.delay,
			samples: decoder.RenderReply(reply, c.sps, t.amp),
		})
	}

	c.stats.Replies += replies
	if replies > 1 {
		c.stats.Collisions++
	}
	if start < c.pos && replies > 0 {
		c.lc.Warn("Reply scheduled in the past; the reader is reading ahead of its transmissions.",
			"replyStart", start, "position", c.pos)
	}
	c.lc.Trace("Simulated command.", "command", cmd.Kind(), "replies", replies, "position", tx.At)
	return nil
}
