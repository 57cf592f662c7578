//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package gate isolates tag reply bursts from a continuous sample stream
// using a moving-average energy detector with hysteresis.
//
// The input is expected to already be DC-blocked, matched-filtered,
// and decimated to the working rate, so a backscattered reply shows up
// as a step in sample magnitude above the noise floor.
package gate

import (
	"math"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/circular"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

var ErrInvalidConfig = errors.New("invalid gate config")

// Config controls burst detection. All lengths are in samples.
type Config struct {
	// Window is the length of the moving average used as the energy estimate.
	Window int
	// StartDwell is how long the energy must stay above the start threshold
	// before a burst is declared.
	StartDwell int
	// EndDwell is how long the energy must stay below the end threshold
	// before the burst is sealed. It should be at least one symbol.
	EndDwell int

	// Threshold is a fixed floor on the start threshold, in sample magnitude.
	Threshold float64
	// NoiseFactor scales the idle noise floor estimate to get an adaptive
	// start threshold. The larger of this and Threshold is used.
	NoiseFactor float64
	// NoiseWindow is how many idle samples make up the noise floor estimate.
	NoiseWindow int
	// Hysteresis is the ratio of the end threshold to the start threshold.
	Hysteresis float64

	// MinBurst and MaxBurst bound the length of a valid reply.
	// Shorter bursts are rejected as noise spikes;
	// longer ones are discarded.
	MinBurst int
	MaxBurst int
}

// DefaultConfig returns a Config sized for the given symbol length.
func DefaultConfig(samplesPerSymbol int) Config {
	sps := samplesPerSymbol
	if sps < 2 {
		sps = 2
	}

	longest := gen2.TagPreambleSymbols + gen2.EPCReplyBits(gen2.MaxEPCWords) + 1
	return Config{
		Window:      sps / 2,
		StartDwell:  sps / 2,
		EndDwell:    sps,
		Threshold:   0.02,
		NoiseFactor: 4,
		NoiseWindow: 64 * sps,
		Hysteresis:  0.6,
		MinBurst:    gen2.RN16ReplySymbols * sps / 2,
		MaxBurst:    (longest + 4) * sps,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return errors.Wrap(ErrInvalidConfig, "Window must be at least 1")
	case c.StartDwell < 1:
		return errors.Wrap(ErrInvalidConfig, "StartDwell must be at least 1")
	case c.EndDwell < 1:
		return errors.Wrap(ErrInvalidConfig, "EndDwell must be at least 1")
	case c.NoiseWindow < 1:
		return errors.Wrap(ErrInvalidConfig, "NoiseWindow must be at least 1")
	case c.Threshold < 0 || c.NoiseFactor < 0:
		return errors.Wrap(ErrInvalidConfig, "thresholds must not be negative")
	case c.Threshold == 0 && c.NoiseFactor == 0:
		return errors.Wrap(ErrInvalidConfig, "one of Threshold or NoiseFactor must be set")
	case c.Hysteresis <= 0 || c.Hysteresis > 1:
		return errors.Wrapf(ErrInvalidConfig, "Hysteresis %v is not in (0, 1]", c.Hysteresis)
	case c.MinBurst < 1:
		return errors.Wrap(ErrInvalidConfig, "MinBurst must be at least 1")
	case c.MaxBurst < c.MinBurst:
		return errors.Wrapf(ErrInvalidConfig, "MaxBurst %d is less than MinBurst %d", c.MaxBurst, c.MinBurst)
	}
	return nil
}

// Burst is a sealed run of samples that had energy above the threshold.
// Samples are the unaltered input values.
type Burst struct {
	Start   int64 // stream position of Samples[0]
	Samples sdr.SamplesC64
}

// End is the stream position just past the burst's last sample.
func (b Burst) End() int64 {
	return b.Start + int64(len(b.Samples))
}

// Stats counts what the Gate has done with its input.
type Stats struct {
	Samples    int64   `json:"samples"`
	Bursts     int     `json:"bursts"`
	Rejected   int     `json:"rejected"` // too short
	Oversize   int     `json:"oversize"` // too long
	NoiseFloor float64 `json:"noise_floor"`
}

type gateState int

const (
	stateIdle = gateState(iota)
	stateActive
	stateOversize
)

// Gate tracks burst state across chunks of a continuous sample stream.
// It isn't safe for concurrent use.
type Gate struct {
	lc  logger.LoggingClient
	cfg Config

	energy *circular.Buffer
	noise  *circular.Buffer

	// history holds recent idle samples so that a burst includes
	// the samples that pushed the energy estimate over the threshold.
	history  sdr.SamplesC64
	histNext int
	histLen  int

	state gateState
	above int
	below int
	burst Burst

	pos   int64
	stats Stats
}

func New(lc logger.LoggingClient, cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Gate{
		lc:      lc,
		cfg:     cfg,
		energy:  circular.NewBuffer(cfg.Window),
		noise:   circular.NewBuffer(cfg.NoiseWindow),
		history: make(sdr.SamplesC64, cfg.Window+cfg.StartDwell),
	}, nil
}

// Position is the number of samples consumed so far.
func (g *Gate) Position() int64 {
	return g.pos
}

func (g *Gate) Stats() Stats {
	s := g.stats
	s.Samples = g.pos
	s.NoiseFloor = g.noise.Mean()
	if math.IsNaN(s.NoiseFloor) {
		s.NoiseFloor = 0
	}
	return s
}

// Active reports whether a burst is in progress, and where it began.
func (g *Gate) Active() (start int64, ok bool) {
	if g.state != stateActive {
		return 0, false
	}
	return g.burst.Start, true
}

// Thresholds returns the current start and end thresholds.
func (g *Gate) Thresholds() (start, end float64) {
	start = g.cfg.Threshold
	if nf := g.noise.Mean(); !math.IsNaN(nf) && nf*g.cfg.NoiseFactor > start {
		start = nf * g.cfg.NoiseFactor
	}
	return start, start * g.cfg.Hysteresis
}

// Process consumes the next chunk of the stream
// and returns any bursts sealed within it, in order.
func (g *Gate) Process(samples sdr.SamplesC64) []Burst {
	var out []Burst

	startThr, endThr := g.Thresholds()
	for _, x := range samples {
		re, im := float64(real(x)), float64(imag(x))
		mag := math.Sqrt(re*re + im*im)
		g.energy.Add(mag)
		e := g.energy.Mean()

		switch g.state {
		case stateIdle:
			g.remember(x)
			if e > startThr {
				g.above++
			} else {
				g.above = 0
				if e < endThr {
					g.noise.Add(mag)
					startThr, endThr = g.Thresholds()
				}
			}

			if g.above >= g.cfg.StartDwell {
				g.open()
			}

		case stateActive:
			g.burst.Samples = append(g.burst.Samples, x)
			if e < endThr {
				g.below++
			} else {
				g.below = 0
			}

			if len(g.burst.Samples) > g.cfg.MaxBurst {
				g.stats.Oversize++
				g.lc.Warn("Discarding burst longer than max length.",
					"start", g.burst.Start, "maxBurst", g.cfg.MaxBurst)
				g.burst = Burst{}
				g.state = stateOversize
			} else if g.below >= g.cfg.EndDwell {
				if b, ok := g.seal(); ok {
					out = append(out, b)
				}
			}

		case stateOversize:
			// A threshold below the noise floor looks like an endless burst,
			// so keep learning the floor until the energy drops.
			g.noise.Add(mag)
			startThr, endThr = g.Thresholds()
			if e < endThr {
				g.below++
			} else {
				g.below = 0
			}
			if g.below >= g.cfg.EndDwell {
				g.reset()
			}
		}

		g.pos++
	}

	return out
}

// Flush seals any burst in progress, as if the energy had just dropped.
// It's used when the stream ends.
func (g *Gate) Flush() []Burst {
	if g.state != stateActive {
		g.reset()
		return nil
	}

	if b, ok := g.seal(); ok {
		return []Burst{b}
	}
	return nil
}

func (g *Gate) remember(x complex64) {
	g.history[g.histNext] = x
	g.histNext = (g.histNext + 1) % len(g.history)
	if g.histLen < len(g.history) {
		g.histLen++
	}
}

// open starts a burst with the remembered idle samples, oldest first.
// The current sample is the last one remembered.
func (g *Gate) open() {
	n := g.histLen
	samples := make(sdr.SamplesC64, 0, n+g.cfg.MinBurst)
	first := (g.histNext - n + len(g.history)) % len(g.history)
	for i := 0; i < n; i++ {
		samples = append(samples, g.history[(first+i)%len(g.history)])
	}

	g.burst = Burst{Start: g.pos + 1 - int64(n), Samples: samples}
	g.state = stateActive
	g.below = 0
}

func (g *Gate) seal() (Burst, bool) {
	b := g.burst
	g.reset()

	if len(b.Samples) < g.cfg.MinBurst {
		g.stats.Rejected++
		return Burst{}, false
	}

	g.stats.Bursts++
	return b, true
}

func (g *Gate) reset() {
	g.burst = Burst{}
	g.state = stateIdle
	g.above = 0
	g.below = 0
	g.histLen = 0
}
