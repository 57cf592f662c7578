//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"time"

	"github.com/pkg/errors"
	"hz.tools/rf"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

var ErrInvalidConfig = errors.New("invalid reader config")

// Config controls the inventory protocol.
type Config struct {
	Timing gen2.LinkTiming

	// TxRate is the rate of the transmitted waveforms.
	TxRate rf.Hz
	// RxRate is the rate of the received sample stream,
	// which is the clock every wait is measured against.
	RxRate rf.Hz
	// Amplitude is the carrier level of the transmitted waveforms, in (0, 1].
	Amplitude float32

	Session gen2.Session
	Target  gen2.Target
	// DualTarget flips the target after a round in which no tag replied,
	// so tags inventoried on one side are read again from the other.
	DualTarget bool

	// SelectEnabled sends Select before every round.
	// If it targets SL, Queries ask only for tags with SL asserted.
	SelectEnabled bool
	Select        gen2.Select

	InitialQ int
	MinQ     int
	MaxQ     int
	// AdaptiveQ adjusts Q between rounds; otherwise Q stays at InitialQ.
	AdaptiveQ bool
	// QStep is how far each collision or empty slot moves the adaptive estimate.
	QStep float64
	// UseQueryAdjust starts rounds whose Q differs by one from the last
	// with QueryAdjust instead of Query when nothing else changed.
	UseQueryAdjust bool

	// MaxEPCWords sizes the wait for an EPC reply after ACK.
	MaxEPCWords int
	// ReplySlackSymbols extends every reply wait past the carrier
	// that follows the command, to give the gate time to seal the burst.
	ReplySlackSymbols int
	// StopAfterRounds stops the reader after that many rounds. Zero runs until stopped.
	StopAfterRounds int

	// Clock timestamps tag reads. It's not used for protocol timing.
	Clock func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Timing:            gen2.DefaultLinkTiming(),
		TxRate:            1000 * rf.KHz,
		RxRate:            400 * rf.KHz,
		Amplitude:         1,
		Session:           gen2.S0,
		Target:            gen2.TargetA,
		DualTarget:        true,
		Select:            gen2.DefaultSelect(nil),
		InitialQ:          4,
		MinQ:              0,
		MaxQ:              gen2.MaxQ,
		AdaptiveQ:         true,
		QStep:             0.3,
		MaxEPCWords:       8,
		ReplySlackSymbols: 4,
		Clock:             time.Now,
	}
}

func (c Config) Validate() error {
	if err := c.Timing.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "link timing: %v", err)
	}
	if c.TxRate <= 0 || c.RxRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "sample rates must be positive (tx %v, rx %v)", c.TxRate, c.RxRate)
	}
	if float64(c.TxRate)*c.Timing.PW.Seconds() < 2 {
		return errors.Wrapf(ErrInvalidConfig, "tx rate %v is too low for pulse width %v", c.TxRate, c.Timing.PW)
	}
	if c.Amplitude <= 0 || c.Amplitude > 1 {
		return errors.Wrapf(ErrInvalidConfig, "amplitude %v is not in (0, 1]", c.Amplitude)
	}
	if err := c.Session.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Target > gen2.TargetB {
		return errors.Wrapf(ErrInvalidConfig, "invalid target %d", c.Target)
	}

	for _, q := range []int{c.InitialQ, c.MinQ, c.MaxQ} {
		if err := gen2.ValidateQ(q); err != nil {
			return errors.Wrap(ErrInvalidConfig, err.Error())
		}
	}
	if c.MinQ > c.InitialQ || c.InitialQ > c.MaxQ {
		return errors.Wrapf(ErrInvalidConfig, "need MinQ <= InitialQ <= MaxQ, but have %d, %d, %d",
			c.MinQ, c.InitialQ, c.MaxQ)
	}
	if c.AdaptiveQ && (c.QStep <= 0 || c.QStep > 1) {
		return errors.Wrapf(ErrInvalidConfig, "QStep %v is not in (0, 1]", c.QStep)
	}

	if c.SelectEnabled {
		if err := c.Select.Validate(); err != nil {
			return errors.Wrap(ErrInvalidConfig, err.Error())
		}
	}

	if c.MaxEPCWords < 1 || c.MaxEPCWords > gen2.MaxEPCWords {
		return errors.Wrapf(ErrInvalidConfig, "MaxEPCWords %d is not in [1, %d]", c.MaxEPCWords, gen2.MaxEPCWords)
	}
	if c.ReplySlackSymbols < 0 {
		return errors.Wrap(ErrInvalidConfig, "ReplySlackSymbols must not be negative")
	}
	if c.StopAfterRounds < 0 {
		return errors.Wrap(ErrInvalidConfig, "StopAfterRounds must not be negative")
	}
	return nil
}

// querySel is the Sel field of every Query.
func (c Config) querySel() gen2.Sel {
	if c.SelectEnabled && c.Select.Target == gen2.SelectSL {
		return gen2.SelSL
	}
	return gen2.SelAll
}

func (c Config) qPolicy() QPolicy {
	if c.AdaptiveQ {
		return NewAdaptiveQ(c.InitialQ, c.MinQ, c.MaxQ, c.QStep)
	}
	return NewFixedQ(c.InitialQ)
}
