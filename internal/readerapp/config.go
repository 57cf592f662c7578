//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package readerapp

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"hz.tools/rf"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
	"edgexfoundry/app-rfid-gen2-reader/internal/sim"
)

const (
	// SourceSim selects the simulated tag population as the sample source.
	SourceSim = "sim"

	customConfigSection = "AppCustom"
)

// ServiceConfig is the service's custom configuration section.
type ServiceConfig struct {
	AppCustom AppSettings
}

// UpdateFromRaw implements the SDK's UpdatableConfig.
func (sc *ServiceConfig) UpdateFromRaw(rawConfig interface{}) bool {
	configuration, ok := rawConfig.(*ServiceConfig)
	if !ok {
		return false
	}
	*sc = *configuration
	return true
}

// AppSettings holds every tunable of the reader.
// Durations are whole microseconds and rates are Hz,
// so the section stays flat for the configuration provider.
type AppSettings struct {
	DeviceName string

	// Source is SourceSim or the path of a raw complex64 receive stream.
	Source string
	// Sink is the path the transmit stream is written to. Empty discards it.
	Sink string
	// DiagnosticsPrefix, if set, names the files that get a copy of every burst
	// the decoder sees: prefix.cfile for the samples, prefix.jsonl for how they decoded.
	DiagnosticsPrefix string
	// RecordPath, if set, gets a copy of the receive stream.
	RecordPath string

	RxSampleRate int
	TxSampleRate int
	TxAmplitude  float64
	ChunkSize    int
	Prefetch     int
	AutoStart    bool
	// ExitWhenIdle ends the pipeline once the reader stops on its own,
	// e.g. after StopAfterRounds.
	ExitWhenIdle bool

	BLF               int
	PulseWidthMicros  int
	DelimiterMicros   int
	TRcalMicros       int
	T1Micros          int
	T2Micros          int
	T4Micros          int
	SettleMicros      int
	PowerDownMicros   int
	ReplySlackSymbols int
	MaxEPCWords       int

	GateThreshold        float64
	GateNoiseFactor      float64
	GateHysteresis       float64
	CorrelationThreshold float64

	Session    string
	Target     string
	DualTarget bool

	SelectEnabled bool
	SelectMask    string
	SelectPointer int
	SelectMemBank string
	SelectTarget  string
	SelectAction  int

	InitialQ        int
	MinQ            int
	MaxQ            int
	AdaptiveQ       bool
	QStep           float64
	UseQueryAdjust  bool
	StopAfterRounds int

	SimTags  int
	SimSeed  int64
	SimNoise float64

	NATSURL              string
	PersistFolder        string
	StatsIntervalSeconds int
}

// DefaultAppSettings matches the defaults of each stage.
func DefaultAppSettings() AppSettings {
	rc := reader.DefaultConfig()
	lt := rc.Timing
	sps := int(decoder.SamplesPerSymbol(rc.RxRate, lt.BLF))
	gc := gate.DefaultConfig(sps)
	dc := decoder.DefaultConfig(float64(sps))
	pc := pipeline.DefaultConfig()
	sc := sim.DefaultConfig()

	return AppSettings{
		DeviceName:   "Gen2Reader",
		Source:       SourceSim,
		RxSampleRate: int(rc.RxRate),
		TxSampleRate: int(rc.TxRate),
		TxAmplitude:  float64(rc.Amplitude),
		ChunkSize:    pc.ChunkSize,
		Prefetch:     pc.Prefetch,
		AutoStart:    pc.AutoStart,

		BLF:               int(lt.BLF),
		PulseWidthMicros:  micros(lt.PW),
		DelimiterMicros:   micros(lt.Delimiter),
		TRcalMicros:       micros(lt.TRcal),
		T1Micros:          micros(lt.T1),
		T2Micros:          micros(lt.T2),
		T4Micros:          micros(lt.T4),
		SettleMicros:      micros(lt.Settle),
		PowerDownMicros:   micros(lt.PowerDown),
		ReplySlackSymbols: rc.ReplySlackSymbols,
		MaxEPCWords:       rc.MaxEPCWords,

		GateThreshold:        gc.Threshold,
		GateNoiseFactor:      gc.NoiseFactor,
		GateHysteresis:       gc.Hysteresis,
		CorrelationThreshold: dc.CorrelationThreshold,

		Session:    rc.Session.String(),
		Target:     rc.Target.String(),
		DualTarget: rc.DualTarget,

		SelectPointer: int(rc.Select.Pointer),
		SelectMemBank: "EPC",
		SelectTarget:  "SL",

		InitialQ:       rc.InitialQ,
		MinQ:           rc.MinQ,
		MaxQ:           rc.MaxQ,
		AdaptiveQ:      rc.AdaptiveQ,
		QStep:          rc.QStep,
		UseQueryAdjust: rc.UseQueryAdjust,

		SimTags:  10,
		SimSeed:  sc.Seed,
		SimNoise: sc.Noise,

		PersistFolder:        "cache",
		StatsIntervalSeconds: 10,
	}
}

func micros(d time.Duration) int {
	return int(d / time.Microsecond)
}

func microsDuration(us int) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// Stages are the per-component configurations derived from AppSettings.
type Stages struct {
	Reader   reader.Config
	Gate     gate.Config
	Decoder  decoder.Config
	Pipeline pipeline.Config
	Sim      sim.Config
}

// Timing converts the link settings.
func (as AppSettings) Timing() gen2.LinkTiming {
	lt := gen2.DefaultLinkTiming()
	lt.PW = microsDuration(as.PulseWidthMicros)
	lt.Delimiter = microsDuration(as.DelimiterMicros)
	lt.TRcal = microsDuration(as.TRcalMicros)
	lt.BLF = rf.Hz(as.BLF)
	lt.T1 = microsDuration(as.T1Micros)
	lt.T2 = microsDuration(as.T2Micros)
	lt.T4 = microsDuration(as.T4Micros)
	lt.Settle = microsDuration(as.SettleMicros)
	lt.PowerDown = microsDuration(as.PowerDownMicros)
	return lt
}

// Simulated reports whether the source is the simulated population.
func (as AppSettings) Simulated() bool {
	return strings.EqualFold(strings.TrimSpace(as.Source), SourceSim)
}

// Stages builds and validates every component's configuration.
func (as AppSettings) Stages() (Stages, error) {
	var st Stages
	if as.RxSampleRate <= 0 || as.TxSampleRate <= 0 {
		return st, errors.Errorf("sample rates must be positive, but are rx=%d tx=%d",
			as.RxSampleRate, as.TxSampleRate)
	}
	if as.BLF <= 0 {
		return st, errors.Errorf("BLF must be positive, but is %d", as.BLF)
	}
	if !as.Simulated() && strings.TrimSpace(as.Source) == "" {
		return st, errors.New("missing Source")
	}
	if as.StatsIntervalSeconds < 0 {
		return st, errors.New("StatsIntervalSeconds must not be negative")
	}

	lt := as.Timing()
	if err := lt.Validate(); err != nil {
		return st, errors.Wrap(err, "invalid link timing")
	}

	rc, err := as.readerConfig(lt)
	if err != nil {
		return st, err
	}
	st.Reader = rc

	sps := decoder.SamplesPerSymbol(rc.RxRate, lt.BLF)
	st.Gate = gate.DefaultConfig(int(sps))
	st.Gate.Threshold = as.GateThreshold
	st.Gate.NoiseFactor = as.GateNoiseFactor
	st.Gate.Hysteresis = as.GateHysteresis
	if err := st.Gate.Validate(); err != nil {
		return st, err
	}

	st.Decoder = decoder.DefaultConfig(sps)
	st.Decoder.CorrelationThreshold = as.CorrelationThreshold
	if err := st.Decoder.Validate(); err != nil {
		return st, err
	}

	st.Pipeline = pipeline.Config{
		ChunkSize:    as.ChunkSize,
		Prefetch:     as.Prefetch,
		AutoStart:    as.AutoStart,
		ExitWhenIdle: as.ExitWhenIdle,
	}
	if as.Simulated() {
		// tags answer what they hear, so the source can't run ahead of the reader
		st.Pipeline.Prefetch = 0
	}
	if err := st.Pipeline.Validate(); err != nil {
		return st, err
	}

	st.Sim = sim.DefaultConfig()
	st.Sim.Timing = lt
	st.Sim.RxRate = rc.RxRate
	st.Sim.Noise = as.SimNoise
	st.Sim.Seed = as.SimSeed
	if as.Simulated() && as.SimTags < 0 {
		return st, errors.New("SimTags must not be negative")
	}

	return st, nil
}

func (as AppSettings) readerConfig(lt gen2.LinkTiming) (reader.Config, error) {
	rc := reader.DefaultConfig()
	rc.Timing = lt
	rc.RxRate = rf.Hz(as.RxSampleRate)
	rc.TxRate = rf.Hz(as.TxSampleRate)
	rc.Amplitude = float32(as.TxAmplitude)
	rc.ReplySlackSymbols = as.ReplySlackSymbols
	rc.MaxEPCWords = as.MaxEPCWords
	rc.DualTarget = as.DualTarget
	rc.InitialQ = as.InitialQ
	rc.MinQ = as.MinQ
	rc.MaxQ = as.MaxQ
	rc.AdaptiveQ = as.AdaptiveQ
	rc.QStep = as.QStep
	rc.UseQueryAdjust = as.UseQueryAdjust
	rc.StopAfterRounds = as.StopAfterRounds

	if err := rc.Session.UnmarshalText([]byte(strings.TrimSpace(as.Session))); err != nil {
		return rc, errors.Wrap(err, "invalid Session")
	}
	if err := rc.Target.UnmarshalText([]byte(strings.TrimSpace(as.Target))); err != nil {
		return rc, errors.Wrap(err, "invalid Target")
	}

	rc.SelectEnabled = as.SelectEnabled
	if as.SelectEnabled {
		mask, err := gen2.ParseMask(strings.TrimSpace(as.SelectMask))
		if err != nil {
			return rc, err
		}
		if as.SelectPointer < 0 || as.SelectAction < 0 {
			return rc, errors.New("SelectPointer and SelectAction must not be negative")
		}
		sel := gen2.DefaultSelect(mask)
		sel.Pointer = uint32(as.SelectPointer)
		sel.Action = gen2.SelectAction(as.SelectAction)
		if err := sel.MemBank.UnmarshalText([]byte(strings.TrimSpace(as.SelectMemBank))); err != nil {
			return rc, errors.Wrap(err, "invalid SelectMemBank")
		}
		if err := sel.Target.UnmarshalText([]byte(strings.TrimSpace(as.SelectTarget))); err != nil {
			return rc, errors.Wrap(err, "invalid SelectTarget")
		}
		rc.Select = sel
	}

	return rc, rc.Validate()
}

// Validate reports the first problem with the settings.
func (as AppSettings) Validate() error {
	_, err := as.Stages()
	return err
}
