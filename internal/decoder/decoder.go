//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package decoder recovers tag replies from gated bursts.
//
// It finds the FM0 preamble by correlation, which gives symbol timing
// and the carrier phase of the backscattered signal, then slices the rest
// of the burst into symbols and classifies the result as an RN16 or an EPC reply.
package decoder

import (
	"math"
	"math/cmplx"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"hz.tools/rf"

	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
)

var ErrInvalidConfig = errors.New("invalid decoder config")

// rn16MaxSymbols is the boundary between the two reply classes.
// An RN16 reply is 17 symbols; the shortest EPC reply is 33.
const rn16MaxSymbols = 32

type Config struct {
	// SamplesPerSymbol need not be an integer.
	SamplesPerSymbol float64
	// CorrelationThreshold is the minimum normalized preamble correlation, in (0, 1].
	CorrelationThreshold float64
	// SearchSymbols bounds how far into a burst the preamble may start.
	SearchSymbols int
	// TailRatio trims trailing symbols whose magnitude is less than
	// this fraction of the preamble's.
	TailRatio float64
}

// SamplesPerSymbol derives the symbol length from the receive sample rate and BLF.
func SamplesPerSymbol(rate, blf rf.Hz) float64 {
	return float64(rate) / float64(blf)
}

func DefaultConfig(samplesPerSymbol float64) Config {
	return Config{
		SamplesPerSymbol:     samplesPerSymbol,
		CorrelationThreshold: 0.7,
		SearchSymbols:        4,
		TailRatio:            0.5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SamplesPerSymbol < 4:
		return errors.Wrapf(ErrInvalidConfig, "need at least 4 samples per symbol, but have %v", c.SamplesPerSymbol)
	case c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "correlation threshold %v is not in (0, 1]", c.CorrelationThreshold)
	case c.SearchSymbols < 0:
		return errors.Wrap(ErrInvalidConfig, "SearchSymbols must not be negative")
	case c.TailRatio < 0 || c.TailRatio >= 1:
		return errors.Wrapf(ErrInvalidConfig, "tail ratio %v is not in [0, 1)", c.TailRatio)
	}
	return nil
}

// Class discriminates reply frames by length.
type Class int

const (
	ClassRN16 = Class(iota)
	ClassEPC
)

func (c Class) String() string {
	if c == ClassEPC {
		return "EPC"
	}
	return "RN16"
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Frame is the decoded content of one burst.
// Bits are meaningful as a tag reply only if Valid is true.
type Frame struct {
	Start int64 `json:"start"` // stream position of the burst's first sample
	End   int64 `json:"end"`   // stream position just past the burst

	Class Class `json:"class"`
	// Bits holds the RN16, or for an EPC reply, the PC, EPC, and CRC.
	// The dummy bit is not included.
	Bits  gen2.Bits `json:"bits"`
	Valid bool      `json:"valid"`

	Symbols     int     `json:"symbols"`     // symbols found after the preamble
	Violations  int     `json:"violations"`  // FM0 boundary violations within the frame
	Correlation float64 `json:"correlation"` // normalized preamble correlation
	Strength    float64 `json:"strength"`    // mean reply amplitude
}

// EPC parses an EPC-class frame.
func (f Frame) EPC() (gen2.EPCReply, bool) {
	if f.Class != ClassEPC || !f.Valid {
		return gen2.EPCReply{}, false
	}
	r, err := gen2.ParseEPCReply(f.Bits)
	return r, err == nil && len(r.EPC) > 0
}

// Stats counts decode outcomes.
type Stats struct {
	Bursts      int `json:"bursts"`
	NoPreamble  int `json:"no_preamble"`
	RN16Valid   int `json:"rn16_valid"`
	RN16Invalid int `json:"rn16_invalid"`
	EPCValid    int `json:"epc_valid"`
	EPCInvalid  int `json:"epc_invalid"`
}

// TagDecoder turns bursts into frames. It isn't safe for concurrent use.
type TagDecoder struct {
	lc       logger.LoggingClient
	cfg      Config
	template []float64
	diag     DiagnosticSink
	stats    Stats
}

func New(lc logger.LoggingClient, cfg Config) (*TagDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := int(math.Round(float64(len(Preamble)) * cfg.SamplesPerSymbol / 2))
	tmpl := make([]float64, n)
	for i := range tmpl {
		h := int(float64(i) * 2 / cfg.SamplesPerSymbol)
		if h >= len(Preamble) {
			h = len(Preamble) - 1
		}
		tmpl[i] = float64(Preamble[h])
	}

	return &TagDecoder{lc: lc, cfg: cfg, template: tmpl}, nil
}

// SetDiagnostics sets a sink to receive a copy of every burst
// along with how it was decoded. A nil sink disables diagnostics.
func (td *TagDecoder) SetDiagnostics(sink DiagnosticSink) {
	td.diag = sink
}

func (td *TagDecoder) Stats() Stats {
	return td.stats
}

// Process decodes a burst. If no preamble is found, it returns false.
// Otherwise it returns a frame, which may be invalid.
func (td *TagDecoder) Process(b gate.Burst) (Frame, bool) {
	td.stats.Bursts++

	f, d, ok := td.decode(b)
	if td.diag != nil {
		d.BurstStart = b.Start
		d.Samples = b.Samples
		if ok {
			d.Frame = &f
		}
		if err := td.diag.WriteDiagnostic(d); err != nil {
			td.lc.Warn("Failed to write decoder diagnostics; disabling them.", "error", err)
			td.diag = nil
		}
	}

	if !ok {
		td.stats.NoPreamble++
		td.lc.Trace("No preamble in burst.", "start", b.Start, "length", len(b.Samples),
			"correlation", d.Correlation)
		return Frame{}, false
	}

	switch {
	case f.Class == ClassRN16 && f.Valid:
		td.stats.RN16Valid++
	case f.Class == ClassRN16:
		td.stats.RN16Invalid++
	case f.Valid:
		td.stats.EPCValid++
	default:
		td.stats.EPCInvalid++
	}

	td.lc.Trace("Decoded burst.", "start", f.Start, "class", f.Class.String(), "valid", f.Valid,
		"bits", f.Bits.String(), "symbols", f.Symbols, "violations", f.Violations,
		"correlation", f.Correlation)
	return f, true
}

func (td *TagDecoder) decode(b gate.Burst) (Frame, Diagnostic, bool) {
	sps := td.cfg.SamplesPerSymbol
	x := b.Samples
	tlen := len(td.template)
	var d Diagnostic

	if len(x) < tlen+int(sps) {
		return Frame{}, d, false
	}

	// remove any residual carrier
	var mean complex128
	for _, v := range x {
		mean += complex128(v)
	}
	mean /= complex(float64(len(x)), 0)
	y := make([]complex128, len(x))
	for i, v := range x {
		y[i] = complex128(v) - mean
	}

	// preamble search
	last := len(y) - tlen
	if lim := int(float64(td.cfg.SearchSymbols) * sps); lim < last {
		last = lim
	}
	bestK, bestC := -1, complex128(0)
	for k := 0; k <= last; k++ {
		var c complex128
		for i, t := range td.template {
			c += y[k+i] * complex(t, 0)
		}
		if bestK < 0 || cmplx.Abs(c) > cmplx.Abs(bestC) {
			bestK, bestC = k, c
		}
	}

	var power float64
	for _, v := range y[bestK : bestK+tlen] {
		power += real(v)*real(v) + imag(v)*imag(v)
	}
	rho := 0.0
	if power > 0 {
		rho = cmplx.Abs(bestC) / math.Sqrt(power*float64(tlen))
	}
	d.PreambleOffset = bestK
	d.Correlation = rho
	if rho < td.cfg.CorrelationThreshold {
		return Frame{}, d, false
	}

	// derotate so the preamble correlates positively on the real axis
	phase := cmplx.Phase(bestC)
	rot := cmplx.Rect(1, -phase)
	d.Phase = phase
	strength := cmplx.Abs(bestC) / float64(tlen)

	// slice symbols, using the middle of each half symbol
	start := float64(bestK) + float64(gen2.TagPreambleSymbols)*sps
	var halves []float64
	var mags []float64
	for s := 0; ; s++ {
		a := start + float64(s)*sps
		if int(math.Round(a+sps)) > len(y) {
			break
		}
		d.SymbolBoundaries = append(d.SymbolBoundaries, int(math.Round(a)))
		h1, m1 := halfMean(y, rot, a, sps/2)
		h2, m2 := halfMean(y, rot, a+sps/2, sps/2)
		halves = append(halves, h1, h2)
		mags = append(mags, (m1+m2)/2)
	}

	// trim the low energy tail left by the gate's end dwell
	n := len(mags)
	for n > 0 && mags[n-1] < td.cfg.TailRatio*strength {
		n--
	}
	halves = halves[:2*n]
	d.SymbolBoundaries = d.SymbolBoundaries[:n]

	bits, violations := decodeFM0(halves, 1)
	f := Frame{
		Start:       b.Start,
		End:         b.End(),
		Symbols:     n,
		Correlation: rho,
		Strength:    strength,
	}

	if n < rn16MaxSymbols {
		td.classifyRN16(&f, bits, violations)
	} else {
		td.classifyEPC(&f, bits, violations)
	}
	return f, d, true
}

// An RN16 has no CRC. It's accepted only if all of its symbols and the dummy
// bit are present, none violate FM0, and the dummy bit is a 1.
func (td *TagDecoder) classifyRN16(f *Frame, bits gen2.Bits, violations []bool) {
	f.Class = ClassRN16
	n := gen2.RN16Bits + 1
	if len(bits) < n {
		f.Bits = bits.Clone()
		f.Violations = countTrue(violations)
		return
	}

	f.Bits = bits[:gen2.RN16Bits].Clone()
	f.Violations = countTrue(violations[:n])
	f.Valid = f.Violations == 0 && bits[gen2.RN16Bits] == 1
}

// An EPC reply's length comes from its PC; it's valid only if it holds
// at least one EPC word, the CRC matches, and the symbols show no FM0 violations.
func (td *TagDecoder) classifyEPC(f *Frame, bits gen2.Bits, violations []bool) {
	f.Class = ClassEPC
	words := int(bits[:16].Uint() >> 11)
	n := gen2.EPCReplyBits(words)
	if len(bits) < n {
		f.Bits = bits.Clone()
		f.Violations = countTrue(violations)
		return
	}

	f.Bits = bits[:n].Clone()
	checked := n + 1
	if checked > len(violations) {
		checked = len(violations)
	}
	f.Violations = countTrue(violations[:checked])
	f.Valid = words > 0 && f.Violations == 0 && gen2.CheckCRC16(f.Bits)
}

// halfMean averages the derotated real part over the central samples
// of the half symbol starting at a, and also returns the mean magnitude.
func halfMean(y []complex128, rot complex128, a, width float64) (float64, float64) {
	lo := int(math.Round(a))
	hi := int(math.Round(a + width))
	if hi-lo >= 4 {
		lo++
		hi--
	}
	if hi > len(y) {
		hi = len(y)
	}
	if hi <= lo {
		return 0, 0
	}

	var sum, mag float64
	for _, v := range y[lo:hi] {
		sum += real(v * rot)
		mag += cmplx.Abs(v)
	}
	n := float64(hi - lo)
	return sum / n, mag / n
}

func countTrue(v []bool) int {
	n := 0
	for _, b := range v {
		if b {
			n++
		}
	}
	return n
}
