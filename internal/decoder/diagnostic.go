//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package decoder

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"hz.tools/rf"
	"hz.tools/sdr"
)

// Diagnostic is a copy of a burst given to the decoder,
// annotated with what the decoder found in it.
type Diagnostic struct {
	BurstStart int64          `json:"burst_start"`
	Samples    sdr.SamplesC64 `json:"-"`

	// FileOffset is where the burst's samples begin in the sample file,
	// counted in samples. It's set by FileDiagnostics.
	FileOffset int64 `json:"file_offset"`
	Length     int   `json:"length"`

	PreambleOffset   int     `json:"preamble_offset"`
	Correlation      float64 `json:"correlation"`
	Phase            float64 `json:"phase"`
	SymbolBoundaries []int   `json:"symbol_boundaries,omitempty"`
	Frame            *Frame  `json:"frame,omitempty"`
}

// DiagnosticSink receives decoder diagnostics.
type DiagnosticSink interface {
	WriteDiagnostic(d Diagnostic) error
}

// FileDiagnostics writes burst samples as interleaved little-endian float32
// pairs (the usual .cfile format) and one JSON annotation per line.
type FileDiagnostics struct {
	buf         *bufio.Writer
	samples     sdr.Writer
	annotations *json.Encoder
	offset      int64
	closers     []io.Closer
}

// NewFileDiagnostics writes bursts received at rate.
func NewFileDiagnostics(samples, annotations io.Writer, rate rf.Hz) *FileDiagnostics {
	buf := bufio.NewWriter(samples)
	return &FileDiagnostics{
		buf:         buf,
		samples:     sdr.ByteWriter(buf, binary.LittleEndian, uint(rate), sdr.SampleFormatC64),
		annotations: json.NewEncoder(annotations),
	}
}

// OpenFileDiagnostics creates prefix.cfile and prefix.jsonl.
func OpenFileDiagnostics(prefix string, rate rf.Hz) (*FileDiagnostics, error) {
	sf, err := os.Create(prefix + ".cfile")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create diagnostic sample file")
	}

	af, err := os.Create(prefix + ".jsonl")
	if err != nil {
		_ = sf.Close()
		return nil, errors.Wrap(err, "failed to create diagnostic annotation file")
	}

	fd := NewFileDiagnostics(sf, af, rate)
	fd.closers = []io.Closer{sf, af}
	return fd, nil
}

func (fd *FileDiagnostics) WriteDiagnostic(d Diagnostic) error {
	if len(d.Samples) > 0 {
		if _, err := fd.samples.Write(d.Samples); err != nil {
			return errors.Wrap(err, "failed to write diagnostic samples")
		}
	}

	d.FileOffset = fd.offset
	d.Length = len(d.Samples)
	fd.offset += int64(len(d.Samples))
	return errors.Wrap(fd.annotations.Encode(d), "failed to write diagnostic annotation")
}

// Close flushes buffered samples and closes any files opened by OpenFileDiagnostics.
func (fd *FileDiagnostics) Close() error {
	err := fd.buf.Flush()
	for _, c := range fd.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
