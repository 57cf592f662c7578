//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

// Source supplies received samples.
// Read fills as much of buf as it can and returns io.EOF when the stream ends.
type Source interface {
	Read(buf sdr.SamplesC64) (int, error)
}

// Sink accepts transmissions in the order the Reader produces them.
type Sink interface {
	Transmit(tx reader.Transmission) error
}

type sdrSource struct {
	r sdr.Reader
}

// FromReader adapts a complex64 sdr.Reader to a Source.
func FromReader(r sdr.Reader) (Source, error) {
	if r.SampleFormat() != sdr.SampleFormatC64 {
		return nil, sdr.ErrSampleFormatMismatch
	}
	return sdrSource{r: r}, nil
}

func (s sdrSource) Read(buf sdr.SamplesC64) (int, error) {
	n, err := sdr.ReadFull(s.r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// cfileSampleSize is the size of one complex64 sample on disk.
const cfileSampleSize = 8

// CFileReader reads interleaved little-endian float32 I/Q pairs,
// the raw complex format GNU Radio's file sinks write.
// It implements sdr.Reader.
type CFileReader struct {
	r    *bufio.Reader
	rate rf.Hz
	raw  []byte

	// chunk holds the whole samples of the last read for dec to decode
	chunk *bytes.Reader
	dec   sdr.Reader
}

func NewCFileReader(r io.Reader, rate rf.Hz) *CFileReader {
	chunk := bytes.NewReader(nil)
	return &CFileReader{
		r:     bufio.NewReader(r),
		rate:  rate,
		chunk: chunk,
		dec:   sdr.ByteReader(chunk, binary.LittleEndian, uint(rate), sdr.SampleFormatC64),
	}
}

func (c *CFileReader) SampleRate() uint {
	return uint(c.rate)
}

func (c *CFileReader) SampleFormat() sdr.SampleFormat {
	return sdr.SampleFormatC64
}

// Read fills samples with as many whole samples as are available.
// A trailing partial sample is dropped.
func (c *CFileReader) Read(samples sdr.Samples) (int, error) {
	buf, ok := samples.(sdr.SamplesC64)
	if !ok {
		return 0, sdr.ErrSampleFormatMismatch
	}

	want := len(buf) * cfileSampleSize
	if cap(c.raw) < want {
		c.raw = make([]byte, want)
	}
	raw := c.raw[:want]

	n, err := io.ReadFull(c.r, raw)
	k := n / cfileSampleSize
	if k > 0 {
		c.chunk.Reset(raw[:k*cfileSampleSize])
		got, derr := c.dec.Read(buf[:k])
		if derr != nil {
			return got, errors.Wrap(derr, "failed to decode samples")
		}
		k = got
	}

	switch {
	case err == nil:
		return k, nil
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		if k > 0 {
			return k, nil
		}
		return 0, io.EOF
	}
	return k, errors.Wrap(err, "failed to read samples")
}

// cfileWriter encodes samples in the format CFileReader reads.
type cfileWriter struct {
	buf *bufio.Writer
	enc sdr.Writer
}

func newCFileWriter(w io.Writer, rate rf.Hz) cfileWriter {
	buf := bufio.NewWriter(w)
	return cfileWriter{
		buf: buf,
		enc: sdr.ByteWriter(buf, binary.LittleEndian, uint(rate), sdr.SampleFormatC64),
	}
}

func (cw cfileWriter) write(samples sdr.SamplesC64) error {
	if len(samples) == 0 {
		return nil
	}
	_, err := cw.enc.Write(samples)
	return err
}

func (cw cfileWriter) flush() error {
	return cw.buf.Flush()
}

// CFileSink writes transmissions as a continuous transmit stream
// in the same raw format CFileReader reads.
// Gaps between transmissions are filled with carrier,
// or with silence after a power-down.
type CFileSink struct {
	w       cfileWriter
	txRate  rf.Hz
	rxRate  rf.Hz
	carrier complex64

	next    int64 // receive-stream position the file has reached
	powered bool
	written int64
}

func NewCFileSink(w io.Writer, txRate, rxRate rf.Hz, amplitude float32) *CFileSink {
	return &CFileSink{
		w:       newCFileWriter(w, txRate),
		txRate:  txRate,
		rxRate:  rxRate,
		carrier: complex(amplitude, 0),
	}
}

func (s *CFileSink) Transmit(tx reader.Transmission) error {
	if gap := tx.At - s.next; gap > 0 && s.written > 0 {
		n := int(math.Round(float64(gap) * float64(s.txRate) / float64(s.rxRate)))
		fill := make(sdr.SamplesC64, n)
		if s.powered {
			for i := range fill {
				fill[i] = s.carrier
			}
		}
		if err := s.write(fill); err != nil {
			return err
		}
	}

	if err := s.write(tx.Samples); err != nil {
		return err
	}
	s.next = tx.End
	s.powered = !tx.PowerDown
	return nil
}

func (s *CFileSink) write(samples sdr.SamplesC64) error {
	if err := s.w.write(samples); err != nil {
		return errors.Wrap(err, "failed to write transmit samples")
	}
	s.written += int64(len(samples))
	return nil
}

// Written is the number of transmit samples written so far.
func (s *CFileSink) Written() int64 {
	return s.written
}

// Flush writes any buffered samples.
func (s *CFileSink) Flush() error {
	return errors.Wrap(s.w.flush(), "failed to flush transmit samples")
}

// Discard is a Sink that drops every transmission.
type Discard struct{}

func (Discard) Transmit(reader.Transmission) error {
	return nil
}

type tee []Sink

// Tee sends every transmission to each sink in order, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) Transmit(tx reader.Transmission) error {
	for _, s := range t {
		if err := s.Transmit(tx); err != nil {
			return err
		}
	}
	return nil
}

// Recorder is a Source that writes a copy of what it reads
// in the raw format CFileReader reads.
type Recorder struct {
	src Source
	w   cfileWriter
}

// NewRecorder records src at rate, which is only used to describe the stream.
func NewRecorder(src Source, w io.Writer, rate rf.Hz) *Recorder {
	return &Recorder{src: src, w: newCFileWriter(w, rate)}
}

func (r *Recorder) Read(buf sdr.SamplesC64) (int, error) {
	n, err := r.src.Read(buf)
	if n > 0 {
		if werr := r.w.write(buf[:n]); werr != nil {
			return n, errors.Wrap(werr, "failed to record samples")
		}
	}
	return n, err
}

// Flush writes any buffered samples.
func (r *Recorder) Flush() error {
	return errors.Wrap(r.w.flush(), "failed to flush recorded samples")
}
