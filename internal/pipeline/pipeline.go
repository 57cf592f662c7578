//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package pipeline connects a sample source, the Gate, the TagDecoder,
// the Reader, and a transmit sink.
//
// One goroutine reads fixed-size chunks from the source into a bounded queue;
// the processing goroutine owns every stage and handles control requests
// between chunks, so none of the stages need locks.
package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

var (
	// ErrStopped is returned by control requests once Run has returned.
	ErrStopped = errors.New("pipeline stopped")

	ErrInvalidConfig = errors.New("invalid pipeline config")
)

type Config struct {
	// ChunkSize is the number of samples read and processed at a time.
	// The Reader reacts to a reply at the end of the chunk containing it,
	// so chunks should be shorter than T2.
	ChunkSize int
	// Prefetch is how many chunks the source may read ahead of processing.
	// With zero, each chunk is read only after the previous one is processed
	// and its transmissions sent, which a simulated channel requires.
	Prefetch int
	// AutoStart starts the Reader as soon as Run begins.
	AutoStart bool
	// ExitWhenIdle ends Run once a started Reader stops on its own.
	ExitWhenIdle bool
}

func DefaultConfig() Config {
	return Config{
		ChunkSize: 128,
		Prefetch:  16,
		AutoStart: true,
	}
}

func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "ChunkSize must be positive, but is %d", c.ChunkSize)
	}
	if c.Prefetch < 0 {
		return errors.Wrapf(ErrInvalidConfig, "Prefetch must not be negative, but is %d", c.Prefetch)
	}
	return nil
}

// Stats combines the statistics of every stage.
type Stats struct {
	Position int64         `json:"position"`
	Gate     gate.Stats    `json:"gate"`
	Decoder  decoder.Stats `json:"decoder"`
	Reader   reader.Stats  `json:"reader"`
}

type request struct {
	fn   func() error
	done chan error
}

type Pipeline struct {
	lc   logger.LoggingClient
	cfg  Config
	src  Source
	sink Sink

	gate *gate.Gate
	dec  *decoder.TagDecoder
	rd   *reader.Reader

	requests chan request
	stopped  chan struct{}
	ran      int32

	// mu guards the stages once Run has returned.
	mu sync.Mutex
}

func New(lc logger.LoggingClient, cfg Config, src Source, sink Sink,
	g *gate.Gate, dec *decoder.TagDecoder, rd *reader.Reader) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || sink == nil || g == nil || dec == nil || rd == nil {
		return nil, errors.New("pipeline needs a source, a sink, and every stage")
	}

	return &Pipeline{
		lc:       lc,
		cfg:      cfg,
		src:      src,
		sink:     sink,
		gate:     g,
		dec:      dec,
		rd:       rd,
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}, nil
}

// SetObservers forwards read and round events from the Reader.
// Call it before Run; observers run on the processing goroutine.
func (p *Pipeline) SetObservers(obs reader.Observers) {
	p.rd.SetObservers(obs)
}

// Run processes samples until ctx is canceled, the source ends,
// or (with ExitWhenIdle) the Reader stops.
// It can only be called once.
//
// On the way out it seals any pending burst, lets the Reader see the last frames,
// powers down the transmitter, and logs the final statistics.
func (p *Pipeline) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.ran, 0, 1) {
		return errors.New("pipeline already ran")
	}
	defer close(p.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan sdr.SamplesC64, p.cfg.Prefetch)
	credits := make(chan struct{}, p.cfg.Prefetch+1)
	for i := 0; i <= p.cfg.Prefetch; i++ {
		credits <- struct{}{}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(chunks)
		return p.readLoop(ctx, chunks, credits)
	})
	eg.Go(func() error {
		// the reader goroutine may be waiting for credit
		defer cancel()
		return p.processLoop(ctx, chunks, credits)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return eg.Wait()
}

func (p *Pipeline) readLoop(ctx context.Context, chunks chan<- sdr.SamplesC64, credits <-chan struct{}) error {
	for {
		select {
		case <-credits:
		case <-ctx.Done():
			return nil
		}

		buf := make(sdr.SamplesC64, p.cfg.ChunkSize)
		n, err := p.src.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				p.lc.Info("Sample source ended.")
				return nil
			}
			return errors.Wrap(err, "failed to read samples")
		}
	}
}

func (p *Pipeline) processLoop(ctx context.Context, chunks <-chan sdr.SamplesC64, credits chan<- struct{}) error {
	if p.cfg.AutoStart {
		if err := p.transmit(p.rd.Start(p.gate.Position())); err != nil {
			return err
		}
	}
	started := p.rd.Running()

	for {
		select {
		case samples, ok := <-chunks:
			if !ok {
				return p.finish()
			}
			if err := p.process(samples); err != nil {
				return err
			}
			if p.rd.Running() {
				started = true
			} else if started && p.cfg.ExitWhenIdle {
				p.lc.Info("Reader stopped; ending the pipeline.")
				return p.finish()
			}
			credits <- struct{}{}

		case req := <-p.requests:
			req.done <- req.fn()

		case <-ctx.Done():
			return p.finish()
		}
	}
}

func (p *Pipeline) process(samples sdr.SamplesC64) error {
	frames := p.decode(p.gate.Process(samples))
	if start, ok := p.gate.Active(); ok {
		p.rd.BurstOpen(start)
	} else {
		p.rd.BurstOpen(-1)
	}
	return p.transmit(p.rd.Process(p.gate.Position(), frames))
}

func (p *Pipeline) decode(bursts []gate.Burst) []decoder.Frame {
	var frames []decoder.Frame
	for _, b := range bursts {
		if f, ok := p.dec.Process(b); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

func (p *Pipeline) transmit(txs []reader.Transmission) error {
	for _, tx := range txs {
		if err := p.sink.Transmit(tx); err != nil {
			return errors.Wrap(err, "failed to transmit")
		}
	}
	return nil
}

func (p *Pipeline) finish() error {
	frames := p.decode(p.gate.Flush())
	p.rd.BurstOpen(-1)
	pos := p.gate.Position()
	err := p.transmit(p.rd.Process(pos, frames))
	if terr := p.transmit(p.rd.Stop(pos)); err == nil {
		err = terr
	}

	s := p.stats()
	p.lc.Info("Pipeline stopped.",
		"position", s.Position, "rounds", s.Reader.Rounds, "queries", s.Reader.Queries,
		"queryReps", s.Reader.QueryReps, "epcReads", s.Reader.EPCReads,
		"uniqueTags", s.Reader.UniqueTags, "bursts", s.Gate.Bursts)
	for _, tag := range p.rd.Snapshot() {
		p.lc.Debug("Tag.", "epc", tag.EPC, "reads", tag.ReadCount)
	}
	return err
}

func (p *Pipeline) stats() Stats {
	return Stats{
		Position: p.gate.Position(),
		Gate:     p.gate.Stats(),
		Decoder:  p.dec.Stats(),
		Reader:   p.rd.Stats(),
	}
}

// do runs fn on the processing goroutine between chunks.
// Once Run has returned, fn runs directly unless live is set,
// in which case do returns ErrStopped.
func (p *Pipeline) do(ctx context.Context, live bool, fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}

	select {
	case p.requests <- req:
	case <-p.stopped:
		if live {
			return ErrStopped
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return fn()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the tag inventory.
func (p *Pipeline) Snapshot(ctx context.Context) ([]inventory.StaticTag, error) {
	var tags []inventory.StaticTag
	err := p.do(ctx, false, func() error {
		tags = p.rd.Snapshot()
		return nil
	})
	return tags, err
}

// Tag returns the inventory record for an EPC.
func (p *Pipeline) Tag(ctx context.Context, epc string) (tag inventory.StaticTag, found bool, err error) {
	err = p.do(ctx, false, func() error {
		tag, found = p.rd.Tag(epc)
		return nil
	})
	return
}

// Reset clears the tag inventory.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.do(ctx, false, func() error {
		p.rd.ResetInventory()
		return nil
	})
}

func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.do(ctx, false, func() error {
		s = p.stats()
		return nil
	})
	return s, err
}

// Start starts inventory if the Reader is idle.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.do(ctx, true, func() error {
		return p.transmit(p.rd.Start(p.gate.Position()))
	})
}

// Stop powers down the Reader. Samples are still read and gated.
func (p *Pipeline) Stop(ctx context.Context) error {
	return p.do(ctx, true, func() error {
		return p.transmit(p.rd.Stop(p.gate.Position()))
	})
}

// Restart returns the Reader to its initial Q and target, keeping the inventory.
func (p *Pipeline) Restart(ctx context.Context) error {
	return p.do(ctx, true, func() error {
		return p.transmit(p.rd.Restart(p.gate.Position()))
	})
}
