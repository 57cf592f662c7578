//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package readerapp

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"hz.tools/rf"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
	"edgexfoundry/app-rfid-gen2-reader/internal/sim"
)

const (
	tagCacheFile = "tags.json"
	folderPerm   = 0755 // folders require the execute flag in order to create new files
	filePerm     = 0644
)

// MultiErr collects the errors of steps that don't stop at the first failure.
type MultiErr []error

func (me MultiErr) Error() string {
	strs := make([]string, len(me))
	for i, s := range me {
		strs[i] = s.Error()
	}

	return strings.Join(strs, "; ")
}

// Run is a pipeline and the resources behind its source and sink.
type Run struct {
	Pipeline *pipeline.Pipeline
	// Channel is the simulated population, if the source is simulated.
	Channel *sim.Channel

	flushers []interface{ Flush() error }
	closers  []io.Closer
}

// Build wires a pipeline from the settings,
// restoring the inventory from a previous snapshot.
func Build(lc logger.LoggingClient, as AppSettings, restored []inventory.StaticTag) (*Run, error) {
	st, err := as.Stages()
	if err != nil {
		return nil, err
	}

	r := &Run{}
	ok := false
	defer func() {
		if !ok {
			_ = r.Close()
		}
	}()

	var src pipeline.Source
	var sinks []pipeline.Sink
	if as.Simulated() {
		r.Channel, err = sim.NewChannel(lc, st.Sim, sim.RandomPopulation(as.SimTags, as.SimSeed))
		if err != nil {
			return nil, err
		}
		if src, err = pipeline.FromReader(r.Channel); err != nil {
			return nil, err
		}
		sinks = append(sinks, r.Channel)
	} else {
		f, err := os.Open(as.Source)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sample source")
		}
		r.closers = append(r.closers, f)
		src, err = pipeline.FromReader(pipeline.NewCFileReader(f, rf.Hz(as.RxSampleRate)))
		if err != nil {
			return nil, err
		}
	}

	if path := strings.TrimSpace(as.RecordPath); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create receive recording")
		}
		r.closers = append(r.closers, f)
		rec := pipeline.NewRecorder(src, f, st.Reader.RxRate)
		r.flushers = append(r.flushers, rec)
		src = rec
	}

	if path := strings.TrimSpace(as.Sink); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create transmit sink")
		}
		r.closers = append(r.closers, f)
		sink := pipeline.NewCFileSink(f, st.Reader.TxRate, st.Reader.RxRate, st.Reader.Amplitude)
		r.flushers = append(r.flushers, sink)
		sinks = append(sinks, sink)
	}

	var sink pipeline.Sink = pipeline.Discard{}
	if len(sinks) > 0 {
		sink = pipeline.Tee(sinks...)
	}

	g, err := gate.New(lc, st.Gate)
	if err != nil {
		return nil, err
	}
	dec, err := decoder.New(lc, st.Decoder)
	if err != nil {
		return nil, err
	}
	if prefix := strings.TrimSpace(as.DiagnosticsPrefix); prefix != "" {
		diag, err := decoder.OpenFileDiagnostics(prefix, st.Reader.RxRate)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, diag)
		dec.SetDiagnostics(diag)
	}
	rd, err := reader.New(lc, st.Reader, restored)
	if err != nil {
		return nil, err
	}

	r.Pipeline, err = pipeline.New(lc, st.Pipeline, src, sink, g, dec, rd)
	if err != nil {
		return nil, err
	}

	lc.Info("Reader pipeline ready.",
		"source", as.Source, "sink", as.Sink, "rxRate", as.RxSampleRate, "txRate", as.TxSampleRate,
		"session", st.Reader.Session, "target", st.Reader.Target, "initialQ", st.Reader.InitialQ,
		"select", st.Reader.SelectEnabled, "restoredTags", len(restored))
	ok = true
	return r, nil
}

// Close flushes the recordings and closes every file the Run opened.
func (r *Run) Close() error {
	var errs []error
	for _, f := range r.flushers {
		if err := f.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	r.flushers = nil
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil

	if errs != nil {
		return MultiErr(errs)
	}
	return nil
}

// loadSnapshot reads a persisted inventory. A missing file is an empty inventory.
func loadSnapshot(folder string) ([]inventory.StaticTag, error) {
	data, err := ioutil.ReadFile(filepath.Join(folder, tagCacheFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to load inventory snapshot")
	}

	var snapshot []inventory.StaticTag
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal inventory snapshot")
	}
	return snapshot, nil
}

func persistSnapshot(folder string, snapshot []inventory.StaticTag) error {
	if err := os.MkdirAll(folder, folderPerm); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to marshal inventory snapshot")
	}

	tmp := filepath.Join(folder, tagCacheFile+".tmp")
	if err := ioutil.WriteFile(tmp, data, filePerm); err != nil {
		return errors.Wrap(err, "failed to persist inventory snapshot")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(folder, tagCacheFile)),
		"failed to persist inventory snapshot")
}
