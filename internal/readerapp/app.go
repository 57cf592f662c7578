//
// Copyright (C) 2020, 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package readerapp runs the Gen2 reader as an EdgeX application service.
package readerapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/edgexfoundry/app-functions-sdk-go/v2/pkg"
	"github.com/edgexfoundry/app-functions-sdk-go/v2/pkg/interfaces"
	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/metrics"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/publish"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

const (
	serviceKey = "app-rfid-gen2-reader"

	eventChSz    = 1000
	maxEventsOut = 100
)

// Controller is what the routes need from a running reader.
// A *pipeline.Pipeline is one.
type Controller interface {
	Snapshot(ctx context.Context) ([]inventory.StaticTag, error)
	Tag(ctx context.Context, epc string) (inventory.StaticTag, bool, error)
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (pipeline.Stats, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

type ReaderApp struct {
	service interfaces.ApplicationService
	lc      logger.LoggingClient
	config  *ServiceConfig
	metrics *metrics.Metrics
	pub     publish.Publisher

	confUpdateCh chan interface{}
	events       chan inventory.Event

	ctrlMu sync.RWMutex
	ctrl   Controller
}

func NewReaderApp() *ReaderApp {
	return &ReaderApp{
		confUpdateCh: make(chan interface{}),
		events:       make(chan inventory.Event, eventChSz),
	}
}

func (app *ReaderApp) Initialize() error {
	var ok bool
	app.service, ok = pkg.NewAppService(serviceKey)
	if !ok {
		return errors.New("failed to create app service")
	}

	app.lc = app.service.LoggingClient()
	app.lc.Info("Starting.")

	app.config = &ServiceConfig{AppCustom: DefaultAppSettings()}
	if err := app.service.LoadCustomConfig(app.config, customConfigSection); err != nil {
		return errors.Wrap(err, "failed to load custom configuration")
	}
	if err := app.config.AppCustom.Validate(); err != nil {
		return errors.Wrap(err, "invalid custom configuration")
	}
	if err := app.service.ListenForCustomConfigChanges(&app.config.AppCustom, customConfigSection,
		func(rawConfig interface{}) { app.confUpdateCh <- rawConfig }); err != nil {
		return errors.Wrap(err, "failed to listen for configuration changes")
	}

	var err error
	if app.metrics, err = metrics.New(); err != nil {
		return err
	}

	app.pub = publish.NoopPublisher{}
	if url := strings.TrimSpace(app.config.AppCustom.NATSURL); url != "" {
		if app.pub, err = publish.NewNATSPublisher(url); err != nil {
			return err
		}
		app.lc.Info("Publishing inventory events to NATS.", "url", url)
	}

	return app.addRoutes()
}

func (app *ReaderApp) RunUntilCancelled() error {
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.taskLoop(ctx, app.config.AppCustom)
		app.lc.Info("Task loop has exited.")
	}()

	// The SDK doesn't always return control when running under docker-compose,
	// so watch for the signals ourselves and persist the inventory on the way out.
	//
	// see: https://github.com/edgexfoundry/app-functions-sdk-go/issues/500
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		s := <-signals

		app.lc.Info(fmt.Sprintf("Received '%s' signal from OS.", s.String()))
		cancel() // signal the taskLoop to finish
	}()

	if err := app.service.MakeItRun(); err != nil {
		cancel()
		wg.Wait()
		return errors.Wrap(err, "failed to run service")
	}

	// let task loop complete
	wg.Wait()
	if err := app.pub.Close(); err != nil {
		app.lc.Error("Failed to close publisher.", "error", err.Error())
	}
	app.lc.Info("Exiting.")

	return nil
}

// LoggingClient is nil until Initialize has created the service.
func (app *ReaderApp) LoggingClient() logger.LoggingClient {
	return app.lc
}

func (app *ReaderApp) controller() Controller {
	app.ctrlMu.RLock()
	defer app.ctrlMu.RUnlock()
	return app.ctrl
}

func (app *ReaderApp) setController(c Controller) {
	app.ctrlMu.Lock()
	app.ctrl = c
	app.ctrlMu.Unlock()
}

// active is a pipeline running in the background.
type active struct {
	run      *Run
	settings AppSettings
	cancel   context.CancelFunc
	done     chan struct{} // closed once Run returns
	err      error
}

// start builds a pipeline from the settings and runs it until ctx is done or stop is called.
func (app *ReaderApp) start(ctx context.Context, as AppSettings, restored []inventory.StaticTag) (*active, error) {
	run, err := Build(app.lc, as, restored)
	if err != nil {
		return nil, err
	}

	run.Pipeline.SetObservers(app.observers(as.DeviceName))

	ctx, cancel := context.WithCancel(ctx)
	a := &active{run: run, settings: as, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		a.err = run.Pipeline.Run(ctx)
	}()

	app.setController(run.Pipeline)
	return a, nil
}

// stop waits for the pipeline to finish and releases its files.
// It returns the final inventory.
func (a *active) stop(lc logger.LoggingClient) []inventory.StaticTag {
	a.cancel()
	<-a.done
	if a.err != nil {
		lc.Error("Reader pipeline failed.", "error", a.err.Error())
	}

	snapshot, err := a.run.Pipeline.Snapshot(context.Background())
	if err != nil {
		lc.Error("Failed to get the final inventory.", "error", err.Error())
	}
	if err := a.run.Close(); err != nil {
		lc.Error("Failed to close the reader's streams.", "error", err.Error())
	}
	return snapshot
}

// observers fan the Reader's events out to metrics, the publisher, and core-data.
// They run on the pipeline's processing goroutine, so none of them may block.
func (app *ReaderApp) observers(device string) reader.Observers {
	fwd := publish.NewForwarder(app.lc, app.pub, device)
	fwd.Result = app.metrics.ObservePublish

	return reader.Observers{
		Read: func(e inventory.Event) {
			app.metrics.ObserveRead(e)
			fwd.Read(e)
			select {
			case app.events <- e:
			default:
				app.lc.Warn("Event queue is full; dropping inventory event.", "epc", e.Base().EPC)
			}
		},
		Round: func(rs reader.RoundSummary) {
			app.metrics.ObserveRound(rs)
			fwd.Round(rs)
		},
	}
}

// taskLoop owns the running pipeline.
// It persists the inventory, refreshes the gauges,
// and swaps in a new pipeline when the configuration changes.
func (app *ReaderApp) taskLoop(ctx context.Context, as AppSettings) {
	snapshot, err := loadSnapshot(as.PersistFolder)
	if err != nil {
		app.lc.Warn("Failed to load inventory snapshot.", "error", err.Error())
	} else if len(snapshot) > 0 {
		app.lc.Info(fmt.Sprintf("Restored %d tags from cache.", len(snapshot)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	eventCtx, stopEvents := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		app.lc.Info("Starting event processor.")
		app.eventLoop(eventCtx)
		app.lc.Info("Event processor stopped.")
	}()
	defer func() {
		stopEvents()
		wg.Wait()
	}()

	current, err := app.start(ctx, as, snapshot)
	if err != nil {
		app.lc.Error("Failed to start the reader.", "error", err.Error())
		return
	}

	interval := time.Duration(as.StatsIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastReads := -1
	done := current.done
	app.lc.Info("Starting task loop.")
	for {
		select {
		case <-ctx.Done():
			app.lc.Info("Stopping task loop.")
			app.persist(current.settings.PersistFolder, current.stop(app.lc))
			app.lc.Info("Task loop stopped.")
			return

		case <-done:
			// the source ended; keep serving the inventory
			done = nil
			if current.err != nil {
				app.lc.Error("Reader pipeline stopped.", "error", current.err.Error())
			} else {
				app.lc.Info("Reader pipeline finished.")
			}

		case <-ticker.C:
			stats, err := current.run.Pipeline.Stats(ctx)
			if err != nil {
				continue
			}
			app.metrics.Update(stats)
			if stats.Reader.TotalReads != lastReads {
				lastReads = stats.Reader.TotalReads
				if tags, err := current.run.Pipeline.Snapshot(ctx); err == nil {
					app.persist(current.settings.PersistFolder, tags)
				}
			}

		case rawConfig := <-app.confUpdateCh:
			newSettings, ok := rawConfig.(*AppSettings)
			if !ok {
				app.lc.Warn("Unable to decode configuration update.", "raw", fmt.Sprintf("%#v", rawConfig))
				continue
			}
			if err := newSettings.Validate(); err != nil {
				app.lc.Error("Invalid configuration update.", "error", err.Error())
				continue
			}

			app.lc.Info("Configuration updated; restarting the reader.")
			app.lc.Debug("New configuration.", "config", fmt.Sprintf("%+v", *newSettings))
			snapshot := current.stop(app.lc)
			app.persist(newSettings.PersistFolder, snapshot)

			next, err := app.start(ctx, *newSettings, snapshot)
			if err != nil {
				app.lc.Error("Failed to start the reader with the new configuration; "+
					"restoring the previous one.", "error", err.Error())
				if next, err = app.start(ctx, current.settings, snapshot); err != nil {
					app.lc.Error("Failed to restart the reader.", "error", err.Error())
					return
				}
			}
			current, done = next, next.done
		}
	}
}

func (app *ReaderApp) persist(folder string, snapshot []inventory.StaticTag) {
	if err := persistSnapshot(folder, snapshot); err != nil {
		app.lc.Warn(err.Error())
		return
	}
	app.lc.Debug("Persisted inventory snapshot.", "tags", len(snapshot))
}

// eventLoop sends inventory events to core-data in batches.
func (app *ReaderApp) eventLoop(ctx context.Context) {
	for {
		var batch []inventory.Event
		select {
		case <-ctx.Done():
			return
		case e := <-app.events:
			batch = append(batch, e)
		}

	drain:
		for len(batch) < maxEventsOut {
			select {
			case e := <-app.events:
				batch = append(batch, e)
			default:
				break drain
			}
		}

		if err := app.pushEventsToCoreData(ctx, batch); err != nil {
			app.lc.Error("Failed to push events to CoreData.", "error", err.Error())
		}
	}
}
