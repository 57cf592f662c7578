//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package readerapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
)

const (
	snapshotRoute   = common.ApiBase + "/inventory/snapshot"
	tagRoute        = common.ApiBase + "/inventory/tags/{epc}"
	inventoryRoute  = common.ApiBase + "/inventory"
	statsRoute      = common.ApiBase + "/stats"
	cmdStartRoute   = common.ApiBase + "/command/reading/start"
	cmdStopRoute    = common.ApiBase + "/command/reading/stop"
	cmdRestartRoute = common.ApiBase + "/command/reading/restart"
	metricsRoute    = common.ApiBase + "/metrics"
)

type route struct {
	path, method string
	f            http.HandlerFunc
}

func (app *ReaderApp) routes() []route {
	return []route{
		{snapshotRoute, http.MethodGet, app.getSnapshot},
		{tagRoute, http.MethodGet, app.getTag},
		{inventoryRoute, http.MethodDelete, app.resetInventory},
		{statsRoute, http.MethodGet, app.getStats},
		{cmdStartRoute, http.MethodPost, app.command((Controller).Start)},
		{cmdStopRoute, http.MethodPost, app.command((Controller).Stop)},
		{cmdRestartRoute, http.MethodPost, app.command((Controller).Restart)},
		{metricsRoute, http.MethodGet, app.getMetrics},
	}
}

func (app *ReaderApp) addRoutes() error {
	for _, rte := range app.routes() {
		if err := app.service.AddRoute(rte.path, rte.f, rte.method); err != nil {
			return errors.Wrapf(err, "failed to add route, path=%s, method=%s", rte.path, rte.method)
		}
	}
	return nil
}

// Routes

// fail logs msg with err and sends it with the given status.
func (app *ReaderApp) fail(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	app.lc.Error(msg)
	http.Error(w, msg, status)
}

func (app *ReaderApp) writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		app.fail(w, http.StatusInternalServerError, "Failed to marshal response", err)
		return
	}

	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if _, err := w.Write(data); err != nil {
		app.lc.Error("Error writing response.", "error", err)
	}
}

// ctrlOrFail returns the running reader, or sends 503 if there isn't one yet.
func (app *ReaderApp) ctrlOrFail(w http.ResponseWriter) (Controller, bool) {
	c := app.controller()
	if c == nil {
		app.fail(w, http.StatusServiceUnavailable, "Reader is not running", nil)
		return nil, false
	}
	return c, true
}

func (app *ReaderApp) getSnapshot(w http.ResponseWriter, req *http.Request) {
	c, ok := app.ctrlOrFail(w)
	if !ok {
		return
	}

	tags, err := c.Snapshot(req.Context())
	if err != nil {
		app.fail(w, http.StatusInternalServerError, "Failed to get inventory snapshot", err)
		return
	}
	app.writeJSON(w, tags)
}

func (app *ReaderApp) getTag(w http.ResponseWriter, req *http.Request) {
	c, ok := app.ctrlOrFail(w)
	if !ok {
		return
	}

	epc := mux.Vars(req)["epc"]
	tag, found, err := c.Tag(req.Context(), epc)
	if err != nil {
		app.fail(w, http.StatusInternalServerError, "Failed to get tag", err)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("Tag %s is not in the inventory.", epc), http.StatusNotFound)
		return
	}
	app.writeJSON(w, tag)
}

func (app *ReaderApp) resetInventory(w http.ResponseWriter, req *http.Request) {
	c, ok := app.ctrlOrFail(w)
	if !ok {
		return
	}

	if err := c.Reset(req.Context()); err != nil {
		app.fail(w, http.StatusInternalServerError, "Failed to reset inventory", err)
		return
	}
	app.lc.Info("Inventory reset.")
	w.WriteHeader(http.StatusNoContent)
}

func (app *ReaderApp) getStats(w http.ResponseWriter, req *http.Request) {
	c, ok := app.ctrlOrFail(w)
	if !ok {
		return
	}

	stats, err := c.Stats(req.Context())
	if err != nil {
		app.fail(w, http.StatusInternalServerError, "Failed to get stats", err)
		return
	}
	if app.metrics != nil {
		app.metrics.Update(stats)
	}
	app.writeJSON(w, stats)
}

func (app *ReaderApp) command(cmd func(Controller, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		c, ok := app.ctrlOrFail(w)
		if !ok {
			return
		}

		err := cmd(c, req.Context())
		switch {
		case errors.Is(err, pipeline.ErrStopped):
			app.fail(w, http.StatusConflict, "Reader pipeline has stopped", nil)
		case err != nil:
			app.fail(w, http.StatusInternalServerError, "Failed to send command", err)
		default:
			app.lc.Info("Reader command.", "path", req.URL.Path)
			w.WriteHeader(http.StatusOK)
		}
	}
}

func (app *ReaderApp) getMetrics(w http.ResponseWriter, req *http.Request) {
	if app.metrics == nil {
		app.fail(w, http.StatusServiceUnavailable, "Metrics are not enabled", nil)
		return
	}
	app.metrics.Handler().ServeHTTP(w, req)
}
