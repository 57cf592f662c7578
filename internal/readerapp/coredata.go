//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package readerapp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v2/dtos"
	"github.com/edgexfoundry/go-mod-core-contracts/v2/dtos/requests"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
)

const (
	resourceTagEvent    = "Gen2Tag"
	coreDataPostTimeout = 30 * time.Second
)

// newCoreDataEvent builds one EdgeX Event with a Reading for each inventory event.
// The resource name is "Gen2Tag" followed by the event type, e.g. Gen2TagArrived.
func newCoreDataEvent(events []inventory.Event) (dtos.Event, error) {
	// These events are generated by the service itself, so we are using serviceKey
	// for the profile, device, and source names.
	edgeXEvent := dtos.NewEvent(serviceKey, serviceKey, serviceKey)

	var errs []error
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "error marshalling event"))
			continue
		}

		resourceName := resourceTagEvent + string(event.OfType())
		err = edgeXEvent.AddSimpleReading(resourceName, common.ValueTypeString, string(payload))
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "error creating reading for %s", resourceName))
		}
	}

	if errs != nil {
		return edgeXEvent, MultiErr(errs)
	}
	return edgeXEvent, nil
}

// pushEventsToCoreData sends inventory events to core-data as a single EdgeX Event.
func (app *ReaderApp) pushEventsToCoreData(ctx context.Context, events []inventory.Event) error {
	if app.service == nil || app.service.EventClient() == nil {
		app.lc.Trace("No core-data client configured; dropping inventory events.", "events", len(events))
		return nil
	}

	var errs []error
	edgeXEvent, err := newCoreDataEvent(events)
	if err != nil {
		errs = append(errs, err)
	}
	if len(edgeXEvent.Readings) == 0 {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, coreDataPostTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, common.CorrelationHeader, uuid.New().String())

	app.lc.Debug("Sending inventory events.", "readings", len(edgeXEvent.Readings))
	if _, err := app.service.EventClient().Add(ctx, requests.NewAddEventRequest(edgeXEvent)); err != nil {
		errs = append(errs, errors.Wrap(err, "unable to push inventory event(s) to core-data"))
	}

	if errs != nil {
		return MultiErr(errs)
	}
	return nil
}
