//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package logutil helps entry points report fatal setup errors
// through an EdgeX logging client.
package logutil

import (
	"os"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
)

// exit is swapped out by tests.
var exit = os.Exit

type LogWrap struct {
	logger.LoggingClient
}

type KeyValue struct {
	Key string
	Val interface{}
}

// ErrIf logs msg at error level if cond is true, and reports cond.
func (lgr LogWrap) ErrIf(cond bool, msg string, params ...KeyValue) bool {
	if !cond {
		return false
	}

	if len(params) > 0 {
		parts := make([]interface{}, len(params)*2)
		for i := range params {
			parts[i*2] = params[i].Key
			parts[i*2+1] = params[i].Val
		}
		lgr.Error(msg, parts...)
	} else {
		lgr.Error(msg)
	}

	return true
}

func (lgr LogWrap) ExitIf(cond bool, msg string, params ...KeyValue) {
	if lgr.ErrIf(cond, msg, params...) {
		exit(1)
	}
}

func (lgr LogWrap) ExitIfErr(err error, msg string, params ...KeyValue) {
	if err == nil {
		return
	}
	lgr.ExitIf(true, msg, append(params, KeyValue{"error", err.Error()})...)
}
