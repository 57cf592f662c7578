//
// Copyright (C) 2020, 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"edgexfoundry/app-rfid-gen2-reader/internal/logutil"
	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
)

func main() {
	app := readerapp.NewReaderApp()
	if err := app.Initialize(); err != nil {
		lc := app.LoggingClient()
		if lc == nil {
			fmt.Fprintf(os.Stderr, "SDK initialization failed: %v\n", err)
			os.Exit(1)
		}
		logutil.LogWrap{LoggingClient: lc}.ExitIfErr(err, "Failed to initialize the reader.")
	}

	lgr := logutil.LogWrap{LoggingClient: app.LoggingClient()}
	lgr.ExitIfErr(app.RunUntilCancelled(), "Reader service failed.")
	os.Exit(0)
}
