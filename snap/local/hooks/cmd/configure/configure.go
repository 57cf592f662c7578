// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021 Canonical Ltd
 *
 *  Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except
 *  in compliance with the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License
 * is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
 * or implied. See the License for the specific language governing permissions and limitations under
 * the License.
 *
 * SPDX-License-Identifier: Apache-2.0'
 */

package main

import (
	"fmt"
	"os"
	"strings"

	hooks "github.com/canonical/edgex-snap-hooks/v2"

	local "edgexfoundry/app-rfid-gen2-reader/hooks"
)

const service = local.Service

func main() {
	var debug = false
	var enable = true
	var err error
	var envJSON string
	var cli *hooks.CtlCli = hooks.NewSnapCtl()

	status, err := cli.Config("debug")
	if err != nil {
		fmt.Printf("edgex-app-rfid-gen2-reader:configure: can't read value of 'debug': %v\n", err)
		os.Exit(1)
	}
	if status == "true" {
		debug = true
	}

	if err = hooks.Init(debug, service); err != nil {
		fmt.Printf("edgex-app-rfid-gen2-reader:configure: initialization failure: %v\n", err)
		os.Exit(1)

	}

	envJSON, err = cli.Config(hooks.EnvConfig)
	if err != nil {
		hooks.Error(fmt.Sprintf("Reading config 'env' failed: %v", err))
		os.Exit(1)
	}

	err = hooks.HandleEdgeXConfig(service, envJSON, local.ConfToEnv)
	if err != nil {
		hooks.Error(fmt.Sprintf("HandleEdgeXConfig failed: %v", err))
		os.Exit(1)
	}

	// If autostart is not explicitly set, default to "no"
	autostart, err := cli.Config(hooks.AutostartConfig)
	if err != nil {
		hooks.Error(fmt.Sprintf("Reading config 'autostart' failed: %v", err))
		os.Exit(1)
	}
	if autostart == "" {
		hooks.Debug("edgex-app-rfid-gen2-reader: autostart is NOT set, initializing to 'no'")
		autostart = "no"
	}

	autostart = strings.ToLower(autostart)
	if autostart == "true" || autostart == "yes" {
		enable = true
	} else if autostart == "false" || autostart == "no" {
		enable = false
	} else {
		hooks.Error(fmt.Sprintf("Invalid value for 'autostart' : %s", autostart))
		os.Exit(1)
	}

	// service is stopped/disabled by default in the install hook
	if enable {
		err = cli.Start(service, true)
		if err != nil {
			hooks.Error(fmt.Sprintf("Can't start service - %v", err))
			os.Exit(1)
		}
	}
}
