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
	"path/filepath"

	hooks "github.com/canonical/edgex-snap-hooks/v2"

	local "edgexfoundry/app-rfid-gen2-reader/hooks"
)

// configFiles are copied from the read-only snap into $SNAP_DATA,
// where the configure hook and the operator can change them.
var configFiles = []string{
	"/configuration.toml",
}

func installFile(path string) error {
	destFile := hooks.SnapData + local.ResDir + path
	srcFile := hooks.Snap + local.ResDir + path

	if err := os.MkdirAll(filepath.Dir(destFile), 0755); err != nil {
		return err
	}
	return hooks.CopyFile(srcFile, destFile)
}

func main() {
	if err := hooks.Init(false, local.Service); err != nil {
		fmt.Printf("edgex-%s:install: initialization failure: %v\n", local.Service, err)
		os.Exit(1)
	}

	for _, path := range configFiles {
		if err := installFile(path); err != nil {
			hooks.Error(fmt.Sprintf("edgex-%s:install: %v", local.Service, err))
			os.Exit(1)
		}
	}
}
