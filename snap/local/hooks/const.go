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

package hooks

// Service is the snap's service and EdgeX service key.
const Service = "app-rfid-gen2-reader"

// ResDir is where the service's configuration lives, relative to $SNAP and $SNAP_DATA.
const ResDir = "/config/" + Service + "/res"

// ConfToEnv maps snap config keys to the EdgeX environment variables
// that override single [AppCustom] values of the reader service.
//
// The syntax to set a configuration key is:
//
// env.<section>.<keyname>
//
var ConfToEnv = map[string]string{
	// [AppCustom]
	"appcustom.device-name":       "APPCUSTOM_DEVICENAME",
	"appcustom.source":            "APPCUSTOM_SOURCE",
	"appcustom.sink":              "APPCUSTOM_SINK",
	"appcustom.record-path":       "APPCUSTOM_RECORDPATH",
	"appcustom.rx-sample-rate":    "APPCUSTOM_RXSAMPLERATE",
	"appcustom.tx-sample-rate":    "APPCUSTOM_TXSAMPLERATE",
	"appcustom.tx-amplitude":      "APPCUSTOM_TXAMPLITUDE",
	"appcustom.auto-start":        "APPCUSTOM_AUTOSTART",
	"appcustom.blf":               "APPCUSTOM_BLF",
	"appcustom.session":           "APPCUSTOM_SESSION",
	"appcustom.target":            "APPCUSTOM_TARGET",
	"appcustom.dual-target":       "APPCUSTOM_DUALTARGET",
	"appcustom.initial-q":         "APPCUSTOM_INITIALQ",
	"appcustom.adaptive-q":        "APPCUSTOM_ADAPTIVEQ",
	"appcustom.select-enabled":    "APPCUSTOM_SELECTENABLED",
	"appcustom.select-mask":       "APPCUSTOM_SELECTMASK",
	"appcustom.stop-after-rounds": "APPCUSTOM_STOPAFTERROUNDS",
	"appcustom.nats-url":          "APPCUSTOM_NATSURL",
	"appcustom.persist-folder":    "APPCUSTOM_PERSISTFOLDER",
}
