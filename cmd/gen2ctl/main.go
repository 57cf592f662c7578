//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Command gen2ctl runs the reader pipeline offline:
// against a simulated tag population, over a recorded receive stream,
// or just to render reader commands.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
)

const customConfigSection = "AppCustom"

var (
	configFile string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "gen2ctl",
	Short:        "Offline tools for the Gen2 reader",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"TOML file with an [AppCustom] section, as in res/configuration.toml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "TRACE, DEBUG, INFO, WARN, or ERROR")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(modulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() logger.LoggingClient {
	return logger.NewClient("gen2ctl", strings.ToUpper(strings.TrimSpace(logLevel)))
}

// loadSettings starts from the service defaults
// and applies whatever the config file's [AppCustom] section sets.
func loadSettings(path string) (readerapp.AppSettings, error) {
	as := readerapp.DefaultAppSettings()
	if path == "" {
		return as, nil
	}

	tree, err := toml.LoadFile(path)
	if err != nil {
		return as, errors.Wrap(err, "failed to load config file")
	}
	if !tree.Has(customConfigSection) {
		return as, errors.Errorf("%s has no [%s] section", path, customConfigSection)
	}
	section, ok := tree.Get(customConfigSection).(*toml.Tree)
	if !ok {
		return as, errors.Errorf("%s in %s is not a table", customConfigSection, path)
	}
	if err := section.Unmarshal(&as); err != nil {
		return as, errors.Wrapf(err, "failed to parse [%s]", customConfigSection)
	}
	return as, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
