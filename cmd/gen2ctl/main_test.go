//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
)

func getTestingLogger() logger.LoggingClient {
	if testing.Verbose() {
		return logger.NewClient("test", "DEBUG")
	}

	return logger.NewMockClient()
}

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "configuration.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	t.Cleanup(func() {
		jsonOutput = false
		configFile = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestLoadSettings(t *testing.T) {
	as, err := loadSettings("")
	require.NoError(t, err)
	assert.Equal(t, readerapp.DefaultAppSettings(), as)

	path := writeConfig(t, `
[Writable]
LogLevel = "INFO"

[AppCustom]
Session = "S1"
InitialQ = 6
TxAmplitude = 0.5
SelectEnabled = true
SelectMask = "1110"
`)
	as, err = loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "S1", as.Session)
	assert.Equal(t, 6, as.InitialQ)
	assert.Equal(t, 0.5, as.TxAmplitude)
	assert.True(t, as.SelectEnabled)
	assert.Equal(t, "1110", as.SelectMask)

	def := readerapp.DefaultAppSettings()
	assert.Equal(t, def.BLF, as.BLF, "unset keys keep their defaults")
	assert.Equal(t, def.Target, as.Target)
	require.NoError(t, as.Validate())

	_, err = loadSettings(writeConfig(t, "[Service]\nPort = 1\n"))
	assert.Error(t, err, "missing section")

	_, err = loadSettings(writeConfig(t, "AppCustom = 3\n"))
	assert.Error(t, err, "section isn't a table")

	_, err = loadSettings(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func simSettings(t *testing.T) readerapp.AppSettings {
	as := readerapp.DefaultAppSettings()
	as.SimTags = 3
	as.SimSeed = 5
	as.StopAfterRounds = 6
	as.ExitWhenIdle = true
	as.PersistFolder = t.TempDir()
	return as
}

func TestSimulate(t *testing.T) {
	res, err := simulate(context.Background(), simSettings(t))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Population)
	assert.Equal(t, 6, res.Stats.Reader.Rounds)
	assert.False(t, res.Stats.Reader.Running)
	require.NotEmpty(t, res.Tags)
	assert.LessOrEqual(t, len(res.Tags), 3)

	var out bytes.Buffer
	require.NoError(t, res.print(&out))
	assert.Contains(t, out.String(), "Rounds completed:")
	assert.Contains(t, out.String(), res.Tags[0].EPC)
}

func TestSimulate_noRounds(t *testing.T) {
	as := simSettings(t)
	as.StopAfterRounds = 0
	_, err := simulate(context.Background(), as)
	assert.Error(t, err, "an unbounded simulation would never end")
}

func TestSimulateThenDecode(t *testing.T) {
	as := simSettings(t)
	as.RecordPath = filepath.Join(t.TempDir(), "rx.cfile")

	sim, err := simulate(context.Background(), as)
	require.NoError(t, err)

	f, err := os.Open(as.RecordPath)
	require.NoError(t, err)
	defer f.Close()

	as.Source = as.RecordPath
	diag := filepath.Join(t.TempDir(), "diag")
	res, err := decodeStream(getTestingLogger(), as, f, diag)
	require.NoError(t, err)

	// offline decoding of the recording sees exactly what the reader saw
	assert.Equal(t, sim.Stats.Position, res.Gate.Samples)
	assert.Equal(t, sim.Stats.Decoder, res.Decoder)
	assert.NotZero(t, res.Decoder.EPCValid)

	epcs := map[string]bool{}
	for _, frame := range res.Frames {
		if epc, ok := frame.EPC(); ok {
			epcs[epc.ID()] = true
		}
	}
	for _, tag := range sim.Tags {
		assert.True(t, epcs[tag.EPC], tag.EPC)
	}

	var out bytes.Buffer
	require.NoError(t, res.print(&out))
	assert.Contains(t, out.String(), "EPC "+sim.Tags[0].EPC)

	info, err := os.Stat(diag + ".jsonl")
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestModulate(t *testing.T) {
	as := readerapp.DefaultAppSettings()
	commands := []gen2.Command{
		gen2.Query{Session: gen2.S1, Target: gen2.TargetB, Q: 4},
		gen2.QueryRep{Session: gen2.S2},
		gen2.QueryAdjust{Session: gen2.S0, UpDn: gen2.UpDnUp},
		gen2.Ack{RN16: gen2.MustParseBits("1011001110001111")},
		gen2.Nak{},
		gen2.DefaultSelect(gen2.MustParseBits("0011")),
	}

	for _, c := range commands {
		c := c
		t.Run(c.Kind().String(), func(t *testing.T) {
			res, samples, err := modulate(as, c)
			require.NoError(t, err)
			assert.True(t, res.Verified)
			assert.Equal(t, len(samples), res.Samples)
			assert.Equal(t, c.Bits().String(), res.Bits)
			assert.Equal(t, c.Kind() == gen2.CmdQuery, res.Preamble)
		})
	}
}

func TestCLI_modulate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ack.cfile")
	stdout := execute(t, "modulate", "--command", "ack", "--rn16", "BEEF", "--json", "-o", out)

	var res modulateResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, gen2.CmdAck, res.Command)
	assert.True(t, res.Verified)
	assert.Equal(t, "01"+gen2.BitsFromBytes([]byte{0xBE, 0xEF}).String(), res.Bits)
	assert.Equal(t, out, res.File)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(res.Samples*8), info.Size())
}

func TestCLI_simulate(t *testing.T) {
	cfg := writeConfig(t, "[AppCustom]\nInitialQ = 3\nSimSeed = 9\n")
	stdout := execute(t, "simulate", "--config", cfg, "--tags", "2", "--rounds", "3")
	assert.Contains(t, stdout, "Rounds completed:")
	assert.Contains(t, stdout, "of 2")
}

func TestCommandFromFlags_errors(t *testing.T) {
	as := readerapp.DefaultAppSettings()
	for _, args := range [][]string{
		{"--command", "Kill"},
		{"--command", "ACK", "--rn16", "XYZ"},
		{"--command", "ACK", "--rn16", "BEEF00"},
		{"--command", "QueryAdjust", "--updn", "Sideways"},
		{"--command", "Query", "--q", "16"},
		{"--command", "Select", "--mask", "01x"},
	} {
		cmd := &cobra.Command{}
		addModulateFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		_, err := commandFromFlags(cmd, as)
		assert.Error(t, err, strings.Join(args, " "))
	}
}
