//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
	"edgexfoundry/app-rfid-gen2-reader/internal/reader"
)

var modulateCmd = &cobra.Command{
	Use:   "modulate",
	Short: "Render a reader command as a PIE waveform",
	Long: "Modulate renders one command between two stretches of carrier at the configured " +
		"transmit rate, checks that it demodulates back to the same bits, " +
		"and optionally writes it as raw complex64 samples.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadSettings(configFile)
		if err != nil {
			return err
		}

		c, err := commandFromFlags(cmd, as)
		if err != nil {
			return err
		}

		res, samples, err := modulate(as, c)
		if err != nil {
			return err
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if err := writeSamples(out, samples, res.Rate); err != nil {
				return err
			}
			res.File = out
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		return res.print(cmd.OutOrStdout())
	},
}

func init() {
	addModulateFlags(modulateCmd)
}

func addModulateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("command", "Query", "Query, QueryRep, QueryAdjust, ACK, NAK, or Select")
	f.Int("q", -1, "Q for Query; defaults to the configured InitialQ")
	f.String("updn", "None", "QueryAdjust direction: Up, None, or Down")
	f.String("rn16", "0000", "RN16 to ACK, as 4 hex digits")
	f.String("mask", "", "Select mask bits; defaults to the configured SelectMask")
	f.StringP("out", "o", "", "write the waveform to this file")
}

// commandFromFlags builds the command, taking session, target, and Select
// parameters from the settings.
func commandFromFlags(cmd *cobra.Command, as readerapp.AppSettings) (gen2.Command, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("command")

	var kind gen2.CommandKind
	found := false
	for k := gen2.CmdQuery; k <= gen2.CmdSelect; k++ {
		if strings.EqualFold(k.String(), strings.TrimSpace(name)) {
			kind, found = k, true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("unknown command %q", name)
	}

	var session gen2.Session
	if err := session.UnmarshalText([]byte(as.Session)); err != nil {
		return nil, err
	}
	var target gen2.Target
	if err := target.UnmarshalText([]byte(as.Target)); err != nil {
		return nil, err
	}

	switch kind {
	case gen2.CmdQuery:
		q, _ := flags.GetInt("q")
		if q < 0 {
			q = as.InitialQ
		}
		query := gen2.Query{Sel: gen2.SelAll, Session: session, Target: target, Q: q}
		if as.SelectEnabled && strings.TrimSpace(as.SelectTarget) == "SL" {
			query.Sel = gen2.SelSL
		}
		return query, query.Validate()

	case gen2.CmdQueryRep:
		return gen2.QueryRep{Session: session}, nil

	case gen2.CmdQueryAdjust:
		s, _ := flags.GetString("updn")
		var updn gen2.UpDn
		if err := updn.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		return gen2.QueryAdjust{Session: session, UpDn: updn}, nil

	case gen2.CmdAck:
		s, _ := flags.GetString("rn16")
		rn16, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil || len(rn16) != 2 {
			return nil, errors.Errorf("RN16 must be 4 hex digits, but is %q", s)
		}
		return gen2.Ack{RN16: gen2.BitsFromBytes(rn16)}, nil

	case gen2.CmdNak:
		return gen2.Nak{}, nil
	}

	mask := as.SelectMask
	if flags.Changed("mask") {
		mask, _ = flags.GetString("mask")
	}
	sel := as
	sel.SelectEnabled = true
	sel.SelectMask = mask
	st, err := sel.Stages()
	if err != nil {
		return nil, err
	}
	return st.Reader.Select, nil
}

type modulateResult struct {
	Command  gen2.CommandKind `json:"command"`
	Bits     string           `json:"bits"`
	Preamble bool             `json:"preamble"`
	Samples  int              `json:"samples"`
	Rate     rf.Hz            `json:"rate"`
	// Verified is true if the waveform demodulates to the same bits.
	Verified bool   `json:"verified"`
	File     string `json:"file,omitempty"`
}

// modulate renders c with carrier on both sides and demodulates it again.
func modulate(as readerapp.AppSettings, c gen2.Command) (modulateResult, sdr.SamplesC64, error) {
	lt := as.Timing()
	if err := lt.Validate(); err != nil {
		return modulateResult{}, nil, err
	}

	rate := rf.Hz(as.TxSampleRate)
	mod := reader.NewModulator(lt, rate, float32(as.TxAmplitude))
	samples := mod.CW(lt.CW)
	samples = append(samples, mod.Command(c)...)
	samples = append(samples, mod.CW(lt.CW)...)

	res := modulateResult{
		Command:  c.Kind(),
		Bits:     c.Bits().String(),
		Preamble: gen2.WantsPreamble(c),
		Samples:  len(samples),
		Rate:     rate,
	}

	bits, preamble, err := reader.DemodulatePIE(samples)
	if err != nil {
		return res, samples, errors.Wrap(err, "rendered waveform doesn't demodulate")
	}
	res.Verified = bits.Equal(c.Bits()) && preamble == res.Preamble
	return res, samples, nil
}

func writeSamples(path string, samples sdr.SamplesC64, rate rf.Hz) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	buf := bufio.NewWriter(f)
	enc := sdr.ByteWriter(buf, binary.LittleEndian, uint(rate), sdr.SampleFormatC64)
	if _, err := enc.Write(samples); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write samples")
	}
	if err := buf.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write samples")
	}
	return errors.Wrap(f.Close(), "failed to close output file")
}

func (res modulateResult) print(w io.Writer) error {
	fmt.Fprintf(w, "%s (%d bits): %s\n", res.Command, len(res.Bits), res.Bits)
	fmt.Fprintf(w, "%d samples at %v", res.Samples, res.Rate)
	if res.File != "" {
		fmt.Fprintf(w, ", written to %s", res.File)
	}
	_, err := fmt.Fprintf(w, "\ndemodulates to the same bits: %t\n", res.Verified)
	return err
}
