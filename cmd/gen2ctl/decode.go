//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"hz.tools/rf"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gate"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Gate and decode tag replies in a recorded receive stream",
	Long: "Decode reads raw complex64 samples (interleaved little-endian float32 I/Q) " +
		"at the configured receive rate and prints every reply burst the gate finds.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadSettings(configFile)
		if err != nil {
			return err
		}
		as.Source = args[0]
		diag, _ := cmd.Flags().GetString("diag")

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open sample file")
		}
		defer f.Close()

		res, err := decodeStream(newLogger(), as, f, diag)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		return res.print(cmd.OutOrStdout())
	},
}

func init() {
	decodeCmd.Flags().String("diag", "", "write decoder diagnostics to files with this prefix")
}

type decodeResult struct {
	Frames  []decoder.Frame `json:"frames"`
	Gate    gate.Stats      `json:"gate"`
	Decoder decoder.Stats   `json:"decoder"`
}

// decodeStream runs the receive half of the pipeline over r.
func decodeStream(lc logger.LoggingClient, as readerapp.AppSettings, r io.Reader, diagPrefix string) (res decodeResult, err error) {
	st, err := as.Stages()
	if err != nil {
		return res, err
	}

	g, err := gate.New(lc, st.Gate)
	if err != nil {
		return res, err
	}
	dec, err := decoder.New(lc, st.Decoder)
	if err != nil {
		return res, err
	}
	if diagPrefix != "" {
		diag, derr := decoder.OpenFileDiagnostics(diagPrefix, st.Reader.RxRate)
		if derr != nil {
			return res, derr
		}
		defer func() {
			if cerr := diag.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		dec.SetDiagnostics(diag)
	}

	src, err := pipeline.FromReader(pipeline.NewCFileReader(r, rf.Hz(as.RxSampleRate)))
	if err != nil {
		return res, err
	}

	decode := func(bursts []gate.Burst) {
		for _, b := range bursts {
			if f, ok := dec.Process(b); ok {
				res.Frames = append(res.Frames, f)
			}
		}
	}

	buf := make(sdr.SamplesC64, st.Pipeline.ChunkSize)
	for {
		n, rerr := src.Read(buf)
		decode(g.Process(buf[:n]))
		if rerr == io.EOF {
			break
		} else if rerr != nil {
			return res, rerr
		}
	}
	decode(g.Flush())

	res.Gate = g.Stats()
	res.Decoder = dec.Stats()
	return res, nil
}

func (res decodeResult) print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tCLASS\tVALID\tCORR\tSTRENGTH\tDATA")
	for _, f := range res.Frames {
		data := f.Bits.Hex()
		if epc, ok := f.EPC(); ok {
			data = "EPC " + epc.ID()
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t%.2f\t%.3f\t%s\n",
			f.Start, f.End, f.Class, f.Valid, f.Correlation, f.Strength, data)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d bursts, %d frames\n", res.Gate.Bursts, len(res.Frames))
	return err
}
