//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
	"edgexfoundry/app-rfid-gen2-reader/internal/pipeline"
	"edgexfoundry/app-rfid-gen2-reader/internal/readerapp"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Inventory a simulated tag population and print the results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		as, err := loadSettings(configFile)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		as.Source = readerapp.SourceSim
		as.ExitWhenIdle = true
		as.AutoStart = true
		if flags.Changed("tags") {
			as.SimTags, _ = flags.GetInt("tags")
		}
		if flags.Changed("seed") {
			as.SimSeed, _ = flags.GetInt64("seed")
		}
		as.StopAfterRounds, _ = flags.GetInt("rounds")
		as.RecordPath, _ = flags.GetString("record")
		as.Sink, _ = flags.GetString("sink")
		as.DiagnosticsPrefix, _ = flags.GetString("diag")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		res, err := simulate(ctx, as)
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
	simulateCmd.Flags().Int("tags", 10, "tags in the simulated population")
	simulateCmd.Flags().Int64("seed", 1, "seed for the population and the channel noise")
	simulateCmd.Flags().Int("rounds", 20, "inventory rounds to run")
	simulateCmd.Flags().String("record", "", "write the receive stream to this file")
	simulateCmd.Flags().String("sink", "", "write the transmit stream to this file")
	simulateCmd.Flags().String("diag", "", "write decoder diagnostics to files with this prefix")
}

type simResult struct {
	Population int                   `json:"population"`
	Stats      pipeline.Stats        `json:"stats"`
	Tags       []inventory.StaticTag `json:"tags"`
}

func simulate(ctx context.Context, as readerapp.AppSettings) (simResult, error) {
	if as.StopAfterRounds < 1 {
		return simResult{}, errors.Errorf("need at least one round, but have %d", as.StopAfterRounds)
	}

	run, err := readerapp.Build(newLogger(), as, nil)
	if err != nil {
		return simResult{}, err
	}

	runErr := run.Pipeline.Run(ctx)
	if err := run.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return simResult{}, runErr
	}

	// the pipeline has stopped, so these are served directly
	res := simResult{Population: len(run.Channel.EPCs())}
	if res.Stats, err = run.Pipeline.Stats(context.Background()); err != nil {
		return res, err
	}
	res.Tags, err = run.Pipeline.Snapshot(context.Background())
	return res, err
}

func (res simResult) print(w io.Writer) error {
	r := res.Stats.Reader
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Rounds completed:\t%d\n", r.Rounds)
	fmt.Fprintf(tw, "Queries sent:\t%d\n", r.Queries)
	fmt.Fprintf(tw, "QueryReps sent:\t%d\n", r.QueryReps)
	fmt.Fprintf(tw, "QueryAdjusts sent:\t%d\n", r.QueryAdjusts)
	fmt.Fprintf(tw, "Slots (empty/collided/replied):\t%d / %d / %d\n",
		r.EmptySlots, r.CollisionSlots, r.SuccessSlots)
	fmt.Fprintf(tw, "Correct EPCs:\t%d\n", r.EPCReads)
	fmt.Fprintf(tw, "Failed EPCs:\t%d\n", r.EPCFailures)
	fmt.Fprintf(tw, "Unique tags:\t%d of %d\n", r.UniqueTags, res.Population)
	fmt.Fprintf(tw, "Final Q:\t%d\n", r.Q)
	fmt.Fprintf(tw, "Samples:\t%d\n", res.Stats.Position)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Tags) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EPC\tREADS\tFIRST ROUND\tSTRENGTH")
	for _, tag := range res.Tags {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\n", tag.EPC, tag.ReadCount, tag.FirstRound, tag.MeanStrength)
	}
	return tw.Flush()
}
