// Package main implements the stmbench CLI.
//
// stmbench drives configurable contention workloads against the versioned
// locks and the contention manager, reporting throughput and abort rates.
// It exists to observe the policy knobs (adaptive hints, backoff scaling,
// priority thresholds) under real parallelism:
//
//	stmbench stress --workers 8 --flavor swiss --duration 5s
//	stmbench stress --flavor lock --adaptive --read-pct 90
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "stmbench",
		Short:         "Contention benchmarks for the stmlock versioned-lock core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStressCommand())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("stmbench failed")
		os.Exit(1)
	}
}
