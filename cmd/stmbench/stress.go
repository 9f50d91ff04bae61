package main

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kolganov/stmlock"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// stressConfig is the flag surface of the stress subcommand.
type stressConfig struct {
	workers  int
	size     int
	duration time.Duration
	flavor   string
	adaptive bool
	optP     float64
	opaque   bool
	readPct  int
}

func (c *stressConfig) validate() error {
	if c.workers < 1 || c.workers > vword.MaxThreads {
		return errors.Newf("workers must be in [1,%d], got %d", vword.MaxThreads, c.workers)
	}
	if c.size < 1 {
		return errors.Newf("array size must be positive, got %d", c.size)
	}
	if c.duration <= 0 {
		return errors.Newf("duration must be positive, got %s", c.duration)
	}
	if c.flavor != "lock" && c.flavor != "swiss" {
		return errors.Newf("flavor must be lock or swiss, got %q", c.flavor)
	}
	if c.readPct < 0 || c.readPct > 100 {
		return errors.Newf("read-pct must be in [0,100], got %d", c.readPct)
	}
	if c.optP < 0 || c.optP > 1 {
		return errors.Newf("opt-chance must be in [0,1], got %g", c.optP)
	}
	return nil
}

func newStressCommand() *cobra.Command {
	cfg := &stressConfig{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a read/write contention workload over a transactional array",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runStress(cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.workers, "workers", 4, "concurrent transaction workers")
	cmd.Flags().IntVar(&cfg.size, "size", 64, "transactional array size (smaller = more contention)")
	cmd.Flags().DurationVar(&cfg.duration, "duration", 3*time.Second, "workload duration")
	cmd.Flags().StringVar(&cfg.flavor, "flavor", "swiss", "lock flavor: lock (pessimistic rw) or swiss (hybrid)")
	cmd.Flags().BoolVar(&cfg.adaptive, "adaptive", false, "enable the adaptive optimistic-hint unlock policy (lock flavor)")
	cmd.Flags().Float64Var(&cfg.optP, "opt-chance", 0.1, "adaptive unlock hint probability")
	cmd.Flags().BoolVar(&cfg.opaque, "opaque", false, "stamp opacity markers on swiss words")
	cmd.Flags().IntVar(&cfg.readPct, "read-pct", 80, "percentage of read-only operations")
	return cmd
}

func runStress(cfg *stressConfig) error {
	log := logrus.WithFields(logrus.Fields{
		"workers": cfg.workers,
		"size":    cfg.size,
		"flavor":  cfg.flavor,
	})
	log.Info("starting stress workload")

	stmlock.SetPolicy(stmlock.Policy{Adaptive: cfg.adaptive, UnlockOptChance: cfg.optP})

	flavor := stmlock.FlavorSwiss
	if cfg.flavor == "lock" {
		flavor = stmlock.FlavorLock
	}
	rt := stmlock.NewRuntime(stmlock.DefaultManagerOptions())
	arr := stmlock.NewTArray[int](cfg.size, flavor, cfg.opaque)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var ops atomic.Uint64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.workers; w++ {
		seed := uint64(w)
		g.Go(func() error {
			if _, err := rt.Register(); err != nil {
				return err
			}
			defer rt.Unregister()
			rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
			for ctx.Err() == nil {
				src := rng.IntN(cfg.size)
				dst := rng.IntN(cfg.size)
				readOnly := rng.IntN(100) < cfg.readPct
				err := rt.Atomically(func(t *stmlock.Txn) error {
					v, err := arr.TransGet(t, src)
					if err != nil {
						return err
					}
					if readOnly {
						return nil
					}
					return arr.TransPut(t, dst, v+1)
				})
				if err != nil {
					return err
				}
				ops.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, "stress worker")
	}

	stats := rt.Stats()
	elapsed := cfg.duration.Seconds()
	logrus.WithFields(logrus.Fields{
		"ops":     humanize.Comma(int64(ops.Load())),
		"ops/sec": humanize.Comma(int64(float64(ops.Load()) / elapsed)),
		"commits": humanize.Comma(int64(stats.Commits)),
		"aborts":  humanize.Comma(int64(stats.Aborts)),
	}).Info("stress workload complete")
	return nil
}
