package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/cachemgr"
	"github.com/roach88/tonegen/internal/catalog"
	"github.com/roach88/tonegen/internal/pipeline"
	"github.com/roach88/tonegen/internal/store"
)

// StatsReport is the JSON payload of the stats command.
type StatsReport struct {
	Database      string          `json:"database"`
	DatabaseBytes int64           `json:"database_bytes"`
	Catalog       catalog.Stats   `json:"catalog"`
	Store         store.Stats     `json:"store"`
	Pipeline      pipeline.Stats  `json:"pipeline"`
	Memory        cachemgr.Stats  `json:"memory"`
	Thresholds    cachemgr.Config `json:"thresholds"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var sample bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog, store, cache and memory statistics",
		Long: `Show catalog and pattern store counts, cache counters and memory
pressure state. With --sample the memory usage is measured once before
reporting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, sample, cmd)
		},
	}
	cmd.Flags().BoolVar(&sample, "sample", false, "sample memory usage before reporting")
	return cmd
}

func runStats(opts *RootOptions, sample bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withApp(opts, func(a *app) error {
		if sample {
			if _, err := a.manager.Check(); err != nil {
				if !errors.Is(err, cachemgr.ErrUnsupported) {
					return WrapExitError(ExitFailure, "memory sample failed", err)
				}
				a.logger.Debug("memory sampling unsupported on this platform", zap.Error(err))
			}
		}

		catStats, err := a.catalog.Stats(cmd.Context())
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to read store counts", err)
		}

		report := StatsReport{
			Database:   a.cfg.Database.Path,
			Catalog:    catStats,
			Store:      a.store.Stats(),
			Pipeline:   a.pipeline.Stats(),
			Memory:     a.manager.Stats(),
			Thresholds: a.manager.Config(),
		}
		if fi, err := os.Stat(a.cfg.Database.Path); err == nil {
			report.DatabaseBytes = fi.Size()
		}

		if formatter.Format == "json" {
			return formatter.Success(report)
		}
		printStats(formatter, report)
		return nil
	})
}

func printStats(formatter *OutputFormatter, r StatsReport) {
	w := formatter.Writer
	fmt.Fprintf(w, "Database:  %s (%s)\n", r.Database, humanize.IBytes(uint64(r.DatabaseBytes)))
	fmt.Fprintf(w, "Catalog:   %s, %d entries, %d stored\n", r.Catalog.Version, r.Catalog.Entries, r.Catalog.Stored)
	for _, t := range slices.Sorted(maps.Keys(r.Catalog.StoredByType)) {
		fmt.Fprintf(w, "  %-10s %d\n", t, r.Catalog.StoredByType[t])
	}
	fmt.Fprintf(w, "Store:     %s reads, %s writes, cache %d/%d (%s hits, %s misses)\n",
		humanize.Comma(int64(r.Store.Reads)), humanize.Comma(int64(r.Store.Writes)),
		r.Store.CacheLen, r.Store.CacheCapacity,
		humanize.Comma(int64(r.Store.CacheHits)), humanize.Comma(int64(r.Store.CacheMisses)))
	fmt.Fprintf(w, "Pipeline:  %s conversions, fast path %d hit / %d miss\n",
		humanize.Comma(int64(r.Pipeline.Conversions)), r.Pipeline.FastPathHits, r.Pipeline.FastPathMisses)
	for _, s := range r.Pipeline.Stages {
		fmt.Fprintf(w, "  %-24s %d/%d entries, hit rate %s%%\n",
			s.Name, s.Len, s.Capacity, humanize.FtoaWithDigits(s.HitRate*100, 1))
	}
	fmt.Fprintf(w, "Memory:    usage %s%% (peak %s%%), %d checks, %d evictions, elevated=%t\n",
		humanize.FtoaWithDigits(r.Memory.LastUsage*100, 1), humanize.FtoaWithDigits(r.Memory.PeakUsage*100, 1),
		r.Memory.Checks, r.Memory.Evictions, r.Memory.Elevated)
	fmt.Fprintf(w, "  thresholds low %.2f high %.2f critical %.2f every %s\n",
		r.Thresholds.Low, r.Thresholds.High, r.Thresholds.Critical, r.Thresholds.CheckInterval)
}
