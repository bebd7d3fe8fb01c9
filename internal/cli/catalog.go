package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/tonegen/internal/catalog"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the built-in pattern catalog",
	}
	cmd.AddCommand(newCatalogInitCommand(rootOpts))
	cmd.AddCommand(newCatalogListCommand(rootOpts))
	return cmd
}

func newCatalogInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Compile every catalog entry into the pattern store",
		Long: `Compile every catalog entry and save it to the pattern store.

Entries already stored with the same content are left alone. With --force
(or catalog.force_recompile in the config) every entry is recompiled and
replaced.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogInit(rootOpts, force, cmd)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "recompile and replace every entry")
	return cmd
}

func runCatalogInit(opts *RootOptions, force bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withApp(opts, func(a *app) error {
		force = force || a.cfg.Catalog.ForceRecompile
		formatter.VerboseLog("Initializing catalog %s (force=%t)", a.catalog.Version(), force)

		report, err := a.catalog.Initialize(cmd.Context(), force)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitFailure, "catalog initialization interrupted", err)
		}

		if formatter.Format == "json" {
			if err := formatter.Success(report); err != nil {
				return err
			}
		} else {
			tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
			for _, e := range report.Entries {
				line := fmt.Sprintf("%s\t%s\t%s", e.Key, e.Name, e.Status)
				if e.Error != "" {
					line += "\t" + e.Error
				}
				fmt.Fprintln(tw, line)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(formatter.Writer, "Catalog %s: %d/%d entries ready\n",
				report.Version, report.Succeeded, report.Total)
		}

		if report.Failed > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d catalog entries failed", report.Failed))
		}
		return nil
	})
}

// CatalogEntry is the JSON view of a catalog definition.
type CatalogEntry struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	PatternType string   `json:"pattern_type"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	SynthName   string   `json:"synth_name,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
}

func newCatalogListCommand(rootOpts *RootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List catalog entries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogList(rootOpts, category, cmd)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list entries in this category")
	return cmd
}

func runCatalogList(opts *RootOptions, category string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withApp(opts, func(a *app) error {
		defs := a.catalog.Entries()
		if category != "" {
			defs = a.catalog.ByCategory(category)
			if len(defs) == 0 {
				msg := fmt.Sprintf("unknown category %q (have %v)", category, a.catalog.Categories())
				_ = formatter.Error(ErrCodeNotFound, msg, nil)
				return NewExitError(ExitCommandError, msg)
			}
		}

		entries := make([]CatalogEntry, len(defs))
		for i, d := range defs {
			entries[i] = catalogEntry(d)
		}

		if formatter.Format == "json" {
			return formatter.Success(entries)
		}
		tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tCATEGORY\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Key, e.Name, e.PatternType, e.Category, e.Description)
		}
		return tw.Flush()
	})
}

func catalogEntry(d catalog.Definition) CatalogEntry {
	return CatalogEntry{
		Key:         d.Key,
		Name:        d.Name,
		PatternType: d.PatternType,
		Category:    d.Category,
		Description: d.Description,
		SynthName:   d.SynthName,
		Parameters:  d.Parameters,
	}
}
