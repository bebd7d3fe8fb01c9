package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pattern"
	"github.com/roach88/tonegen/internal/store"
)

// PatternView is the JSON view of a stored pattern.
type PatternView struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	PatternType     string          `json:"pattern_type"`
	ContentID       string          `json:"content_id"`
	CompiledAt      time.Time       `json:"compiled_at"`
	CompileDuration time.Duration   `json:"compile_duration_ns"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUsedAt      *time.Time      `json:"last_used_at,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	SourceCode      string          `json:"source_code,omitempty"`
	CompiledCode    string          `json:"compiled_code,omitempty"`
}

func patternView(p *pattern.PrecompiledPattern, withCode bool) (PatternView, error) {
	v := PatternView{
		ID:              p.ID,
		Name:            p.Name,
		PatternType:     p.PatternType,
		ContentID:       p.ContentID,
		CompiledAt:      p.CompiledAt,
		CompileDuration: p.CompileDuration,
		CreatedAt:       p.CreatedAt,
	}
	if !p.LastUsedAt.IsZero() {
		t := p.LastUsedAt
		v.LastUsedAt = &t
	}
	if len(p.Metadata) > 0 {
		md, err := ir.MarshalCanonical(p.Metadata)
		if err != nil {
			return v, err
		}
		v.Metadata = md
	}
	if withCode {
		v.SourceCode = p.SourceCode
		v.CompiledCode = p.CompiledCode
	}
	return v, nil
}

// NewPatternsCommand creates the patterns command group.
func NewPatternsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and maintain the pattern store",
	}
	cmd.AddCommand(newPatternsListCommand(rootOpts))
	cmd.AddCommand(newPatternsGetCommand(rootOpts))
	cmd.AddCommand(newPatternsDeleteCommand(rootOpts))
	cmd.AddCommand(newPatternsPruneCommand(rootOpts))
	return cmd
}

func newPatternsListCommand(rootOpts *RootOptions) *cobra.Command {
	var patternType string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored patterns",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, func(a *app) error {
				var (
					patterns []*pattern.PrecompiledPattern
					err      error
				)
				if patternType != "" {
					patterns, err = a.store.FindByType(cmd.Context(), patternType)
				} else {
					patterns, err = a.store.List(cmd.Context())
				}
				if err != nil {
					_ = formatter.Error(ErrCodeStore, err.Error(), nil)
					return WrapExitError(ExitCommandError, "failed to list patterns", err)
				}
				return outputPatternList(formatter, patterns)
			})
		},
	}
	cmd.Flags().StringVarP(&patternType, "type", "t", "", "only list patterns of this type (synth_def|effect|pattern)")
	return cmd
}

func outputPatternList(formatter *OutputFormatter, patterns []*pattern.PrecompiledPattern) error {
	if formatter.Format == "json" {
		views := make([]PatternView, 0, len(patterns))
		for _, p := range patterns {
			v, err := patternView(p, false)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return formatter.Success(views)
	}

	if len(patterns) == 0 {
		fmt.Fprintln(formatter.Writer, "No patterns stored")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tCONTENT ID\tLAST USED")
	for _, p := range patterns {
		lastUsed := "never"
		if !p.LastUsedAt.IsZero() {
			lastUsed = humanize.Time(p.LastUsedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.PatternType, shortID(p.ContentID), lastUsed)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func newPatternsGetCommand(rootOpts *RootOptions) *cobra.Command {
	var patternType string
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored pattern",
		Long: `Show a stored pattern by name and type, or by content id with --id.

Example:
  tonegen patterns get basic_sine --type synth_def
  tonegen patterns get --id 3f2a...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			byID, _ := cmd.Flags().GetBool("id")
			return withApp(rootOpts, func(a *app) error {
				var (
					p   *pattern.PrecompiledPattern
					err error
				)
				if byID {
					p, err = a.store.GetByID(cmd.Context(), args[0])
				} else {
					p, err = a.store.FindByName(cmd.Context(), args[0], patternType)
				}
				if err != nil {
					return outputStoreError(formatter, "pattern lookup failed", err)
				}

				if formatter.Format == "json" {
					v, err := patternView(p, true)
					if err != nil {
						return err
					}
					return formatter.Success(v)
				}
				fmt.Fprintf(formatter.Writer, "%s (%s) %s\n", p.Name, p.PatternType, p.ContentID)
				fmt.Fprintf(formatter.Writer, "compiled %s in %s\n\n", humanize.Time(p.CompiledAt), p.CompileDuration)
				fmt.Fprintln(formatter.Writer, p.CompiledCode)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&patternType, "type", "t", pattern.TypeSynthDef, "pattern type")
	cmd.Flags().Bool("id", false, "treat the argument as a content id")
	return cmd
}

func newPatternsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <content-id>",
		Short:         "Delete a stored pattern",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, func(a *app) error {
				if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
					return outputStoreError(formatter, "delete failed", err)
				}
				if formatter.Format == "json" {
					return formatter.Success(map[string]string{"deleted": args[0]})
				}
				fmt.Fprintf(formatter.Writer, "✓ Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newPatternsPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete patterns unused for a number of days",
		Long: `Delete patterns that have not been read for --days days. Patterns
never read count from when they were created.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withApp(rootOpts, func(a *app) error {
				n, err := a.store.DeleteUnusedOlderThan(cmd.Context(), days)
				if err != nil {
					return outputStoreError(formatter, "prune failed", err)
				}
				if formatter.Format == "json" {
					return formatter.Success(map[string]int64{"deleted": n})
				}
				fmt.Fprintf(formatter.Writer, "✓ Removed %d pattern(s) unused for %d day(s)\n", n, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "minimum days since last use")
	return cmd
}

// outputStoreError reports a store error. Missing patterns are command
// errors; anything else is a failure.
func outputStoreError(formatter *OutputFormatter, message string, err error) error {
	if store.IsNotFound(err) {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, message, err)
	}
	_ = formatter.Error(ErrCodeStore, err.Error(), nil)
	return WrapExitError(ExitFailure, message, err)
}
