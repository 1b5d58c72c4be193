package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/secflow/secflow/internal/model"
	"github.com/secflow/secflow/pkg/export"
	"github.com/secflow/secflow/pkg/filter"
	"github.com/secflow/secflow/pkg/tui"
)

// Filter flags
var (
	formTypes    []string
	ciks         []string
	companies    []string
	dates        []string
	whereFlags   []string
	updateFirst  bool
	exportPath   string
	peekRows     int
	assumeYes    bool
	dryRun       bool
	saveConfigTo string
	starSchemaTo string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download missing quarterly index files",
	Long: `Download every quarterly master index in the configured range that is not
cached yet. The newest cached file is always downloaded again because its
quarter may have been incomplete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			start := time.Now()
			refs, err := s.ws.UpdateIndex(ctx)
			if err != nil {
				return err
			}
			s.printer.IndexUpdated(refs, time.Since(start))
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Build a working set from the cached index files",
	Long: `Scan every cached index file in range and keep the rows that match all
given predicates. Values within one predicate are alternatives.

Examples:
  secflow filter --form "SC 13D"
  secflow filter --form 10-K --form 10-Q --cik 320193
  secflow filter --where "Company Name=APPLE INC" --export apple.parquet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			res, err := applyFilter(ctx, s)
			if err != nil {
				return err
			}
			s.printer.Filtered(res)
			if exportPath != "" {
				return exportWorkingSet(ctx, s, exportPath)
			}
			return nil
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch headers|filings",
	Short: "Fetch headers or full submissions for a working set",
	Long: `Filter the cached index files and then fetch the SGML header or the full
submission of every matching filing that is not cached yet.

Examples:
  secflow fetch headers --form "SC 13D"
  secflow fetch filings --form 8-K --cik 320193 --update
  secflow fetch headers --form 10-K --dry-run`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"headers", "filings"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			if _, err := applyFilter(ctx, s); err != nil {
				return err
			}
			if dryRun {
				kind, refs := model.KindHeader, s.ws.HeaderRefs
				if args[0] == "filings" {
					kind, refs = model.KindArchive, s.ws.FilingRefs
				}
				pending, err := refs()
				if err != nil {
					return err
				}
				s.printer.Pending(kind, pending)
				return nil
			}
			fetch := s.ws.FetchHeaders
			if args[0] == "filings" {
				fetch = s.ws.FetchFilings
			}
			stats, err := fetch(ctx)
			s.printer.Fetched(stats)
			return err
		})
	},
}

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the index columns usable in predicates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			s.printer.Fields(s.ws.Fields())
			return nil
		})
	},
}

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Show the last rows of the newest cached index file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			records, err := s.ws.Peek(peekRows)
			if err != nil {
				return err
			}
			s.printer.Records(records)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:       "clear index|headers|filings",
	Short:     "Delete cached files",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"index", "headers", "filings"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, s *session) error {
			if !assumeYes {
				ok, err := tui.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("  Delete all cached %s files? [y/N]: ", args[0]))
				if err != nil || !ok {
					return err
				}
			}
			var n int
			var err error
			switch args[0] {
			case "index":
				n, err = s.ws.ClearIndex()
			case "headers":
				n, err = s.ws.ClearHeaders()
			default:
				n, err = s.ws.ClearFilings()
			}
			if err != nil {
				return err
			}
			s.printer.Cleared(args[0], n)
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [output]",
	Short: "Filter and export the working set",
	Long: `Filter the cached index files and write the working set to a file.
The format follows the extension: .parquet, .xlsx, .duckdb or .db.
With --star-schema, a fact table and dimension tables are written as
Parquet files into the given directory instead.

Examples:
  secflow export filings.parquet --form 10-K
  secflow export --star-schema ./warehouse --form 8-K`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && starSchemaTo == "" {
			return fmt.Errorf("an output file or --star-schema directory is required")
		}
		return run(func(ctx context.Context, s *session) error {
			if _, err := applyFilter(ctx, s); err != nil {
				return err
			}
			if starSchemaTo != "" {
				res, err := export.StarSchema(ctx, starSchemaTo, s.ws.WorkingSet(), export.ParseCompression(s.cfg.Export.Compression))
				if err != nil {
					return err
				}
				for _, f := range res.Files() {
					s.printer.Exported(f, s.ws.WorkingSet().Len(), fileSize(f))
				}
			}
			if len(args) == 1 {
				return exportWorkingSet(ctx, s, args[0])
			}
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print or save the effective configuration",
	Long: `Print the configuration after merging files, environment and flags.
With --save, write it to a file that later runs can load.

Examples:
  secflow config
  secflow config --from 2019Q4 --user-agent "Example Corp admin@example.com" --save ~/.secflow/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManager()
		if err != nil {
			return err
		}
		if err := m.Get().Validate(); err != nil {
			return err
		}
		if saveConfigTo != "" {
			if err := m.Save(saveConfigTo); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Saved configuration to %s\n", saveConfigTo)
			return nil
		}
		data, err := yaml.Marshal(m.Get())
		if err != nil {
			return err
		}
		for _, path := range m.GetPaths() {
			fmt.Fprintf(os.Stdout, "# loaded %s\n", path)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{filterCmd, fetchCmd, exportCmd} {
		cmd.Flags().StringArrayVar(&formTypes, "form", nil, "Form type to keep (repeatable)")
		cmd.Flags().StringArrayVar(&ciks, "cik", nil, "CIK to keep (repeatable)")
		cmd.Flags().StringArrayVar(&companies, "company", nil, "Company name to keep (repeatable)")
		cmd.Flags().StringArrayVar(&dates, "date", nil, "Filing date to keep, YYYY-MM-DD (repeatable)")
		cmd.Flags().StringArrayVar(&whereFlags, "where", nil, "Predicate as column=value (repeatable)")
		cmd.Flags().BoolVar(&updateFirst, "update", false, "Update the index files before filtering")
	}
	filterCmd.Flags().StringVarP(&exportPath, "export", "o", "", "Export the working set to this file")
	fetchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be fetched without downloading")
	exportCmd.Flags().StringVar(&starSchemaTo, "star-schema", "", "Write a star schema into this directory")
	peekCmd.Flags().IntVarP(&peekRows, "rows", "n", 5, "Number of rows")
	configCmd.Flags().StringVar(&saveConfigTo, "save", "", "Write the configuration to this file")
	clearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

// predicates builds filter predicates from the command flags, keyed by
// index column name.
func predicates() (filter.Predicates, error) {
	preds := filter.Predicates{}
	add := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		if c, ok := filter.ResolveColumn(column); ok {
			column = c
		}
		preds[column] = append(preds[column], values...)
	}
	add("form", formTypes)
	add("cik", ciks)
	add("company", companies)
	add("date", dates)
	for _, w := range whereFlags {
		column, value, ok := strings.Cut(w, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --where %q: want column=value", w)
		}
		add(strings.TrimSpace(column), []string{value})
	}
	return preds, nil
}

func applyFilter(ctx context.Context, s *session) (*filter.Result, error) {
	preds, err := predicates()
	if err != nil {
		return nil, err
	}
	if updateFirst {
		if _, err := s.ws.UpdateIndex(ctx); err != nil {
			return nil, err
		}
	}
	return s.ws.Filter(ctx, preds)
}

func exportWorkingSet(ctx context.Context, s *session, path string) error {
	if err := s.ws.Export(ctx, path); err != nil {
		return err
	}
	s.printer.Exported(path, s.ws.WorkingSet().Len(), fileSize(path))
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
