package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/log-sentinel/internal/cache"
	"github.com/raaihank/log-sentinel/internal/content"
	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/report"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/store"
)

// DiffOptions holds command-line options for the diff command
type DiffOptions struct {
	Threshold     float32
	Context       int
	JSON          string
	NoStore       bool
	FailOnAnomaly bool
}

func newDiffCommand(a *app) *cobra.Command {
	opts := &DiffOptions{}

	cmd := &cobra.Command{
		Use:   "diff BASELINE TARGET",
		Short: "Report target lines unlike anything in the baseline",
		Long: `Train a model on BASELINE, score every line of TARGET against it and print
the anomalous lines grouped in chunks with their context.

The model is cached in the configured model store under the baseline
fingerprint and tokenizer settings, so comparing more targets against the
same baseline skips training.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("threshold") {
				a.cfg.Model.Threshold = opts.Threshold
			}
			if cmd.Flags().Changed("context") {
				a.cfg.Model.Context = opts.Context
			}
			return runDiff(cmd, a, opts, args[0], args[1])
		},
	}

	cmd.Flags().Float32VarP(&opts.Threshold, "threshold", "t", model.DefaultThreshold, "Minimum distance for a line to be anomalous")
	cmd.Flags().IntVarP(&opts.Context, "context", "C", model.DefaultContext, "Context lines around each anomaly")
	cmd.Flags().StringVar(&opts.JSON, "json", "", "Also write the report as gzipped JSON to this file")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Do not read or write the model store")
	cmd.Flags().BoolVar(&opts.FailOnAnomaly, "fail-on-anomaly", false, "Exit with status 1 when anomalies are found")
	return cmd
}

func runDiff(cmd *cobra.Command, a *app, opts *DiffOptions, baselineRoot, targetRoot string) error {
	ctx := cmd.Context()
	start := time.Now()

	engine, err := model.NewEngine(a.cfg.ModelOptions(), a.log.WithComponent("model").Logger)
	if err != nil {
		return err
	}
	reader, err := a.reader()
	if err != nil {
		return err
	}

	target, _, err := reader.Read(ctx, targetRoot)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	baseline, _, err := reader.Read(ctx, baselineRoot)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}

	m, closeStore, err := a.train(ctx, engine, baseline, opts.NoStore)
	if err != nil {
		return err
	}
	defer closeStore()

	r, err := engine.Score(ctx, m, target)
	if err != nil {
		return err
	}

	if err := report.RenderText(cmd.OutOrStdout(), r); err != nil {
		return err
	}
	if opts.JSON != "" {
		if err := report.WriteJSON(a.fs, opts.JSON, r); err != nil {
			return err
		}
	}

	a.log.LogRun(r.Summary.Sources, r.Summary.Lines, r.Summary.Anomalies, r.Summary.CoverageGaps, time.Since(start))
	if opts.FailOnAnomaly && r.Summary.Anomalies > 0 {
		return errAnomalies
	}
	return nil
}

// train returns the model of baseline through a cache backed by the
// configured store. Stored models are keyed by fingerprint and engine
// settings. The returned func closes the store.
func (a *app) train(ctx context.Context, engine *model.Engine, baseline []source.RawLine, noStore bool) (*model.Model, func(), error) {
	var st store.ModelStore
	if !noStore {
		var err error
		if st, err = store.Open(&a.cfg.Store, a.log.WithComponent("store").Logger); err != nil {
			return nil, nil, err
		}
	}
	closeStore := func() {
		if st != nil {
			_ = st.Close()
		}
	}

	var backing cache.Store
	if st != nil {
		backing = st
	}
	c := cache.New(a.cfg.Cache, backing, a.log.WithComponent("cache").Logger)

	m, err := c.GetOrBuild(ctx, engine.Key(model.ComputeFingerprint(baseline)), func(ctx context.Context) (*model.Model, error) {
		return engine.Train(ctx, baseline)
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return m, closeStore, nil
}

func newTrainCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "train BASELINE",
		Short: "Train and store the model of a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := model.NewEngine(a.cfg.ModelOptions(), a.log.WithComponent("model").Logger)
			if err != nil {
				return err
			}
			reader, err := a.reader()
			if err != nil {
				return err
			}
			baseline, _, err := reader.Read(ctx, args[0])
			if err != nil {
				return fmt.Errorf("baseline: %w", err)
			}

			m, closeStore, err := a.train(ctx, engine, baseline, false)
			if err != nil {
				return err
			}
			defer closeStore()

			stats := m.Stats()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "fingerprint %s\n", m.Fingerprint())
			fmt.Fprintf(w, "sources     %d (%d failed)\n", stats.Sources, stats.Failed)
			fmt.Fprintf(w, "lines       %s\n", humanize.Comma(int64(stats.Lines)))
			fmt.Fprintf(w, "rows        %s\n", humanize.Comma(int64(stats.Rows)))
			fmt.Fprintf(w, "size        %s\n", humanize.Bytes(stats.Bytes))
			return nil
		},
	}
}

func newFingerprintCommand(a *app) *cobra.Command {
	var showFiles bool

	cmd := &cobra.Command{
		Use:   "fingerprint BASELINE",
		Short: "Print the content fingerprint of a baseline without training",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := a.reader()
			if err != nil {
				return err
			}
			fp, result, err := reader.Provenance(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, fp)
			if showFiles {
				printFiles(w, result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showFiles, "files", false, "List the files that contributed")
	return cmd
}

func printFiles(w io.Writer, result *content.ReadResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Source", "Lines", "Size", "Note"})
	table.SetBorder(false)
	for _, f := range result.Files {
		note := ""
		switch {
		case f.Stopped:
			note = "stopped at marker"
		case f.Truncated > 0:
			note = fmt.Sprintf("%d lines truncated", f.Truncated)
		}
		table.Append([]string{f.Path, f.Source, humanize.Comma(int64(f.Lines)), humanize.Bytes(uint64(f.Bytes)), note})
	}
	for _, path := range result.Skipped {
		table.Append([]string{path, "", "", "", "skipped"})
	}
	table.Render()
}

func newExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export ROOT OUTPUT",
		Short: "Write the lines of a run to a parquet line dump",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := a.reader()
			if err != nil {
				return err
			}
			lines, _, err := reader.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if err := a.fs.MkdirAll(filepath.Dir(args[1]), 0o755); err != nil {
				return err
			}
			f, err := a.fs.Create(args[1])
			if err != nil {
				return err
			}
			if err := content.WriteParquet(f, lines); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s lines to %s\n", humanize.Comma(int64(len(lines))), args[1])
			return nil
		},
	}
}

func newModelsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models in the model store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(&a.cfg.Store, a.log.WithComponent("store").Logger)
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("no model store configured")
			}
			defer st.Close()

			entries, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Fingerprint", "Size", "Saved"})
			table.SetBorder(false)
			for _, e := range entries {
				table.Append([]string{e.Fingerprint, humanize.Bytes(uint64(e.Size)), humanize.Time(e.SavedAt)})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of models to list")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
