package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/exoml/config"
	"github.com/YuminosukeSato/exoml/infer"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/train"
)

// printDir writes the absolute form of a run directory to stdout.
func printDir(cmd *cobra.Command, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", dir)
	}
	fmt.Fprintln(cmd.OutOrStdout(), abs)
	return nil
}

func newTrainCmd() *cobra.Command {
	var input, cfgArg, outDir string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier and write an artifact bundle",
		Long: `Train loads the TOI table, cleans it, holds out a stratified test split,
fits the configured pipeline and writes a timestamped bundle under --outdir.

--config accepts a JSON/YAML file or a preset name (optionally "preset:<name>").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(cfgArg)
			if err != nil {
				return err
			}
			res, err := train.Run(cmd.Context(), train.Options{Input: input, Config: cfg, OutDir: outDir})
			if err != nil {
				return err
			}
			return printDir(cmd, res.Dir)
		},
	}
	f := cmd.Flags()
	f.StringVar(&input, "input", "", "training table (CSV, '#' comment lines allowed)")
	f.StringVar(&cfgArg, "config", "", "config file or preset name")
	f.StringVar(&outDir, "outdir", train.DefaultOutDir, "artifact root")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newTrainDLCmd() *cobra.Command {
	opts := train.DLOptions{}
	var cfgArg string
	cmd := &cobra.Command{
		Use:   "train-dl",
		Short: "Train a dense neural network on the same features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(cfgArg)
			if err != nil {
				return err
			}
			opts.Config = cfg
			res, err := train.RunDL(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printDir(cmd, res.Dir)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Input, "input", "", "training table")
	f.StringVar(&cfgArg, "config", "", "config file or preset name (target, drop_cols, test_size, random_state)")
	f.StringVar(&opts.OutDir, "outdir", train.DefaultOutDir, "artifact root")
	f.StringVar(&opts.Model, "model", "mlp", "network (mlp|mlp_bn)")
	f.IntVar(&opts.Epochs, "epochs", 60, "maximum epochs")
	f.IntVar(&opts.BatchSize, "batch-size", 128, "mini-batch size")
	f.Float64Var(&opts.ValSplit, "val-split", 0.2, "share of training rows held out for early stopping")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newInferCmd() *cobra.Command {
	var input, dir string
	opts := infer.Options{}
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Predict dispositions for a table with a trained bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := infer.Run(dir, input, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&input, "input", "", "table to score")
	f.StringVar(&dir, "artifacts", "", "bundle directory")
	f.StringVar(&opts.Output, "output", "", "output CSV (default <artifacts>/"+infer.DefaultOutputFile+")")
	f.BoolVar(&opts.WithProba, "with-proba", false, "add one "+infer.ProbaColumnPrefix+"<class> column per class")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("artifacts")
	return cmd
}
