package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/exoml"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "exoml",
		Short:         "TFOPWG disposition classifier for TESS Objects of Interest",
		Version:       exoml.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return log.SetupLogger(g.logLevel, g.logFormat, cmd.ErrOrStderr())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	pf.StringVar(&g.logFormat, "log-format", "console", "log format (json|console)")

	root.AddCommand(
		newTrainCmd(),
		newInferCmd(),
		newTrainDLCmd(),
		newServeCmd(),
		newChatbotCmd(),
		newRunsCmd(),
	)
	return root
}
