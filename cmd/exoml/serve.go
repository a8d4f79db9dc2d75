package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/exoml/artifact"
	"github.com/YuminosukeSato/exoml/chatbot"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
	"github.com/YuminosukeSato/exoml/server"
	"github.com/YuminosukeSato/exoml/train"
)

const shutdownTimeout = 10 * time.Second

// listenAndServe runs h on addr until ctx is cancelled, then drains.
func listenAndServe(ctx context.Context, addr string, h http.Handler, logger log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(sctx)
}

func newServeCmd() *cobra.Command {
	var root, modelPath, addr, reloadCron string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a trained bundle over HTTP",
		Long: `Serve exposes POST /predict, GET /health and GET /metrics.

--model-path (or MODEL_PATH) may name a bundle directory, its pipeline file
or an artifact root; --artifacts names an artifact root whose newest run is
served. With --reload-cron the root is re-checked on that schedule and a
newer run is swapped in without restarting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := log.GetLoggerWithName("serve")
			path := modelPath
			if path == "" {
				path = os.Getenv("MODEL_PATH")
			}
			if path == "" {
				path = root
			}
			dir, err := server.ResolveBundleDir(ctx, path)
			if err != nil {
				return err
			}
			holder := server.NewModelHolder(nil)
			if err := holder.LoadDir(dir); err != nil {
				return err
			}
			srv := server.New(holder, nil)

			if reloadCron != "" {
				rl, err := server.NewReloader(holder, srv.Metrics(), root, reloadCron)
				if err != nil {
					return err
				}
				rl.Start()
				defer rl.Stop()
			}
			return listenAndServe(ctx, addr, srv.Router(), logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&root, "artifacts", train.DefaultOutDir, "artifact root")
	f.StringVar(&modelPath, "model-path", "", "bundle to serve (env MODEL_PATH)")
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.StringVar(&reloadCron, "reload-cron", "", `reload schedule, e.g. "@every 5m" or "*/10 * * * *"`)
	return cmd
}

func newChatbotCmd() *cobra.Command {
	var envFile, addr string
	cmd := &cobra.Command{
		Use:   "chatbot",
		Short: "Serve the exoplanet chatbot and its widget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := chatbot.LoadSettings(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				s.Addr = addr
			}
			if s.Debug {
				if err := log.SetupLogger("debug", "console", cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			llm, err := chatbot.NewGeminiClient(cmd.Context(), s.GoogleAPIKey, s.ModelName)
			if err != nil {
				return err
			}
			svc, err := chatbot.NewService(llm, chatbot.NewPromptManager(s.PromptsDir), s.ActivePrompt, s.Temperature)
			if err != nil {
				return err
			}
			h := chatbot.NewHandler(svc, s.AppName)
			return listenAndServe(cmd.Context(), s.Addr, h.Router(), log.GetLoggerWithName("chatbot"))
		},
	}
	f := cmd.Flags()
	f.StringVar(&envFile, "env-file", chatbot.DefaultEnvFile, "dotenv file with GOOGLE_API_KEY and friends")
	f.StringVar(&addr, "addr", chatbot.DefaultAddr, "listen address (env ADDR)")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := artifact.OpenCatalog(outDir)
			if err != nil {
				return err
			}
			defer cat.Close()
			runs, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tRUN ID\tMODEL\tACCURACY\tBAL. ACC\tF1 MACRO\tDIR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%.4f\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.RunID, r.Model, r.Accuracy, r.BalancedAccuracy, r.F1Macro, r.Dir)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&outDir, "outdir", train.DefaultOutDir, "artifact root")
	return cmd
}
