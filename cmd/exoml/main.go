// Command exoml trains, evaluates and serves TFOPWG disposition
// classifiers for TESS Objects of Interest.
//
//	exoml train     --input toi.csv [--config preset|file] [--outdir artifacts]
//	exoml infer     --input new.csv --artifacts artifacts/<run> [--output preds.csv] [--with-proba]
//	exoml train-dl  --input toi.csv [--model mlp|mlp_bn] [--epochs 60] ...
//	exoml serve     --artifacts artifacts [--addr :8080] [--reload-cron "@every 5m"]
//	exoml chatbot   [--env-file .env] [--addr :8000]
//	exoml runs      [--outdir artifacts]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
