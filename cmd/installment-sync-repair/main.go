package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/tuition_backend/bootstrap"
	"github.com/mmdatafocus/tuition_backend/config"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Only report plans whose payments and installments disagree")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := config.GetLogger()
	if err := bootstrap.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	rt, err := bootstrap.Build(ctx, logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	var out any
	if *dryRun {
		found, err := rt.Engine.AnalyzeDiscrepancies(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
			rt.Close()
			os.Exit(1)
		}
		out = map[string]any{"count": len(found), "discrepancies": found}
	} else {
		summary, err := rt.Engine.RepairInstallmentSync(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "repair: %v\n", err)
			rt.Close()
			os.Exit(1)
		}
		out = summary
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
	}
}
