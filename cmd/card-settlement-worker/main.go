package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/tuition_backend/bootstrap"
	"github.com/mmdatafocus/tuition_backend/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit instead of following CARD_SETTLEMENT_CRON")
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

	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := rt.Engine.SettleDueCardCharges(sweepCtx); err != nil {
			config.LogError(logger, "card-settlement-worker", "sweep", "SettleDueCardCharges", nil, err)
		}
	}

	if *once {
		sweep()
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(rt.Billing.CardSettlementCron, sweep); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CARD_SETTLEMENT_CRON %q: %v\n", rt.Billing.CardSettlementCron, err)
		rt.Close()
		os.Exit(1)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"field":    "card-settlement-worker",
		"schedule": rt.Billing.CardSettlementCron,
	}).Info("card settlement worker started")

	<-ctx.Done()
	// wait for a sweep in progress
	<-c.Stop().Done()
}
