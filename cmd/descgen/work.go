package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/seanap/DescGen-sub000/internal/enrich"
	"github.com/seanap/DescGen-sub000/internal/scheduler"
)

func workCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run the enrichment worker loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWork(cmd.Context())
		},
	}
}

func runWork(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ports, err := buildPorts(a.cfg.Endpoints)
	if err != nil {
		return err
	}

	enricher := enrich.New(a.orch, a.jobs, ports, enrich.NewTextComposer(), enrich.Config{
		RetryCount:   a.cfg.Upstream.RetryCount,
		Backoff:      a.cfg.Upstream.Backoff,
		CooldownBase: a.cfg.Upstream.CooldownBase,
		CooldownMax:  a.cfg.Upstream.CooldownMax,
		CacheTTL:     a.cfg.Upstream.CacheTTL,
	}, a.log)

	sched := scheduler.New(a.jobs, a.locks, a.kv, a.met, enricher, scheduler.Config{
		Owner:          workerOwner(),
		PollInterval:   a.cfg.Worker.PollInterval,
		LeaseTTL:       a.cfg.Worker.LeaseTTL,
		RetryBase:      a.cfg.Worker.RetryBase,
		CycleLockTTL:   a.cfg.Worker.CycleLockTTL,
		OptionalBudget: a.cfg.Worker.OptionalBudget,
	}, a.log)

	sched.Run(ctx)
	return nil
}

// workerOwner returns a lease owner identity unique to this process.
func workerOwner() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "descgen"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}

var errNoActivitiesEndpoint = errors.New("endpoints.activities_url is required for the worker")
