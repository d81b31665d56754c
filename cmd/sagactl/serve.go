package main

import (
	"context"
	"io"
	"math/rand/v2"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/admin"
	"github.com/fortressi/sagaflow/breaker"
	"github.com/fortressi/sagaflow/internal/checkout"
	"github.com/fortressi/sagaflow/observe"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		traces   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API while running demo checkouts",
		Long: `Start the admin HTTP server and keep running randomly chosen checkout
scenarios so the registry, metrics and breaker endpoints have data.

Endpoints: /healthz, /sagas, /sagas/{id}, /sagas/{id}/graph, /breakers, /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Admin.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var spans io.Writer
			if traces {
				spans = cmd.ErrOrStderr()
			}
			return a.serve(ctx, addr, interval, spans)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to admin.addr from config)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "pause between demo checkouts, 0 disables them")
	cmd.Flags().BoolVar(&traces, "traces", false, "write saga spans to stderr")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, interval time.Duration, spans io.Writer) error {
	tracer, shutdown, err := newTracer(spans)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("flush spans", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := sagaflow.NewRegistry[checkout.Order](sagaflow.WithRetention(a.cfg.Saga.Retention))
	defer registry.Close()
	breakers, err := breaker.NewRegistry(a.cfg.BreakerConfig(),
		breaker.WithLogger(a.logger),
		breaker.WithMetrics(breaker.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}
	defer breakers.Close()

	orch := sagaflow.NewOrchestrator(registry,
		sagaflow.WithLogger(a.logger),
		sagaflow.WithListener(observe.NewLogListener(a.logger)),
		sagaflow.WithListener(observe.NewMetricsListener(reg)),
		sagaflow.WithListener(observe.NewTraceListener(tracer)),
	)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	if interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.demoLoad(ctx, orch, breakers, interval)
		}()
	}

	router := admin.NewRouter(registry,
		admin.WithLogger(a.logger),
		admin.WithBreakers(breakers),
		admin.WithGatherer(reg),
	)
	return admin.Serve(ctx, addr, router, a.logger)
}

func (a *app) demoLoad(ctx context.Context, orch *sagaflow.Orchestrator[checkout.Order], breakers *breaker.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sc := checkout.Scenarios[rand.IntN(len(checkout.Scenarios))]
		inventory, payments, shipping := sc.Services()
		c := checkout.New(inventory, payments, shipping,
			checkout.WithRetryPolicy(a.cfg.RetryPolicy()),
			checkout.WithBreakers(breakers),
			checkout.WithLogger(a.logger),
		)
		state, err := c.Run(ctx, orch, checkout.DemoOrder("order-"+uuid.NewString()[:8]))
		if err != nil {
			a.logger.Error("demo checkout aborted", zap.String("scenario", string(sc)), zap.Error(err))
			continue
		}
		a.logger.Info("demo checkout finished",
			zap.String("scenario", string(sc)),
			zap.String("saga_id", state.ID),
			zap.Stringer("status", state.Status),
		)
	}
}
