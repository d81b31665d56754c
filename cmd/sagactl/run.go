package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
	"github.com/fortressi/sagaflow/dag"
	"github.com/fortressi/sagaflow/internal/checkout"
	"github.com/fortressi/sagaflow/observe"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		scenario string
		graph    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one checkout scenario and print the final saga state",
		Example: `  sagactl run --scenario a
  sagactl run --scenario c --graph | dot -Tsvg > saga.svg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := checkout.ParseScenario(scenario)
			if err != nil {
				return err
			}

			registry := sagaflow.NewRegistry[checkout.Order](sagaflow.WithRetention(a.cfg.Saga.Retention))
			defer registry.Close()
			breakers, err := breaker.NewRegistry(a.cfg.BreakerConfig(), breaker.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer breakers.Close()

			orch := sagaflow.NewOrchestrator(registry,
				sagaflow.WithLogger(a.logger),
				sagaflow.WithListener(observe.NewLogListener(a.logger)),
			)
			inventory, payments, shipping := sc.Services()
			c := checkout.New(inventory, payments, shipping,
				checkout.WithRetryPolicy(a.cfg.RetryPolicy()),
				checkout.WithBreakers(breakers),
				checkout.WithLogger(a.logger),
			)

			state, err := c.Run(cmd.Context(), orch, checkout.DemoOrder("order-"+uuid.NewString()[:8]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if graph {
				dot, err := dag.RenderDOT(state)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, dot)
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
	cmd.Flags().StringVarP(&scenario, "scenario", "s", string(checkout.ScenarioHappyPath), "scenario to run: a, b or c")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the saga as a Graphviz DOT graph instead of JSON")
	return cmd
}

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the available checkout scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range checkout.Scenarios {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", s, s.Description()); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}
}
