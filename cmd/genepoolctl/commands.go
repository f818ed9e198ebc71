package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"genepool/internal/config"
	"genepool/internal/metrics"
	"genepool/internal/server"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Purge the pool and seed generation 0 under a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			session, err := client.Reset(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reset queue=%s session=%s genomes=%d\n",
				a.cfg.Queue, session, a.cfg.Breeding.PopulationSize)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the pool and breed each generation once it is fully evaluated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			collector := metrics.New()
			client, err := a.connect(ctx, collector)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			tasks := pool.New().WithContext(ctx).WithCancelOnError()
			if addr := a.cfg.Metrics.Addr; addr != "" {
				router := server.NewRouter(client.Status, collector)
				tasks.Go(func(ctx context.Context) error {
					return server.Serve(ctx, addr, router, a.logger)
				})
			}
			tasks.Go(func(ctx context.Context) error {
				return client.Run(ctx)
			})
			return tasks.Wait()
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve /metrics, /status and /health on this address, e.g. :9090")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depths for the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d evaluated=%d\n",
				status.Queue, status.Pending, status.Evaluated)
			return nil
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Snapshot both queues into the dump store without consuming them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			dump, err := client.Dump(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dump id=%s messages=%d\n", dump.ID, dump.MessageCount())
			return nil
		},
	}
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <dump-id>",
		Short: "Replace the pool contents with a saved dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			dump, err := client.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored dump=%s messages=%d\n", dump.ID, dump.MessageCount())
			return nil
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [dump-id]",
		Short: "List saved dumps, or show the queues of one dump",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				dumps, err := client.Dumps(cmd.Context())
				if err != nil {
					return err
				}
				if len(dumps) == 0 {
					_, _ = fmt.Fprintln(out, "no dumps")
					return nil
				}
				for _, d := range dumps {
					total := 0
					for _, n := range d.Counts {
						total += n
					}
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", d.ID, d.CreatedAt.Format(time.RFC3339), d.Pool, total)
				}
				return nil
			}

			dump, err := client.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "id=%s pool=%s created_at=%s population=%d\n",
				dump.ID, dump.Pool, dump.CreatedAt.Format(time.RFC3339), dump.PopulationSize)
			names := make([]string, 0, len(dump.Queues))
			for name := range dump.Queues {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				_, _ = fmt.Fprintf(out, "%s=%d\n", name, len(dump.Queues[name]))
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := config.Encode(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}
}
