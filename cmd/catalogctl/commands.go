package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Apurer/go-catalog-pipeline/internal/clients/http/catalog"
)

type globalFlags struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Operate the catalog change pipeline: dead letters, lag and outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", envOr("CATALOG_URL", "http://localhost:8080"), "catalog API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("CATALOG_TOKEN"), "bearer token holding the ADMIN privilege")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "table", "output format: table or json")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "request timeout")

	deadLetters := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dl"},
		Short:   "Inspect and replay quarantined events",
	}
	var group string
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			letters, err := client.ListDeadLetters(ctx, group)
			if err != nil {
				return err
			}
			return flags.render(cmd.OutOrStdout(), letters, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tGROUP\tURN\tASPECT\tVERSION\tATTEMPTS\tREPLAYED\tLAST REASON")
				for _, l := range letters {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
						l.ID, l.Group, l.EntityUrn, l.AspectName, l.Version, len(l.Failures), l.ReplayedAt != nil, l.LastReason)
				}
			})
		},
	}
	list.Flags().StringVar(&group, "group", "", "only this consumer group")
	replay := &cobra.Command{
		Use:   "replay <id>",
		Short: "Re-inject a dead letter into its consumer group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			letter, err := client.ReplayDeadLetter(ctx, args[0])
			if err != nil {
				return err
			}
			return flags.render(cmd.OutOrStdout(), letter, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "replay queued\t%s\t%s\t%s@%d\n", letter.ID, letter.Group, letter.EntityUrn, letter.Version)
			})
		},
	}
	deadLetters.AddCommand(list, replay)

	lag := &cobra.Command{
		Use:   "lag",
		Short: "Show log head minus checkpoint per group and partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			rows, err := client.Lag(ctx)
			if err != nil {
				return err
			}
			return flags.render(cmd.OutOrStdout(), rows, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "GROUP\tPARTITION\tHEAD\tCHECKPOINT\tLAG\tSTATE")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", r.Group, r.Partition, r.Head, r.Checkpoint, r.Lag, r.State)
				}
			})
		},
	}

	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Show events committed but not yet published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			summary, err := client.OutboxSummary(ctx)
			if err != nil {
				return err
			}
			return flags.render(cmd.OutOrStdout(), summary, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "PENDING\tOLDEST AGE")
				fmt.Fprintf(w, "%d\t%s\n", summary.Pending, (time.Duration(summary.OldestAgeSeconds * float64(time.Second))).Round(time.Second))
			})
		},
	}

	root.AddCommand(deadLetters, lag, outbox)
	return root
}

func (f *globalFlags) client() (*catalog.Client, error) {
	return catalog.NewClient(f.server, catalog.WithToken(f.token))
}

func (f *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *globalFlags) render(out io.Writer, value any, table func(*tabwriter.Writer)) error {
	switch f.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		table(w)
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format %q", f.output)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
