package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/ledger"
)

func enqueueCmd(a *app) *cobra.Command {
	var (
		userID      string
		priority    string
		maxAttempts int
		model       string
		parentID    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue [prompt]",
		Short: "Submit a generation request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := job.ParsePriority(priority)
			if err != nil {
				return err
			}
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}

			req := job.GenerationRequest{
				Prompt:   strings.Join(args, " "),
				UserID:   userID,
				Model:    model,
				ParentID: parentID,
			}
			opts := []job.Option{job.WithPriority(p)}
			if maxAttempts > 0 {
				opts = append(opts, job.WithMaxAttempts(maxAttempts))
			}

			jobID, err := a.manager().EnqueueRequest(cmd.Context(), req, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user to charge for the generation")
	cmd.Flags().StringVar(&priority, "priority", "normal", "high, normal or low")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry budget (default GENQUEUE_MAX_ATTEMPTS)")
	cmd.Flags().StringVar(&model, "model", "", "model override for this request")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent generation id")
	_ = cmd.MarkFlagRequired("user") //nolint:errcheck // flag is defined above
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			j, err := a.manager().GetStatus(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd, j)
		},
	}
}

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			ok, err := a.manager().Cancel(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s is already finished", jobID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}

func retryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job that has attempts left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			ok, err := a.manager().Retry(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %s cannot be retried", jobID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "requeued")
			return nil
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue length, active and processing counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			st, err := a.manager().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active jobs by priority, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			jobs, err := a.manager().ListActive(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tCOST\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					j.ID, j.Status, j.Priority, j.Attempts, j.MaxAttempts, j.Cost,
					j.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to list (0 = all)")
	return cmd
}

func cleanCmd(a *app) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove active jobs older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-age") {
				maxAge = a.cfg.MaxJobAge
			}
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			n, err := a.manager().CleanOldJobs(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d jobs\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", time.Hour, "age past which a job is removed (default GENQUEUE_MAX_JOB_AGE)")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Requeue jobs whose lease expired, refund their debits and repair lanes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context(), true); err != nil {
				return err
			}
			coordinator := ledger.NewCoordinator(a.ledger,
				ledger.WithTokensPerBrick(a.cfg.TokensPerBrick),
				ledger.WithLogger(a.logger),
			)

			jobs, err := a.manager().RequeueExpiredLeases(cmd.Context())
			for _, j := range jobs {
				if j.Cost > 0 {
					coordinator.Refund(cmd.Context(), j, j.Cost)
				}
				a.logger.Info("requeued", slog.String("job_id", j.ID.String()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d jobs\n", len(jobs))
			if err != nil {
				return err
			}

			n, err := a.manager().RepairLanes(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d lane entries\n", n)
			return err
		},
	}
}

func workersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List live workers and the sweep leader",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context(), false); err != nil {
				return err
			}
			workers, err := a.store.ListWorkers(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tHOST\tSTATE\tACTIVE\tCONCURRENCY\tLEADER\tLAST SEEN")
			for _, w := range workers {
				leader := ""
				if w.IsLeader {
					leader = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					w.ID, w.Hostname, w.State, w.ActiveJobs, w.Concurrency, leader,
					w.LastSeen.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

