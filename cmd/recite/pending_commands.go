package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recite/internal/pendingstore"
	"recite/internal/timing"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect the durable pending-recording queue",
	}
	pendingCmd.AddCommand(newPendingListCommand(ctx))
	pendingCmd.AddCommand(newPendingShowCommand(ctx))
	pendingCmd.AddCommand(newPendingClearCommand(ctx))
	return pendingCmd
}

func withPendingStore(ctx *commandContext, fn func(*pendingstore.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := pendingstore.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newPendingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending recordings awaiting commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPendingStore(ctx, func(store *pendingstore.Store) error {
				records, err := store.List(cmd.Context())
				if err != nil {
					return err
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, records)
				}

				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending recordings")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.ID,
						rec.PerspectiveID,
						fmt.Sprintf("%d", len(rec.Words)),
						fmt.Sprintf("%d", timing.Marked(rec.Timings)),
						formatDuration(rec.Duration),
						rec.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "PERSPECTIVE", "WORDS", "MARKED", "DURATION", "CREATED"},
					rows,
					2, 3, 4,
				))
				return nil
			})
		},
	}
}

func newPendingShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <pending-id>",
		Short: "Show one pending recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPendingStore(ctx, func(store *pendingstore.Store) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:           %s\n", rec.ID)
				fmt.Fprintf(out, "Perspective:  %s\n", rec.PerspectiveID)
				fmt.Fprintf(out, "Payload:      %d bytes (%s)\n", len(rec.Payload), rec.MimeType)
				fmt.Fprintf(out, "Words:        %d\n", len(rec.Words))
				fmt.Fprintf(out, "Marked:       %d\n", timing.Marked(rec.Timings))
				fmt.Fprintf(out, "Duration:     %s\n", formatDuration(rec.Duration))
				fmt.Fprintf(out, "Return path:  %s\n", rec.ReturnPath)
				fmt.Fprintf(out, "Created:      %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newPendingClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <pending-id>",
		Short: "Drop a pending recording without committing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPendingStore(ctx, func(store *pendingstore.Store) error {
				if err := store.Clear(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
				return nil
			})
		},
	}
}

func formatDuration(seconds *float64) string {
	if seconds == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fs", *seconds)
}
