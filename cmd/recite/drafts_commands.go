package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recite/internal/draftstore"
	"recite/internal/timing"
)

func newDraftsCommand(ctx *commandContext) *cobra.Command {
	draftsCmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and manage timing draft autosaves",
	}
	draftsCmd.AddCommand(newDraftsShowCommand(ctx))
	draftsCmd.AddCommand(newDraftsFlushCommand(ctx))
	draftsCmd.AddCommand(newDraftsClearCommand(ctx))
	return draftsCmd
}

func withDraftStore(ctx *commandContext, fn func(*draftstore.Store, string) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	debounce := time.Duration(cfg.Drafts.DebounceMs) * time.Millisecond
	store := draftstore.New(cfg.DraftPath(), cfg.DraftFallbackPath(), debounce, logger)
	defer store.Close()
	return fn(store, cfg.Drafts.Scope)
}

func newDraftsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <perspective-id>",
		Short: "Show the saved timing draft for a perspective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraftStore(ctx, func(store *draftstore.Store, scope string) error {
				entries, ok := store.Load(scope, args[0])
				if !ok {
					return fmt.Errorf("no draft for %s", args[0])
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Draft for %s: %d entries, %d marked\n",
					args[0], len(entries), timing.Marked(entries))
				for i, entry := range entries {
					if entry == nil {
						continue
					}
					fmt.Fprintf(out, "  %3d  %.3f", i, entry.Start)
					if entry.End > 0 {
						fmt.Fprintf(out, " .. %.3f", entry.End)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}

func newDraftsFlushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write any debounced draft changes to disk now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraftStore(ctx, func(store *draftstore.Store, _ string) error {
				store.Flush()
				fmt.Fprintln(cmd.OutOrStdout(), "Drafts flushed")
				return nil
			})
		},
	}
}

func newDraftsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <perspective-id>",
		Short: "Delete the saved draft for a perspective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDraftStore(ctx, func(store *draftstore.Store, scope string) error {
				store.Delete(scope, args[0])
				store.Flush()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared draft for %s\n", args[0])
				return nil
			})
		},
	}
}
