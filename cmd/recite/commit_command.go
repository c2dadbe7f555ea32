package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newCommitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "commit <pending-id>",
		Short: "Run or resume the commit phase for a pending recording",
		Long: `Load a pending recording and run the durable phase: transcode, upload,
persist, then clear the entry. The phase is idempotent; an interrupted
commit can be re-run with the same pending id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			pipeline, err := buildPipeline(cfg, logger)
			if err != nil {
				return err
			}
			defer pipeline.close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := pipeline.orch.Commit(sigCtx, args[0])
			return reportCommit(ctx, cmd, result, err)
		},
	}
}
