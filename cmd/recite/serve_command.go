package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"recite/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bindFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the timing-persistence and upload server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if strings.TrimSpace(bindFlag) != "" {
				cfg.Paths.APIBind = bindFlag
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(sigCtx); err != nil {
				srv.Stop()
				return err
			}
			<-sigCtx.Done()
			srv.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&bindFlag, "bind", "", "Listen address (overrides paths.api_bind)")
	return cmd
}
