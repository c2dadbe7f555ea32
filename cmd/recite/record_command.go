package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recite/internal/capture"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/midicontrol"
	"recite/internal/orchestrator"
	"recite/internal/words"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var textFlag string
	var textFile string
	var returnPath string
	var playbackMode string

	cmd := &cobra.Command{
		Use:   "record <perspective-id>",
		Short: "Capture a take and mark word timings live",
		Long: `Capture a spoken take for one perspective. While recording, press Enter to
mark the next word at the current moment, type "u" to undo the last mark,
and "q" (or Ctrl-C) to stop. A configured MIDI controller can mark, undo,
and nudge as well. The finished take is queued durably and committed:
transcoded, uploaded, and persisted with the marked timings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perspectiveID := args[0]

			text, err := readText(textFlag, textFile)
			if err != nil {
				return err
			}
			wordList := words.List(text)
			if len(wordList) == 0 {
				return fmt.Errorf("no words to mark; provide text with --text or --text-file")
			}

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

			done := make(chan struct{})
			var committed orchestrator.CommitResult
			var commitErr error
			pipeline.orch.SetOnCommitted(func(result orchestrator.CommitResult, err error) {
				committed, commitErr = result, err
				close(done)
			})

			session := capture.NewSession(cfg, logger, pipeline.orch.OnCapture)
			defer session.Close()
			pipeline.orch.SetRecorder(session)

			started := time.Now()
			elapsed := func() float64 { return time.Since(started).Seconds() }
			mark := func() {
				pipeline.coord.SamplePlayback(perspectiveID, elapsed())
				pipeline.coord.Mark()
			}

			if cfg.Controller.Enabled {
				controller, err := midicontrol.New(cfg, logger, midicontrol.Ports{
					Mark:  mark,
					Undo:  pipeline.coord.Undo,
					Nudge: pipeline.coord.Nudge,
				})
				if err != nil {
					logger.Warn("midi controller unavailable", logging.Error(err))
				} else {
					controller.Start()
					defer controller.Close()
				}
			}

			opts := orchestrator.StartOptions{ReturnPath: returnPath, PlaybackMode: playbackMode}
			if err := pipeline.orch.Start(perspectiveID, wordList, opts); err != nil {
				return err
			}
			started = time.Now()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording %s (%d words). Enter=mark, u=undo, q=stop.\n",
				perspectiveID, len(wordList))

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Stop is synchronous: the take, commit, and OnCommitted all run
			// before StopRecording returns, so "stopped but no done signal"
			// means the take was empty.
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					switch strings.TrimSpace(scanner.Text()) {
					case "":
						mark()
					case "u":
						pipeline.coord.Undo()
					case "q":
						pipeline.orch.StopRecording()
						return
					}
				}
				pipeline.orch.StopRecording()
			}()

			select {
			case <-sigCtx.Done():
				pipeline.orch.StopRecording()
			case <-stopped:
			case <-done:
			}

			select {
			case <-done:
				return reportCommit(ctx, cmd, committed, commitErr)
			default:
				fmt.Fprintln(out, "Nothing captured; no take queued.")
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&textFlag, "text", "", "Text of the perspective to mark against")
	cmd.Flags().StringVar(&textFile, "text-file", "", "File holding the perspective text")
	cmd.Flags().StringVar(&returnPath, "return-path", "", "Path to report after a successful commit")
	cmd.Flags().StringVar(&playbackMode, "playback-mode", "", "Playback mode recorded with the take")
	return cmd
}

func readText(text, file string) (string, error) {
	if text != "" {
		return text, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read text file: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}

// reportCommit renders the outcome of a commit attempt, distinguishing the
// resumable paused state from terminal failure.
func reportCommit(ctx *commandContext, cmd *cobra.Command, result orchestrator.CommitResult, err error) error {
	out := cmd.OutOrStdout()

	if err != nil {
		if faults.Aborted(err) {
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]string{
					"status":    "paused",
					"pendingId": result.PendingID,
				})
			}
			fmt.Fprintf(out, "Commit paused; resume with `recite commit %s`\n", result.PendingID)
			return nil
		}
		if faults.Unauthorized(err) {
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]string{
					"status":    "unauthorized",
					"pendingId": result.PendingID,
				})
			}
			fmt.Fprintf(out, "Commit unauthorized; set upload.token, then retry with `recite commit %s`\n",
				result.PendingID)
			return nil
		}
		if result.PendingID != "" {
			fmt.Fprintf(out, "Commit failed; retry with `recite commit %s`\n", result.PendingID)
		}
		return err
	}

	if ctx.jsonOutput() {
		return writeJSON(cmd, map[string]string{
			"status":     "saved",
			"audioRef":   result.AudioRef,
			"returnPath": result.ReturnPath,
		})
	}
	fmt.Fprintf(out, "Saved %s", result.PerspectiveID)
	if result.ReturnPath != "" {
		fmt.Fprintf(out, " -> %s", result.ReturnPath)
	}
	fmt.Fprintln(out)
	return nil
}
