package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/app"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var videoID, brief string
	var characters []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one video job in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// Foreground runs never hand the job to a queue
			cfg.Dispatch.Mode = config.DispatchInProcess

			out := &lockedWriter{w: cmd.OutOrStdout()}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Server.Env, cfg.Server.LogLevel)

			a, err := app.New(cmd.Context(), cfg, logger, progressPrinter(out))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Shutdown(shutdownCtx)
			}()

			job, err := a.Service.CreateAndStart(cmd.Context(), model.JobSpec{
				JobID:          videoID,
				ParticipantIDs: characters,
				Brief:          brief,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "video %s started\n", job.ID())

			select {
			case <-job.Done():
			case <-cmd.Context().Done():
				_ = a.Service.Cancel(context.Background(), job.ID())
				<-job.Done()
			}

			rec, err := a.Service.GetProgress(context.Background(), job.ID())
			if err != nil {
				return err
			}
			if rec.Stage == model.StageFailed {
				return fmt.Errorf("video %s failed (%s): %s", job.ID(), rec.ErrorKind, rec.Error)
			}
			fmt.Fprintf(out, "final video: %s\n", rec.Artifacts.FinalVideoPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&videoID, "id", "", "Video ID (generated when empty)")
	cmd.Flags().StringSliceVar(&characters, "characters", nil, "Participant IDs appearing in the video")
	cmd.Flags().StringVar(&brief, "brief", "", "Short description of the story")
	_ = cmd.MarkFlagRequired("characters")
	_ = cmd.MarkFlagRequired("brief")

	return cmd
}

// lockedWriter lets pipeline goroutines and the command share one output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func progressPrinter(w io.Writer) pipeline.Observer {
	return pipeline.ObserverFunc(func(e pipeline.Event) {
		switch e.Type {
		case pipeline.EventStageStarted:
			fmt.Fprintf(w, "[%3d%%] %s\n", e.Record.Progress, e.Stage)
		case pipeline.EventJobFailed:
			fmt.Fprintf(w, "[fail] %s\n", e.Record.Error)
		case pipeline.EventJobCompleted:
			fmt.Fprintf(w, "[%3d%%] %s\n", e.Record.Progress, e.Record.Stage)
		}
	})
}
