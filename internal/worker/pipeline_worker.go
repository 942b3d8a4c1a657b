package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
)

// PipelineWorker executes queued video jobs.
type PipelineWorker struct {
	runner service.Runner
	logger zerolog.Logger
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(runner service.Runner, logger zerolog.Logger) *PipelineWorker {
	return &PipelineWorker{
		runner: runner,
		logger: logging.Component(logger, "pipeline_worker"),
	}
}

// ProcessTask runs one job. Failures are already on the progress record,
// so they are never retried.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var spec model.JobSpec
	if err := json.Unmarshal(t.Payload(), &spec); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if spec.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	log := w.logger.With().Str("job_id", spec.JobID).Logger()
	log.Info().Msg("starting video job")

	finalPath, err := w.runner.Run(ctx, spec)
	if err != nil {
		log.Warn().Err(err).Msg("video job failed")
		return fmt.Errorf("video job %s: %v: %w", spec.JobID, err, asynq.SkipRetry)
	}

	log.Info().Str("final_video_path", finalPath).Msg("video job completed")
	return nil
}

// Register adds the worker's handlers to mux.
func (w *PipelineWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeVideoGenerate, w.ProcessTask)
}
