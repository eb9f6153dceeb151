// Package pipeline drives the generation state machine. One orchestrator
// goroutine owns each job from launch to its single terminal state, calling
// the external services in sequence and reconciling the credit ledger on
// failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"worldforge/internal/domain"
	"worldforge/internal/infra"
	"worldforge/internal/jobstore"
	"worldforge/internal/ledger"
	"worldforge/internal/progress"
	"worldforge/internal/providers/content"
	"worldforge/internal/providers/image"
	"worldforge/internal/providers/world"
)

// Stage boundaries map to fixed percent ranges so observed progress is
// monotonically non-decreasing across the job lifetime.
const (
	percentOrchestrating = 0
	percentImageStage    = 15
	percentWorldStage    = 40
	percentLoadResult    = 90
	percentComplete      = 100
)

const refundTimeout = 10 * time.Second

// Options wires the orchestrator's collaborators.
type Options struct {
	Store            *jobstore.Store
	Hub              *progress.Hub
	Ledger           ledger.Ledger
	Worlds           world.API
	Images           image.Generator
	Content          content.Shaper
	Logger           infra.Logger
	MaxConcurrent    int64
	FallbackImageURL string
}

// Orchestrator sequences pipeline stages for detached generation jobs.
type Orchestrator struct {
	store            *jobstore.Store
	hub              *progress.Hub
	ledger           ledger.Ledger
	worlds           world.API
	images           image.Generator
	content          content.Shaper
	logger           infra.Logger
	sem              *semaphore.Weighted
	fallbackImageURL string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. MaxConcurrent bounds how many pipelines run
// at once; launches beyond the bound stay queued until a slot frees.
func New(opts Options) *Orchestrator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Orchestrator{
		store:            opts.Store,
		hub:              opts.Hub,
		ledger:           opts.Ledger,
		worlds:           opts.Worlds,
		images:           opts.Images,
		content:          opts.Content,
		logger:           opts.Logger,
		sem:              semaphore.NewWeighted(maxConcurrent),
		fallbackImageURL: opts.FallbackImageURL,
		cancels:          make(map[string]context.CancelFunc),
	}
}

// Launch runs the pipeline for an already-created job, detached from the
// request that started it. The caller has debited the ledger beforehand.
func (o *Orchestrator) Launch(jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.forget(jobID)

		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.finishCancelled(jobID, percentOrchestrating)
			return
		}
		defer o.sem.Release(1)
		o.run(ctx, jobID)
	}()
}

// Cancel requests cooperative cancellation. The orchestrator observes it at
// stage boundaries and between poll iterations; an in-flight network call
// still completes first. Cancelling an unknown or terminal job is a no-op.
func (o *Orchestrator) Cancel(jobID string) {
	o.mu.Lock()
	cancel := o.cancels[jobID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every launched pipeline has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) forget(jobID string) {
	o.mu.Lock()
	cancel := o.cancels[jobID]
	delete(o.cancels, jobID)
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID string) {
	job, ok := o.store.Get(jobID)
	if !ok {
		o.logger.Error().Str("job_id", jobID).Msg("pipeline: launched for unknown job")
		return
	}
	lastPercent := percentOrchestrating

	// The outermost task boundary: an unexpected panic becomes a generic
	// job error with a refund attempt, never a process crash.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("job_id", jobID).Any("panic", r).Msg("pipeline: recovered from panic")
			o.finishError(&job, lastPercent, fmt.Errorf("internal error: %v", r))
		}
	}()

	// Stage: orchestrating. Concept shaping is decorative, so an
	// unreachable content service degrades to an empty brief.
	o.enterStage(&job, domain.JobStatusOrchestrating, &lastPercent, percentOrchestrating)
	brief := ""
	if o.content != nil {
		shaped, err := o.content.ShapeConcept(ctx, job.Concept, job.Quality)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: concept shaping degraded")
		} else {
			brief = shaped
		}
	}

	if o.observeCancel(ctx, &job, lastPercent) {
		return
	}

	// Stage: generating_image. A caller-supplied image skips synthesis;
	// synthesis failure is non-fatal while a fallback source exists.
	o.enterStage(&job, domain.JobStatusGeneratingImage, &lastPercent, percentImageStage)
	imageURL := job.ImageURL
	imageData := job.ImageData
	if imageURL == "" && len(imageData) == 0 && o.images != nil {
		url, err := o.images.Generate(ctx, buildImagePrompt(job.Concept, job.Quality))
		switch {
		case err == nil:
			imageURL = url
		case ctx.Err() != nil:
			o.finishCancelled(job.ID, lastPercent)
			return
		default:
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: image synthesis failed, using fallback")
			imageURL = o.fallbackImageURL
		}
	}
	if imageURL == "" && len(imageData) == 0 {
		imageURL = o.fallbackImageURL
	}
	// Precondition for creating_world: the pipeline cannot proceed
	// without an image by stage exit.
	if imageURL == "" && len(imageData) == 0 {
		o.finishError(&job, lastPercent, domain.ErrMissingImage)
		return
	}

	if o.observeCancel(ctx, &job, lastPercent) {
		return
	}

	// Stage: creating_world. Full external generation protocol; any
	// failure here is fatal.
	o.enterStage(&job, domain.JobStatusCreatingWorld, &lastPercent, percentWorldStage)
	input := world.SubmitInput{Prompt: buildWorldPrompt(job.Concept, job.Quality, brief)}
	if len(imageData) > 0 {
		target, err := o.worlds.PrepareUpload(ctx, job.ID+".png")
		if err != nil {
			o.finish(ctx, &job, lastPercent, err)
			return
		}
		if err := o.worlds.UploadBytes(ctx, target, imageData); err != nil {
			o.finish(ctx, &job, lastPercent, err)
			return
		}
		input.AssetID = target.AssetID
	} else {
		input.ImageURL = imageURL
	}

	handle, err := o.worlds.SubmitGeneration(ctx, input)
	if err != nil {
		o.finish(ctx, &job, lastPercent, err)
		return
	}

	resultID, err := o.worlds.PollOperation(ctx, handle, func(attempt, maxAttempts int) {
		pct := percentWorldStage + attempt*(percentLoadResult-percentWorldStage-1)/maxAttempts
		if pct > lastPercent {
			lastPercent = pct
			o.publish(&job, domain.JobStatusCreatingWorld, pct, nil)
		}
	})
	if err != nil {
		o.finish(ctx, &job, lastPercent, err)
		return
	}

	resource, err := o.worlds.FetchResult(ctx, resultID)
	if err != nil {
		o.finish(ctx, &job, lastPercent, err)
		return
	}
	assets, err := world.ExtractSceneAssets(resource)
	if err != nil {
		o.finish(ctx, &job, lastPercent, err)
		return
	}

	if o.observeCancel(ctx, &job, lastPercent) {
		return
	}

	// Stage: loading_result. Bookkeeping only; always succeeds once reached.
	o.enterStage(&job, domain.JobStatusLoadingResult, &lastPercent, percentLoadResult)
	result := &domain.JobResult{
		SceneURL:        assets.SceneURL,
		ColliderURL:     assets.ColliderURL,
		LowResSceneURL:  assets.LowResSceneURL,
		PreviewImageURL: assets.PreviewImageURL,
		SceneBrief:      brief,
	}
	if result.PreviewImageURL == "" {
		result.PreviewImageURL = imageURL
	}

	if err := o.store.Merge(job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusComplete
		j.Result = result
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: complete merge failed")
		return
	}
	lastPercent = percentComplete
	o.publish(&job, domain.JobStatusComplete, percentComplete, map[string]any{
		"scene_title": sceneTitle(job.Concept),
		"scene_url":   result.SceneURL,
	})
	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner.ID).
		Str("quality", string(job.Quality)).
		Msg("pipeline: job complete")
}

func (o *Orchestrator) enterStage(job *domain.Job, stage domain.JobStatus, lastPercent *int, percent int) {
	if err := o.store.Merge(job.ID, func(j *domain.Job) {
		j.Status = stage
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("stage", string(stage)).Msg("pipeline: stage merge failed")
		return
	}
	if percent > *lastPercent {
		*lastPercent = percent
	}
	o.logger.Debug().Str("job_id", job.ID).Str("stage", string(stage)).Msg("pipeline: entering stage")
	o.publish(job, stage, *lastPercent, nil)
}

// observeCancel checks the cooperative cancellation flag at a stage
// boundary and settles the job when set.
func (o *Orchestrator) observeCancel(ctx context.Context, job *domain.Job, lastPercent int) bool {
	if ctx.Err() == nil {
		return false
	}
	o.finishCancelled(job.ID, lastPercent)
	return true
}

// finish routes a stage failure to the cancelled or error terminal
// depending on whether the failure was caused by cancellation.
func (o *Orchestrator) finish(ctx context.Context, job *domain.Job, lastPercent int, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		o.finishCancelled(job.ID, lastPercent)
		return
	}
	o.finishError(job, lastPercent, err)
}

// finishError marks the job failed, refunds the debit for non-privileged
// owners and publishes a terminal error event. The refund is best-effort: a
// failed refund call is logged and the job stays in error.
func (o *Orchestrator) finishError(job *domain.Job, lastPercent int, cause error) {
	if err := o.store.Merge(job.ID, func(j *domain.Job) {
		j.Status = domain.JobStatusError
		j.ErrorMessage = cause.Error()
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("pipeline: error merge failed")
		return
	}
	o.logger.Error().Err(cause).Str("job_id", job.ID).Msg("pipeline: job failed")

	if !job.Owner.Privileged {
		ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
		defer cancel()
		amount := job.Quality.CreditCost()
		if _, err := o.ledger.Credit(ctx, job.Owner.ID, job.ID, amount); err != nil {
			o.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("owner", job.Owner.ID).
				Int64("amount", amount).
				Msg("pipeline: refund failed")
		}
	}

	o.hub.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		Stage:     domain.JobStatusError,
		Percent:   lastPercent,
		Message:   stageMessage(domain.JobStatusError, job.Locale),
		Timestamp: time.Now(),
		Payload:   map[string]any{"error": cause.Error()},
	})
}

// finishCancelled marks the job cancelled and publishes a terminal event.
// Cancellation does not refund: the debit paid for admission and external
// work may already have been issued.
func (o *Orchestrator) finishCancelled(jobID string, lastPercent int) {
	job, ok := o.store.Get(jobID)
	if !ok {
		return
	}
	if err := o.store.Merge(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusCancelled
	}); err != nil {
		return
	}
	o.logger.Info().Str("job_id", jobID).Msg("pipeline: job cancelled")
	o.hub.Publish(domain.ProgressEvent{
		JobID:     jobID,
		Stage:     domain.JobStatusCancelled,
		Percent:   lastPercent,
		Message:   stageMessage(domain.JobStatusCancelled, job.Locale),
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) publish(job *domain.Job, stage domain.JobStatus, percent int, payload map[string]any) {
	o.hub.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		Stage:     stage,
		Percent:   percent,
		Message:   stageMessage(stage, job.Locale),
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
