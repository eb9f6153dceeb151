package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldforge/internal/domain"
	"worldforge/internal/jobstore"
	"worldforge/internal/progress"
	"worldforge/internal/providers/world"
)

type ledgerCall struct {
	OwnerID string
	JobID   string
	Amount  int64
}

type fakeLedger struct {
	mu      sync.Mutex
	credits []ledgerCall
	debits  []ledgerCall
	err     error
}

func (f *fakeLedger) Debit(_ context.Context, ownerID, jobID string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debits = append(f.debits, ledgerCall{ownerID, jobID, amount})
	return 0, f.err
}

func (f *fakeLedger) Credit(_ context.Context, ownerID, jobID string, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits = append(f.credits, ledgerCall{ownerID, jobID, amount})
	return amount, f.err
}

func (f *fakeLedger) creditCalls() []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledgerCall(nil), f.credits...)
}

type fakeWorlds struct {
	mu           sync.Mutex
	submitted    []world.SubmitInput
	uploaded     [][]byte
	prepareErr   error
	submitErr    error
	pollErr      error
	fetchErr     error
	pollForever  bool
	pollInterval time.Duration
	resource     *world.Resource
	panicOnPoll  bool
}

func readyResource() *world.Resource {
	res := &world.Resource{ID: "world-1", Status: "ready"}
	res.Assets.Scene.FullResURL = "https://cdn/world-1/full.splat"
	res.Assets.Collider.URL = "https://cdn/world-1/collider.glb"
	return res
}

func (f *fakeWorlds) PrepareUpload(_ context.Context, filename string) (world.UploadTarget, error) {
	if f.prepareErr != nil {
		return world.UploadTarget{}, f.prepareErr
	}
	return world.UploadTarget{AssetID: "asset-1", URL: "https://upload/" + filename, Method: "PUT"}, nil
}

func (f *fakeWorlds) UploadBytes(_ context.Context, _ world.UploadTarget, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, data)
	return nil
}

func (f *fakeWorlds) SubmitGeneration(_ context.Context, input world.SubmitInput) (string, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, input)
	f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "op-1", nil
}

func (f *fakeWorlds) PollOperation(ctx context.Context, _ string, onPoll func(attempt, maxAttempts int)) (string, error) {
	if f.panicOnPoll {
		panic("poll exploded")
	}
	if f.pollErr != nil {
		return "", f.pollErr
	}
	if f.pollForever {
		interval := f.pollInterval
		if interval <= 0 {
			interval = 10 * time.Millisecond
		}
		for attempt := 1; ; attempt++ {
			if onPoll != nil {
				onPoll(attempt, 120)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	if onPoll != nil {
		onPoll(1, 120)
		onPoll(2, 120)
	}
	return "world-1", nil
}

func (f *fakeWorlds) FetchResult(_ context.Context, _ string) (*world.Resource, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.resource != nil {
		return f.resource, nil
	}
	return readyResource(), nil
}

func (f *fakeWorlds) submittedInputs() []world.SubmitInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]world.SubmitInput(nil), f.submitted...)
}

type fakeImages struct {
	url string
	err error
}

func (f *fakeImages) Generate(context.Context, string) (string, error) {
	return f.url, f.err
}

type fakeContent struct {
	brief string
	err   error
}

func (f *fakeContent) ShapeConcept(context.Context, string, domain.QualityTier) (string, error) {
	return f.brief, f.err
}

type fixture struct {
	store  *jobstore.Store
	hub    *progress.Hub
	ledger *fakeLedger
	worlds *fakeWorlds
	images *fakeImages
	orch   *Orchestrator
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:  jobstore.New(jobstore.Options{}),
		hub:    progress.NewHub(),
		ledger: &fakeLedger{},
		worlds: &fakeWorlds{},
		images: &fakeImages{url: "https://img/panorama.png"},
	}
	opts := Options{
		Store:   f.store,
		Hub:     f.hub,
		Ledger:  f.ledger,
		Worlds:  f.worlds,
		Images:  f.images,
		Content: &fakeContent{brief: "A sun-bleached forum."},
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.orch = New(opts)
	return f
}

func (f *fixture) createJob(job domain.Job) string {
	if job.Concept == "" {
		job.Concept = "ancient rome"
	}
	if job.Quality == "" {
		job.Quality = domain.QualityStandard
	}
	if job.Owner.ID == "" {
		job.Owner = domain.Owner{ID: "user-1"}
	}
	return f.store.Create(job)
}

func (f *fixture) runToTerminal(t *testing.T, jobID string) domain.Job {
	t.Helper()
	f.orch.Launch(jobID)
	require.Eventually(t, func() bool {
		job, ok := f.store.Get(jobID)
		return ok && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	job, _ := f.store.Get(jobID)
	return job
}

func TestHappyPathWithoutCallerImage(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.createJob(domain.Job{})

	events, cancel := f.hub.Subscribe(jobID)
	defer cancel()

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusComplete, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "https://cdn/world-1/full.splat", job.Result.SceneURL)
	assert.Equal(t, "https://cdn/world-1/collider.glb", job.Result.ColliderURL)
	assert.Equal(t, "A sun-bleached forum.", job.Result.SceneBrief)
	assert.Equal(t, "https://img/panorama.png", job.Result.PreviewImageURL)
	assert.False(t, job.CompletedAt.IsZero())

	// No refund on success.
	assert.Empty(t, f.ledger.creditCalls())

	// Synthesized image travels as a URL, with the quality-dependent prompt.
	inputs := f.worlds.submittedInputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "https://img/panorama.png", inputs[0].ImageURL)
	assert.Empty(t, inputs[0].AssetID)
	assert.Contains(t, inputs[0].Prompt, "ancient rome")
	assert.Contains(t, inputs[0].Prompt, "A sun-bleached forum.")

	// Stage sequence in order, percent monotonic, single terminal event.
	var stages []domain.JobStatus
	lastPercent := -1
	for ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, lastPercent, "percent must be non-decreasing")
		lastPercent = ev.Percent
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
		if ev.Stage.Terminal() {
			break
		}
	}
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusOrchestrating,
		domain.JobStatusGeneratingImage,
		domain.JobStatusCreatingWorld,
		domain.JobStatusLoadingResult,
		domain.JobStatusComplete,
	}, stages)
	assert.Equal(t, 100, lastPercent)
}

func TestCallerImageSkipsSynthesisAndUploads(t *testing.T) {
	f := newFixture(t, nil)
	f.images.err = errors.New("must not be called")
	f.images.url = ""
	jobID := f.createJob(domain.Job{ImageData: []byte{1, 2, 3}})

	job := f.runToTerminal(t, jobID)
	require.Equal(t, domain.JobStatusComplete, job.Status)

	require.Len(t, f.worlds.uploaded, 1)
	assert.Equal(t, []byte{1, 2, 3}, f.worlds.uploaded[0])
	inputs := f.worlds.submittedInputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "asset-1", inputs[0].AssetID)
	assert.Empty(t, inputs[0].ImageURL)
}

func TestWorldFailureRefundsExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.submitErr = errors.New("world service down")
	jobID := f.createJob(domain.Job{Quality: domain.QualityPremium})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "world service down")

	credits := f.ledger.creditCalls()
	require.Len(t, credits, 1)
	assert.Equal(t, ledgerCall{OwnerID: "user-1", JobID: jobID, Amount: domain.QualityPremium.CreditCost()}, credits[0])
}

func TestNoUsableAssetFailsDistinctly(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.resource = &world.Resource{ID: "world-1", Status: "ready"}
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Equal(t, domain.ErrNoUsableAsset.Error(), job.ErrorMessage)
	assert.Len(t, f.ledger.creditCalls(), 1)
}

func TestImageFailureFallsBackAndContinues(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.FallbackImageURL = "https://static/fallback.png"
	})
	f.images.err = errors.New("synthesis overloaded")
	f.images.url = ""
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusComplete, job.Status)
	inputs := f.worlds.submittedInputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "https://static/fallback.png", inputs[0].ImageURL)
	assert.Empty(t, f.ledger.creditCalls())
}

func TestImageFailureWithoutFallbackIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.images.err = errors.New("synthesis overloaded")
	f.images.url = ""
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Equal(t, domain.ErrMissingImage.Error(), job.ErrorMessage)
	assert.Len(t, f.ledger.creditCalls(), 1)
}

func TestContentFailureDegradesToEmptyBrief(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Content = &fakeContent{err: errors.New("content service unreachable")}
	})
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusComplete, job.Status)
	assert.Empty(t, job.Result.SceneBrief)
}

func TestPrivilegedOwnerNeverTouchesLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.submitErr = errors.New("world service down")
	jobID := f.createJob(domain.Job{Owner: domain.Owner{ID: "admin", Privileged: true}})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Empty(t, f.ledger.creditCalls())
}

func TestCancellationDuringPollLoop(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.pollForever = true
	f.worlds.pollInterval = 20 * time.Millisecond
	jobID := f.createJob(domain.Job{})

	f.orch.Launch(jobID)

	// Wait until the pipeline is inside creating_world before cancelling.
	require.Eventually(t, func() bool {
		job, _ := f.store.Get(jobID)
		return job.Status == domain.JobStatusCreatingWorld
	}, 5*time.Second, 5*time.Millisecond)

	start := time.Now()
	f.orch.Cancel(jobID)
	require.Eventually(t, func() bool {
		job, _ := f.store.Get(jobID)
		return job.Status == domain.JobStatusCancelled
	}, time.Second, 5*time.Millisecond)

	// Cancellation lands within roughly one poll interval, not the
	// full attempt ceiling.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	// Policy: no refund on cancellation.
	assert.Empty(t, f.ledger.creditCalls())
}

func TestCancelUnknownOrTerminalJobIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	jobID := f.createJob(domain.Job{})
	job := f.runToTerminal(t, jobID)
	require.Equal(t, domain.JobStatusComplete, job.Status)

	f.orch.Cancel(jobID)
	f.orch.Cancel("unknown")

	again, _ := f.store.Get(jobID)
	assert.Equal(t, domain.JobStatusComplete, again.Status)
}

func TestPanicBecomesJobErrorWithRefund(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.panicOnPoll = true
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "internal error")
	assert.Len(t, f.ledger.creditCalls(), 1)
}

func TestPollTimeoutMessageDistinguishesTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.worlds.pollErr = domain.ErrOperationTimeout
	jobID := f.createJob(domain.Job{})

	job := f.runToTerminal(t, jobID)

	require.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "timed out")
}

func TestPromptScalesWithQuality(t *testing.T) {
	draft := buildWorldPrompt("a coral reef", domain.QualityDraft, "")
	premium := buildWorldPrompt("a coral reef", domain.QualityPremium, "")
	assert.Contains(t, draft, "small")
	assert.Contains(t, premium, "vast")
	assert.Greater(t, len(premium), len(draft))
}
