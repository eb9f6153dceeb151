package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"worldforge/internal/domain"
	"worldforge/internal/middleware"
)

const maxImageBytes = 8 << 20

type startRequest struct {
	Concept  string `json:"concept"`
	Quality  string `json:"quality"`
	ImageURL string `json:"image_url"`
}

type startResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	CreditsRemaining int64  `json:"credits_remaining"`
}

// StartJob validates input, admits the request, debits the ledger and
// launches the pipeline detached, returning the job id immediately. Once
// the job is accepted, failures surface only through status polls and
// progress events, never through this call.
func (a *App) StartJob(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	req, imageData, err := a.decodeStartRequest(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	concept := strings.TrimSpace(req.Concept)
	if concept == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "concept is required")
		return
	}
	quality := domain.QualityTier(req.Quality)
	if req.Quality == "" {
		quality = domain.QualityStandard
	}
	if !quality.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported quality tier")
		return
	}

	if !owner.Privileged {
		decision := a.Limiter.Admit(owner.ID)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			a.json(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limited",
				"message":     "too many generation requests",
				"retry_after": retryAfter,
			})
			return
		}
	}

	// Debit before work starts; a failed debit means the job is never
	// created. The id is assigned up front so the ledger can reference it.
	jobID := uuid.NewString()
	var remaining int64
	if !owner.Privileged {
		remaining, err = a.Ledger.Debit(r.Context(), owner.ID, jobID, quality.CreditCost())
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this generation")
				return
			}
			a.Logger.Error().Err(err).Str("owner", owner.ID).Msg("handlers: ledger debit failed")
			a.error(w, http.StatusBadGateway, "ledger_unavailable", "credit ledger unavailable")
			return
		}
	}

	a.Store.Create(domain.Job{
		ID:        jobID,
		Owner:     owner,
		Concept:   concept,
		Quality:   quality,
		ImageURL:  strings.TrimSpace(req.ImageURL),
		ImageData: imageData,
		Locale:    middleware.LocaleFromContext(r.Context()),
	})

	a.Orchestrator.Launch(jobID)
	a.Logger.Info().
		Str("job_id", jobID).
		Str("owner", owner.ID).
		Str("quality", string(quality)).
		Msg("handlers: pipeline started")
	a.json(w, http.StatusAccepted, startResponse{JobID: jobID, Status: "started", CreditsRemaining: remaining})
}

func (a *App) decodeStartRequest(r *http.Request) (startRequest, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			return startRequest{}, nil, errors.New("invalid multipart payload")
		}
		req := startRequest{
			Concept: r.FormValue("concept"),
			Quality: r.FormValue("quality"),
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return req, nil, nil
			}
			return startRequest{}, nil, errors.New("invalid image upload")
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
		if err != nil {
			return startRequest{}, nil, errors.New("failed to read image upload")
		}
		return req, data, nil
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return startRequest{}, nil, errors.New("invalid payload")
	}
	return req, nil, nil
}

// JobStatus returns the full job record.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := a.Store.Get(jobID)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// CancelJob requests cooperative cancellation. The ack is idempotent: a job
// already terminal still gets a 200.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, ok := a.Store.Get(jobID); !ok {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.Orchestrator.Cancel(jobID)
	a.json(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

func jobView(job domain.Job) map[string]any {
	view := map[string]any{
		"id":         job.ID,
		"owner":      job.Owner.ID,
		"concept":    job.Concept,
		"quality":    job.Quality,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	}
	if job.Result != nil {
		view["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		view["error"] = job.ErrorMessage
	}
	if !job.CompletedAt.IsZero() {
		view["completed_at"] = job.CompletedAt
	}
	return view
}
