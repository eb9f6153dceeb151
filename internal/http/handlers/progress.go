package handlers

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"worldforge/internal/domain"
)

// JobProgress streams progress events for one job over a websocket. On
// subscribe the current job state is sent as a synthetic snapshot event, so
// a client that attached after some stages already ran still sees where the
// job stands; historical events are not replayed.
func (a *App) JobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := a.Store.Get(jobID)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("handlers: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Subscribe before reading the snapshot so no event published in
	// between is lost.
	events, cancel := a.Hub.Subscribe(jobID)
	defer cancel()

	snapshot := domain.ProgressEvent{
		JobID:     job.ID,
		Stage:     job.Status,
		Percent:   stagePercent(job.Status),
		Message:   string(job.Status),
		Timestamp: time.Now(),
	}
	if err := wsjson.Write(ctx, conn, snapshot); err != nil {
		return
	}
	if job.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "job already terminal")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if ev.Stage.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "job terminal")
				return
			}
		}
	}
}

// stagePercent maps a status to the lower bound of its percent band, used
// only for snapshot events.
func stagePercent(status domain.JobStatus) int {
	switch status {
	case domain.JobStatusQueued, domain.JobStatusOrchestrating:
		return 0
	case domain.JobStatusGeneratingImage:
		return 15
	case domain.JobStatusCreatingWorld:
		return 40
	case domain.JobStatusLoadingResult:
		return 90
	case domain.JobStatusComplete:
		return 100
	default:
		return 0
	}
}
