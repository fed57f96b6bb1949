package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/proteinops/foldy/pkg/archive"
	"github.com/proteinops/foldy/pkg/metrics"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/segment"
	"github.com/proteinops/foldy/pkg/store"
)

// createJobHandler handles POST /api/v1/jobs.
func (s *Server) createJobHandler(c *echo.Context) error {
	var req CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if (req.Sequence == "") == (req.FastaContent == "") {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "exactly one of sequence or fastaContent must be provided",
		})
	}

	raw := req.Sequence
	if req.FastaContent != "" {
		seq, err := models.SequenceFromFASTA(req.FastaContent)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		raw = seq
	}

	sequence := models.NormalizeSequence(raw)
	if details := models.ValidateSequence(sequence); len(details) > 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid sequence",
			Details: details,
		})
	}

	ctx := c.Request().Context()
	jobID := models.NewJobID()
	now := time.Now().UnixMilli()

	// Meta first, state second, opening event third: a visible state hash
	// always has its sequence behind it.
	if err := s.meta.Create(ctx, jobID, store.JobMeta{
		Sequence:       sequence,
		ConversationID: req.ConversationID,
		CreatedAt:      now,
	}); err != nil {
		return mapStoreError(err)
	}
	if err := s.state.Create(ctx, jobID, store.JobState{CreatedAt: now}); err != nil {
		return mapStoreError(err)
	}
	queued := segment.QueuedEvent(jobID)
	if err := s.queue.Push(ctx, &queued); err != nil {
		// The stream driver re-seeds an empty log, so creation stands.
		s.logger.Warn("Failed to append queued event", "job_id", jobID, "error", err)
	} else {
		metrics.EventsPublished.WithLabelValues(string(queued.EventType)).Inc()
	}

	metrics.JobsCreated.Inc()
	s.logger.Info("Job created",
		"job_id", jobID,
		"sequence_length", len(sequence))

	return c.JSON(http.StatusCreated, &CreateJobResponse{
		JobID: jobID,
		Job: &models.Job{
			JobID:          jobID,
			Sequence:       sequence,
			ConversationID: req.ConversationID,
			Status:         models.StatusQueued,
			Stage:          models.StageQueued,
			Progress:       0,
			Version:        1,
			CreatedAt:      now,
		},
	})
}

// registerSequenceHandler handles POST /api/v1/jobs/:id/sequence. It
// stores a validated sequence in meta so a stream opened later on any
// instance can pick it up.
func (s *Server) registerSequenceHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if !models.ValidJobID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	var req RegisterSequenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.JobID != "" && req.JobID != jobID {
		return echo.NewHTTPError(http.StatusBadRequest, "body jobId does not match path")
	}

	sequence := models.NormalizeSequence(req.Sequence)
	if details := models.ValidateSequence(sequence); len(details) > 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid sequence",
			Details: details,
		})
	}

	ctx := c.Request().Context()
	exists, err := s.state.Exists(ctx, jobID)
	if err != nil {
		return mapStoreError(err)
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}

	if err := s.meta.SetSequence(ctx, jobID, sequence); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &RegisterSequenceResponse{JobID: jobID, OK: true})
}

// getStateHandler handles GET /api/v1/jobs/:id/state. A KV miss falls
// back to the archive: an archived job is rehydrated into the store so
// subsequent reads are served from the hot path again.
func (s *Server) getStateHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if !models.ValidJobID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	ctx := c.Request().Context()
	st, err := s.state.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) && s.arch != nil {
		st, err = s.hydrateFromArchive(ctx, jobID)
	}
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &StateResponse{JobID: jobID, State: st})
}

// hydrateFromArchive restores an expired job's state hash from the
// durable mirror.
func (s *Server) hydrateFromArchive(ctx context.Context, jobID string) (*store.JobState, error) {
	aj, err := s.arch.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	st := &store.JobState{
		Status:      models.JobStatus(aj.Status),
		Stage:       models.JobStage(aj.Stage),
		Progress:    aj.Progress,
		Message:     aj.Message,
		Version:     aj.Version,
		CreatedAt:   aj.CreatedAt,
		UpdatedAt:   aj.UpdatedAt,
		CompletedAt: aj.CompletedAt,
	}

	if err := s.state.Create(ctx, jobID, *st); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"status":  string(st.Status),
		"stage":   string(st.Stage),
		"version": st.Version,
	}
	if st.CompletedAt != 0 {
		fields["completed_at"] = st.CompletedAt
	}
	if err := s.state.Set(ctx, jobID, fields); err != nil {
		return nil, err
	}

	s.logger.Info("Rehydrated job state from archive", "job_id", jobID)
	return st, nil
}

// getEventsHandler handles GET /api/v1/jobs/:id/events with offset and
// limit query parameters.
func (s *Server) getEventsHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if !models.ValidJobID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	var offset int64
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		offset = n
	}
	var limit int
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	ctx := c.Request().Context()
	total, err := s.queue.Count(ctx, jobID)
	if err != nil {
		return mapStoreError(err)
	}
	if total == 0 {
		exists, err := s.state.Exists(ctx, jobID)
		if err != nil {
			return mapStoreError(err)
		}
		if !exists {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
	}

	events, err := s.queue.FromOffset(ctx, jobID, offset)
	if err != nil {
		return mapStoreError(err)
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []models.Event{}
	}

	return c.JSON(http.StatusOK, &EventsResponse{
		JobID:  jobID,
		Count:  len(events),
		Total:  total,
		Offset: offset,
		Events: events,
	})
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel. Marking the
// state is authoritative; the reasoner interrupt is best-effort.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if !models.ValidJobID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	ctx := c.Request().Context()
	err := s.state.MarkCanceled(ctx, jobID, "Job canceled by user")
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if errors.Is(err, store.ErrAlreadyTerminal) {
		st, gerr := s.state.Get(ctx, jobID)
		if gerr != nil {
			return mapStoreError(gerr)
		}
		metrics.CancelRequests.WithLabelValues("already_terminal").Inc()
		return c.JSON(http.StatusOK, &CancelResponse{OK: false, JobID: jobID, Status: st.Status})
	}
	if err != nil {
		return mapStoreError(err)
	}

	// Interrupt the reasoner if a live session is on record, then drop
	// the record so repeated cancels don't fire duplicate interrupts.
	if session, serr := s.sessions.Get(ctx, jobID); serr == nil && session.BackendURL != "" {
		ictx, cancel := context.WithTimeout(context.Background(), s.cfg.Reasoner.InterruptTimeout)
		if ierr := s.interrupter.Interrupt(ictx, *session); ierr != nil {
			s.logger.Warn("Reasoner interrupt failed", "job_id", jobID, "error", ierr)
		}
		cancel()
	}
	if derr := s.sessions.Delete(ctx, jobID); derr != nil {
		s.logger.Warn("Failed to delete reasoner session record", "job_id", jobID, "error", derr)
	}

	metrics.CancelRequests.WithLabelValues("canceled").Inc()
	metrics.JobsCompleted.WithLabelValues(string(models.StatusCanceled)).Inc()
	s.logger.Info("Job canceled", "job_id", jobID)
	s.archiveTerminal(jobID)

	return c.JSON(http.StatusOK, &CancelResponse{OK: true, JobID: jobID, Status: models.StatusCanceled})
}

// archiveTerminal mirrors a job's terminal state into the archive in the
// background. Failures never affect the hot path.
func (s *Server) archiveTerminal(jobID string) {
	if s.arch == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := s.state.Get(ctx, jobID)
		if err != nil {
			s.logger.Warn("Archive skipped: state read failed", "job_id", jobID, "error", err)
			metrics.ArchiveWrites.WithLabelValues("skipped").Inc()
			return
		}
		sequence := ""
		if meta, err := s.meta.Get(ctx, jobID); err == nil {
			sequence = meta.Sequence
		}

		rec := archivedFromState(jobID, st, sequence)
		if err := s.arch.RecordTerminal(ctx, rec); err != nil {
			s.logger.Warn("Archive write failed", "job_id", jobID, "error", err)
			metrics.ArchiveWrites.WithLabelValues("error").Inc()
			return
		}
		metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	}()
}

func archivedFromState(jobID string, st *store.JobState, sequence string) *archive.ArchivedJob {
	return &archive.ArchivedJob{
		JobID:       jobID,
		Status:      string(st.Status),
		Stage:       string(st.Stage),
		Progress:    st.Progress,
		Message:     st.Message,
		Sequence:    sequence,
		Version:     st.Version,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
		CompletedAt: st.CompletedAt,
	}
}
