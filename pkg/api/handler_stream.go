package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/proteinops/foldy/pkg/metrics"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/reasoner"
	"github.com/proteinops/foldy/pkg/segment"
	"github.com/proteinops/foldy/pkg/store"
)

// cancelPollInterval bounds how long a mock-mode stream can go without
// re-checking the shared cancellation flag.
const cancelPollInterval = 100 * time.Millisecond

// streamJobHandler handles GET /api/v1/jobs/:id/stream. It drives the
// whole job: starts a reasoner run, feeds it through the segmentation
// engine, persists every event, and mirrors them to the client as SSE
// frames. The client disconnecting stops the stream but does not cancel
// the job.
func (s *Server) streamJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if !models.ValidJobID(jobID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	useMock := s.cfg.Reasoner.UseMock
	if v := c.QueryParam("mock"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid mock flag")
		}
		useMock = b
	}

	ctx := c.Request().Context()

	sequence, details, err := s.resolveSequence(ctx, c, jobID)
	if err != nil {
		return err
	}
	if len(details) > 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid sequence",
			Details: details,
		})
	}

	// A stream may be the first contact with this job id (e.g. a client
	// that skipped the create endpoint). Meta goes in first so a visible
	// state hash always has its sequence behind it.
	st, err := s.state.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		if merr := s.meta.SetSequence(ctx, jobID, sequence); merr != nil {
			s.logger.Warn("Failed to register sequence for implicit job", "job_id", jobID, "error", merr)
		}
		if cerr := s.state.Create(ctx, jobID, store.JobState{}); cerr != nil {
			return mapStoreError(cerr)
		}
		st = &store.JobState{Status: models.StatusQueued}
	} else if err != nil {
		return mapStoreError(err)
	}

	w := c.Response()

	// A finished job is never re-driven: re-driving would append
	// duplicate sequence numbers. Reconnects get the sentinel matching
	// the recorded outcome; event history is on the replay endpoint.
	if st.Status.IsTerminal() || st.Status == models.StatusPartial {
		writeSSEHeaders(w)
		s.finishTerminal(jobID, w, st.Status)
		return nil
	}

	// Seed the log and the engine's sequence counter so numbering stays
	// strictly increasing across connections.
	startSeq, err := s.queue.LastSequence(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		queued := segment.QueuedEvent(jobID)
		if perr := s.queue.Push(ctx, &queued); perr != nil {
			return mapStoreError(perr)
		}
		metrics.EventsPublished.WithLabelValues(string(queued.EventType)).Inc()
		startSeq = 1
	} else if err != nil {
		return mapStoreError(err)
	}

	streamer := s.streamer
	if useMock {
		streamer = s.mockStreamer
	}

	// The run context stops the reasoner read and the engine when the
	// client disconnects or the job is canceled.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	stream, err := streamer.StartStream(runCtx, jobID, sequence)
	if err != nil {
		s.logger.Error("Failed to start reasoner stream", "job_id", jobID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reasoner unavailable")
	}

	// Record the session before consuming messages so the cancel path
	// has an interrupt target from the first event on.
	if stream.Session.BackendURL != "" {
		if serr := s.sessions.Set(ctx, jobID, stream.Session); serr != nil {
			s.logger.Warn("Failed to record reasoner session", "job_id", jobID, "error", serr)
		}
	}

	writeSSEHeaders(w)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// Frames the log already holds go out first, so every connection sees
	// the stream from the queued record on.
	if !s.replayHistory(ctx, cancelRun, w, jobID) {
		return nil
	}

	run := segment.Start(runCtx, segment.Params{
		JobID:    jobID,
		Total:    stream.Total,
		Messages: stream.Messages,
		StartSeq: startSeq,
		Logger:   s.logger,
	})

	return s.driveStream(ctx, cancelRun, w, jobID, useMock, run, stream)
}

// resolveSequence picks the effective sequence: query override, then
// meta store, then the built-in default. Validation failures come back
// as details for a structured 400.
func (s *Server) resolveSequence(ctx context.Context, c *echo.Context, jobID string) (string, []string, error) {
	sequence := models.NormalizeSequence(c.QueryParam("sequence"))
	if sequence == "" {
		stored, err := s.meta.GetSequence(ctx, jobID)
		if err != nil {
			return "", nil, mapStoreError(err)
		}
		sequence = stored
	}
	if sequence == "" {
		sequence = models.DefaultSequence
	}

	if details := models.ValidateSequence(sequence); len(details) > 0 {
		return "", details, nil
	}
	return sequence, nil, nil
}

// writeSSEHeaders commits the response as an event stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// replayHistory writes the retained events as step frames. It reports
// false when the client went away mid-replay.
func (s *Server) replayHistory(ctx context.Context, cancelRun context.CancelFunc, w http.ResponseWriter, jobID string) bool {
	history, err := s.queue.FromOffset(ctx, jobID, 0)
	if err != nil {
		s.logger.Warn("Event replay before drive failed", "job_id", jobID, "error", err)
		return true
	}
	for i := range history {
		if err := writeFrame(w, "step", &history[i]); err != nil {
			s.logger.Info("SSE client disconnected", "job_id", jobID)
			cancelRun()
			return false
		}
	}
	return true
}

// driveStream is the per-connection event loop. Exactly one of the
// done / canceled / error sentinels terminates a stream the client is
// still connected to.
func (s *Server) driveStream(ctx context.Context, cancelRun context.CancelFunc, w http.ResponseWriter, jobID string, useMock bool, run *segment.Run, stream *reasoner.Stream) error {
	var (
		sawConclusion bool
		sawStructure  bool
		markedRunning bool
	)

	for {
		ev, ok, canceled := s.nextEvent(ctx, jobID, useMock, run)
		if canceled {
			cancelRun()
			s.finishCanceled(jobID, w)
			return nil
		}
		if !ok {
			break
		}

		if !markedRunning && ev.Status == models.StatusRunning {
			if err := s.state.MarkRunning(ctx, jobID); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
				s.logger.Warn("Failed to mark job running", "job_id", jobID, "error", err)
			}
			markedRunning = true
		}

		if err := s.queue.Push(ctx, &ev); err != nil {
			// Partial write: do not rewrite earlier parts, state converges
			// on the next push.
			s.logger.Warn("Event push failed", "job_id", jobID, "event_id", ev.EventID, "error", err)
		} else {
			metrics.EventsPublished.WithLabelValues(string(ev.EventType)).Inc()
		}

		s.persistState(ctx, jobID, map[string]any{
			"stage":    string(ev.Stage),
			"progress": ev.Progress,
			"message":  ev.Message,
		})

		if err := writeFrame(w, "step", &ev); err != nil {
			s.logger.Info("SSE client disconnected", "job_id", jobID)
			cancelRun()
			return nil
		}

		switch ev.EventType {
		case models.EventConclusion:
			sawConclusion = true
		case models.EventThinkingPDB:
			sawStructure = true
		}
	}

	// The engine is done. A client disconnect surfaces as a canceled
	// request context: stop silently, the job outcome is left to replay.
	if ctx.Err() != nil {
		return nil
	}

	if serr := stream.Err(); serr != nil {
		s.finishFailed(ctx, jobID, w, serr)
		return nil
	}

	s.finishClean(ctx, jobID, w, sawConclusion, sawStructure)
	return nil
}

// nextEvent waits for the engine's next event. In mock mode it wakes up
// at least every cancelPollInterval to re-check the shared cancel flag;
// in live mode the flag is checked once per event boundary.
func (s *Server) nextEvent(ctx context.Context, jobID string, useMock bool, run *segment.Run) (ev models.Event, ok, canceled bool) {
	if useMock {
		for {
			select {
			case ev, ok = <-run.Events:
				if ok && s.checkCanceled(ctx, jobID) {
					return models.Event{}, false, true
				}
				return ev, ok, false
			case <-time.After(cancelPollInterval):
				if s.checkCanceled(ctx, jobID) {
					return models.Event{}, false, true
				}
			}
		}
	}

	ev, ok = <-run.Events
	if ok && s.checkCanceled(ctx, jobID) {
		return models.Event{}, false, true
	}
	return ev, ok, false
}

func (s *Server) checkCanceled(ctx context.Context, jobID string) bool {
	canceled, err := s.state.IsCanceled(ctx, jobID)
	if err != nil {
		s.logger.Warn("Cancellation check failed", "job_id", jobID, "error", err)
		return false
	}
	return canceled
}

// finishTerminal answers a stream request for a job that already ended:
// only the sentinel matching the recorded outcome is emitted.
func (s *Server) finishTerminal(jobID string, w http.ResponseWriter, status models.JobStatus) {
	switch status {
	case models.StatusCanceled:
		s.finishCanceled(jobID, w)
	case models.StatusFailed:
		_ = writeFrame(w, "error", map[string]string{
			"jobId":   jobID,
			"message": "job failed",
		})
	default:
		_ = writeFrame(w, "done", map[string]string{"jobId": jobID})
	}
}

// finishCanceled emits the canceled sentinel. The cancel endpoint
// already owns the state transition and the session cleanup.
func (s *Server) finishCanceled(jobID string, w http.ResponseWriter) {
	s.logger.Info("Stream stopped: job canceled", "job_id", jobID)
	_ = writeFrame(w, "canceled", map[string]string{
		"jobId":   jobID,
		"message": "Job canceled by user",
	})
}

// finishFailed handles a reasoner-side failure: the job goes to failed,
// one final failure record closes the queue, and the error sentinel
// replaces done.
func (s *Server) finishFailed(ctx context.Context, jobID string, w http.ResponseWriter, serr error) {
	s.logger.Error("Reasoner stream failed", "job_id", jobID, "error", serr)

	err := s.state.MarkFailed(ctx, jobID, "Reasoner stream failed")
	if errors.Is(err, store.ErrAlreadyTerminal) {
		// A cancel won the race; its status and sentinel stand.
		s.retainEvents(ctx, jobID)
		s.cleanupSession(ctx, jobID)
		s.finishCanceled(jobID, w)
		return
	}
	if err != nil {
		s.logger.Warn("Failed to mark job failed", "job_id", jobID, "error", err)
	}

	s.pushFailureEvent(ctx, jobID)
	s.retainEvents(ctx, jobID)
	s.cleanupSession(ctx, jobID)

	metrics.JobsCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
	s.archiveTerminal(jobID)

	_ = writeFrame(w, "error", map[string]string{
		"jobId":   jobID,
		"message": "reasoner stream failed",
	})
}

// pushFailureEvent appends the terminal failure record under the next
// sequence number so the replay log stays uniformly shaped.
func (s *Server) pushFailureEvent(ctx context.Context, jobID string) {
	seq := 1
	if last, err := s.queue.LastSequence(ctx, jobID); err == nil {
		seq = last + 1
	}
	ev := models.Event{
		EventID:   models.EventID(jobID, seq),
		JobID:     jobID,
		Ts:        time.Now().UnixMilli(),
		EventType: models.EventThinkingText,
		Stage:     models.StageError,
		Status:    models.StatusFailed,
		Message:   "Reasoner stream failed",
	}
	if err := s.queue.Push(ctx, &ev); err != nil {
		s.logger.Warn("Failed to push failure record", "job_id", jobID, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.EventType)).Inc()
}

// finishClean closes out a stream whose engine ran to the end of input.
// Without a terminal conclusion the job is only partial (structures
// seen) or failed (nothing terminal at all).
func (s *Server) finishClean(ctx context.Context, jobID string, w http.ResponseWriter, sawConclusion, sawStructure bool) {
	var err error
	switch {
	case sawConclusion:
		err = s.state.MarkComplete(ctx, jobID, "Prediction complete")
	case sawStructure:
		err = s.state.MarkPartial(ctx, jobID, "Stream ended before conclusion")
	default:
		err = s.state.MarkFailed(ctx, jobID, "Stream ended without conclusion")
	}
	if errors.Is(err, store.ErrAlreadyTerminal) {
		// A cancel landed after the last event; its status and sentinel
		// stand, done is suppressed.
		s.retainEvents(ctx, jobID)
		s.cleanupSession(ctx, jobID)
		s.finishCanceled(jobID, w)
		return
	}
	if err != nil {
		s.logger.Warn("Failed to mark job terminal", "job_id", jobID, "error", err)
	}

	switch {
	case sawConclusion:
		metrics.JobsCompleted.WithLabelValues(string(models.StatusComplete)).Inc()
		s.archiveTerminal(jobID)
	case sawStructure:
		metrics.JobsCompleted.WithLabelValues(string(models.StatusPartial)).Inc()
	default:
		metrics.JobsCompleted.WithLabelValues(string(models.StatusFailed)).Inc()
		s.archiveTerminal(jobID)
	}

	s.retainEvents(ctx, jobID)
	s.cleanupSession(ctx, jobID)

	s.logger.Info("Stream finished", "job_id", jobID, "conclusion", sawConclusion)
	_ = writeFrame(w, "done", map[string]string{"jobId": jobID})
}

// retainEvents extends the event list TTL so disconnected clients can
// still replay after the job ends.
func (s *Server) retainEvents(ctx context.Context, jobID string) {
	if err := s.queue.SetCompletionTTL(ctx, jobID, s.cfg.Jobs.EventsTTL); err != nil {
		s.logger.Warn("Failed to set completion TTL", "job_id", jobID, "error", err)
	}
}

func (s *Server) cleanupSession(ctx context.Context, jobID string) {
	if err := s.sessions.Delete(ctx, jobID); err != nil {
		s.logger.Warn("Failed to delete reasoner session record", "job_id", jobID, "error", err)
	}
}

func (s *Server) persistState(ctx context.Context, jobID string, fields map[string]any) {
	if err := s.state.Set(ctx, jobID, fields); err != nil {
		s.logger.Warn("State write failed, will converge on next event", "job_id", jobID, "error", err)
	}
}

// writeFrame writes one SSE frame and flushes it to the client.
func writeFrame(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
