// Package server exposes a workq Coordinator over HTTP: clients submit texts for
// analysis, poll job progress and results, and can follow job updates over a
// websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/ygrebnov/workq"
	"github.com/ygrebnov/workq/internal/analyze"
	"github.com/ygrebnov/workq/internal/jobs"
	"github.com/ygrebnov/workq/metrics"
)

// maxBodyBytes bounds submitted request bodies.
const maxBodyBytes = 1 << 20

// Server is the HTTP front end of a Coordinator.
type Server struct {
	addr            string
	coord           *workq.Coordinator
	tracker         *jobs.Tracker
	metrics         *metrics.BasicProvider
	logger          *slog.Logger
	shutdownTimeout time.Duration

	mu        sync.Mutex
	wsClients map[*websocket.Conn]struct{}

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes p on /api/metrics.
func WithMetrics(p *metrics.BasicProvider) Option { return func(s *Server) { s.metrics = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithShutdownTimeout bounds the graceful HTTP shutdown (default 5s).
func WithShutdownTimeout(d time.Duration) Option { return func(s *Server) { s.shutdownTimeout = d } }

// New creates a Server. Submitted items are recorded in tracker; coord must have
// workers processing them with jobs.Processor(tracker, ...).
func New(addr string, coord *workq.Coordinator, tracker *jobs.Tracker, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		coord:           coord,
		tracker:         tracker,
		logger:          slog.Default(),
		shutdownTimeout: 5 * time.Second,
		wsClients:       make(map[*websocket.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/check_progress/{id}", s.handleCheckProgress)
	mux.HandleFunc("GET /api/result/{id}", s.handleResult)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.Handle("GET /ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start serves until ctx is cancelled, then shuts the HTTP server down gracefully.
// It does not stop the Coordinator; the caller drains it afterwards.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// runCtx also ends when ListenAndServe fails, so the shutdown goroutine exits.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-runCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancelShutdown()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", slog.Any("error", err))
		}
	}()

	s.logger.Info("api server starting", slog.String("addr", s.addr))
	err := s.server.ListenAndServe()
	cancel()
	<-stopped
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SubmitRequest is the body of POST /api/submit.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	ID     uint64      `json:"id"`
	Status jobs.Status `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SubmitRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cannot encode job")
		return
	}

	item, err := s.coord.Submit(r.Context(), payload)
	switch {
	case errors.Is(err, workq.ErrQueueClosed):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down, not accepting jobs")
		return
	case err != nil:
		// The client went away while the queue was full.
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.tracker.Submitted(item.ID)

	s.logger.Debug("job submitted", slog.Uint64("id", item.ID))
	s.writeJSONStatus(w, http.StatusAccepted, SubmitResponse{ID: item.ID, Status: jobs.StatusQueued})
}

// ProgressResponse is returned by GET /api/check_progress/{id}.
type ProgressResponse struct {
	ID       uint64      `json:"id"`
	Status   jobs.Status `json:"status"`
	Progress float64     `json:"progress"`
}

func (s *Server) handleCheckProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, ProgressResponse{ID: job.ID, Status: job.Status, Progress: job.Progress})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch job.Status {
	case jobs.StatusDone:
		s.writeJSON(w, job.Result)
	case jobs.StatusFailed:
		s.writeError(w, http.StatusUnprocessableEntity, job.Error)
	default:
		s.writeJSONStatus(w, http.StatusAccepted, map[string]any{
			"id":      job.ID,
			"status":  job.Status,
			"message": "not available yet",
		})
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return jobs.Job{}, false
	}
	job, ok := s.tracker.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %d not found", id))
		return jobs.Job{}, false
	}
	return job, true
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	State      string              `json:"state"`
	Buffered   int                 `json:"buffered"`
	Unfinished int                 `json:"unfinished"`
	Capacity   int                 `json:"capacity"`
	Produced   uint64              `json:"produced"`
	Processed  uint64              `json:"processed"`
	Failed     int                 `json:"failed"`
	Workers    []string            `json:"workers"`
	Jobs       map[jobs.Status]int `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.coord.Stats()
	resp := StatusResponse{
		State:      st.State.String(),
		Buffered:   st.Buffered,
		Unfinished: st.Unfinished,
		Capacity:   s.coord.Queue().Cap(),
		Produced:   st.Produced,
		Processed:  st.Processed,
		Failed:     st.Failed,
		Workers:    make([]string, len(st.Workers)),
		Jobs:       s.tracker.Counts(),
	}
	for i, ws := range st.Workers {
		resp.Workers[i] = ws.String()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, metrics.Snapshot{})
		return
	}
	s.writeJSON(w, s.metrics.Snapshot())
}

// Update is pushed to websocket clients for every job change.
type Update struct {
	Type string   `json:"type"`
	Job  jobs.Job `json:"job"`
}

func (s *Server) handleWebSocket(ws *websocket.Conn) {
	updates, unsubscribe := s.tracker.Subscribe()

	s.mu.Lock()
	s.wsClients[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		unsubscribe()
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Reading detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case j, ok := <-updates:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, Update{Type: "job", Job: j}); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wsClients)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSONStatus(w, code, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", slog.Any("error", err))
	}
}

// AnalyzeJob returns the job function used in serve mode: it decodes a
// SubmitRequest, waits delay (reporting progress halfway) and scores the text.
func AnalyzeJob(delay time.Duration) jobs.Func {
	return func(ctx context.Context, payload []byte, progress func(float64)) (any, error) {
		var req SubmitRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		progress(0.1)

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		progress(0.5)

		scores, err := analyze.Score(req.Text)
		if err != nil {
			return nil, err
		}
		return scores, nil
	}
}
