package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"formflow/eventbus"
	"formflow/jobstore"
	"formflow/observability"
	"formflow/scriptgen"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// TransformRequest is the body of POST /api/v1/transform.
type TransformRequest struct {
	jobstore.Request
	// Wait processes the job within the request instead of queueing it.
	Wait bool `json:"wait,omitempty"`
}

// AssembleRequest is the body of POST /api/v1/assemble.
type AssembleRequest struct {
	Title string `json:"title,omitempty"`
	Code  string `json:"code"`
	// Rows are embedded into the script. CSV, when set, is parsed into rows
	// instead.
	Rows        []scriptgen.Row `json:"rows,omitempty"`
	CSV         string          `json:"csv,omitempty"`
	CSVFilename string          `json:"csv_filename,omitempty"`
	Headless    bool            `json:"headless,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"timestamp":  s.now().UTC().Format(time.RFC3339),
		"queue":      len(s.queue),
		"queue_size": cap(s.queue),
	})
}

// handleSubmitTransform: POST /api/v1/transform
func (s *Server) handleSubmitTransform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	log := observability.LoggerFromContext(r.Context(), s.log)

	if req.Wait {
		job, err := s.store.Create(r.Context(), req.Request)
		if err != nil {
			log.WithError(err).Error("create job failed")
			writeError(w, http.StatusInternalServerError, "create job: %v", err)
			return
		}
		s.publish(r.Context(), eventbus.TypeJobCreated, job)
		_ = s.process(r.Context(), job.ID)
		job, err = s.store.Get(r.Context(), job.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	job, err := s.Enqueue(r.Context(), req.Request)
	switch {
	case errors.Is(err, ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
		return
	case err != nil:
		log.WithError(err).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	log.WithField("job_id", job.ID).Info("transform job queued")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// handleGetJob: GET /api/v1/transform/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "job %s not found", id)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

// handleListJobs: GET /api/v1/transform?limit=N
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", v)
			return
		}
		limit = n
	}
	jobs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if jobs == nil {
		jobs = []*jobstore.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleAssemble: POST /api/v1/assemble
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if !decode(w, r, &req) {
		return
	}

	cfg := s.opts.Script
	cfg.Title = req.Title
	cfg.Headless = cfg.Headless || req.Headless
	switch {
	case req.CSVFilename != "":
		cfg.Embed = false
		cfg.CSVFilename = req.CSVFilename
	case req.CSV != "":
		_, rows, err := scriptgen.LoadCSV(strings.NewReader(req.CSV))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid csv: %v", err)
			return
		}
		cfg.Embed = true
		cfg.Rows = rows
	default:
		cfg.Embed = true
		cfg.Rows = req.Rows
	}

	script, err := scriptgen.Assemble(req.Code, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}

// countRequests records every request by route template and status class.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", rec.status/100)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
