// Package server exposes the transformer and script assembly over HTTP.
// Transform requests become jobs: they are stored, processed by a worker
// pool and announced on the event bus.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"formflow/eventbus"
	"formflow/jobstore"
	"formflow/observability"
	"formflow/scriptgen"
	"formflow/transformer"
)

// eventSource names this service in published events.
const eventSource = "formflow-server"

// ErrQueueFull is returned when no more jobs can be accepted.
var ErrQueueFull = errors.New("server: job queue is full")

// Options configure a Server.
type Options struct {
	Workers   int
	QueueSize int
	// RetentionSchedule is a cron spec for the finished-job sweep; empty
	// disables it.
	RetentionSchedule string
	RetentionMaxAge   time.Duration

	Transformer transformer.Options
	Script      scriptgen.Config
}

// Deps are the collaborators a Server runs on.
type Deps struct {
	Store    jobstore.Store
	Bus      eventbus.Publisher
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// Server is the HTTP transform service.
type Server struct {
	opts    Options
	store   jobstore.Store
	bus     eventbus.Publisher
	metrics *observability.Metrics
	log     logrus.FieldLogger

	router *mux.Router
	queue  chan string
	cron   *cron.Cron
	wg     sync.WaitGroup
	now    func() time.Time
}

// New wires a Server. Missing dependencies fall back to in-memory or no-op
// implementations.
func New(opts Options, deps Deps) *Server {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if deps.Store == nil {
		deps.Store = jobstore.NewMemoryStore()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Metrics == nil || deps.Gatherer == nil {
		reg := prometheus.NewRegistry()
		deps.Metrics = observability.NewMetrics(reg)
		deps.Gatherer = reg
	}

	s := &Server{
		opts:    opts,
		store:   deps.Store,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		log:     deps.Logger.WithField("component", "server"),
		router:  mux.NewRouter(),
		queue:   make(chan string, opts.QueueSize),
		cron:    cron.New(),
		now:     time.Now,
	}
	s.routes(deps.Gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.Use(observability.LoggingMiddleware(s.log))
	s.router.Use(s.countRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/transform", s.handleSubmitTransform).Methods("POST")
	api.HandleFunc("/transform", s.handleListJobs).Methods("GET")
	api.HandleFunc("/transform/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/assemble", s.handleAssemble).Methods("POST")
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start launches the workers and the retention sweep. They stop when ctx
// is done; Wait blocks until they have.
func (s *Server) Start(ctx context.Context) error {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	if s.opts.RetentionSchedule != "" && s.opts.RetentionMaxAge > 0 {
		if _, err := s.cron.AddFunc(s.opts.RetentionSchedule, func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("schedule retention sweep %q: %w", s.opts.RetentionSchedule, err)
		}
		s.cron.Start()
		go func() {
			<-ctx.Done()
			<-s.cron.Stop().Done()
		}()
	}

	s.log.WithField("workers", s.opts.Workers).Info("transform workers started")
	return nil
}

// Wait blocks until every worker has returned.
func (s *Server) Wait() { s.wg.Wait() }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

func (s *Server) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.WithField("job_id", jobID).Errorf("worker panic: %v", r)
						s.fail(ctx, jobID, fmt.Errorf("internal error: %v", r))
					}
				}()
				if err := s.process(ctx, jobID); err != nil {
					log.WithError(err).WithField("job_id", jobID).Warn("job processing failed")
				}
			}()
		}
	}
}

// Enqueue creates a job for req and queues it for the workers.
func (s *Server) Enqueue(ctx context.Context, req jobstore.Request) (*jobstore.Job, error) {
	job, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.publish(ctx, eventbus.TypeJobCreated, job)

	select {
	case s.queue <- job.ID:
		return job, nil
	default:
		s.fail(ctx, job.ID, ErrQueueFull)
		return nil, ErrQueueFull
	}
}

// process runs one job to completion and stores the outcome.
func (s *Server) process(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.SetStatus(jobstore.StatusRunning, s.now())
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}

	start := time.Now()
	result, runErr := s.run(job.Request)
	s.metrics.TransformDuration.Observe(time.Since(start).Seconds())

	if runErr != nil {
		job.Error = runErr.Error()
		job.SetStatus(jobstore.StatusFailed, s.now())
	} else {
		job.Result = result
		job.SetStatus(jobstore.StatusCompleted, s.now())
	}
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	s.finished(ctx, job)
	return runErr
}

// run transforms (and optionally assembles) a request.
func (s *Server) run(req jobstore.Request) (*jobstore.Result, error) {
	opts := s.opts.Transformer
	opts.Variables = req.Variables
	opts.Logger = s.log.WithField("component", "transformer")
	res := transformer.New(opts).TransformText(req.Source)

	out := &jobstore.Result{
		Code:     res.Code(),
		Actions:  len(res.Actions),
		Kinds:    map[string]int{},
		Dropped:  res.Dropped,
		Warnings: res.Warnings,
	}
	for _, k := range []transformer.Kind{transformer.KindCritical, transformer.KindResilient, transformer.KindPopupAssignment, transformer.KindDirective} {
		if n := res.Count(k); n > 0 {
			out.Kinds[k.String()] = n
			s.metrics.ActionsTotal.WithLabelValues(k.String()).Add(float64(n))
		}
	}
	s.metrics.WarningsTotal.Add(float64(len(res.Warnings)))

	if req.Assemble {
		cfg := s.opts.Script
		cfg.Title = req.Title
		cfg.Headless = cfg.Headless || req.Headless
		script, err := scriptgen.Assemble(out.Code, cfg)
		if err != nil {
			return nil, err
		}
		out.Script = script
	}
	return out, nil
}

func (s *Server) fail(ctx context.Context, jobID string, cause error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return
	}
	job.Error = cause.Error()
	job.SetStatus(jobstore.StatusFailed, s.now())
	if err := s.store.Update(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to store job failure")
		return
	}
	s.finished(ctx, job)
}

func (s *Server) finished(ctx context.Context, job *jobstore.Job) {
	s.metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	typ := eventbus.TypeJobCompleted
	if job.Status == jobstore.StatusFailed {
		typ = eventbus.TypeJobFailed
	}
	s.publish(ctx, typ, job)
}

func (s *Server) publish(ctx context.Context, typ string, job *jobstore.Job) {
	evt := eventbus.NewEvent(eventSource, typ, s.now())
	evt.JobID = job.ID
	evt.Text = job.Request.Title
	evt.Metadata = map[string]interface{}{"status": string(job.Status)}
	if job.Result != nil {
		evt.Metadata["actions"] = job.Result.Actions
		evt.Metadata["warnings"] = len(job.Result.Warnings)
	}
	if job.Error != "" {
		evt.Metadata["error"] = job.Error
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"job_id": job.ID, "type": typ}).Warn("event publish failed")
	}
}

// sweep deletes finished jobs older than the retention age.
func (s *Server) sweep(ctx context.Context) {
	removed, err := s.store.CleanupOld(ctx, s.now().Add(-s.opts.RetentionMaxAge))
	if err != nil {
		s.log.WithError(err).Warn("retention sweep failed")
		return
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("retention sweep removed old jobs")
	}
}
