package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"formflow/jobstore"
	"formflow/observability"
	"formflow/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP transform service",
		Long: `Serve the transform API. Jobs are kept in Redis when redis.addr is set
(in memory otherwise) and announced on NATS when nats.url is set.

Endpoints:
  POST /api/v1/transform       submit a recording (add "wait": true to block)
  GET  /api/v1/transform       list recent jobs
  GET  /api/v1/transform/{id}  job status and result
  POST /api/v1/assemble        wrap actions into a runnable script
  GET  /health
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = a.cfg.Server.Addr()
			}
			return a.serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.host:server.port)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	store, err := a.jobStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := a.eventBus("formflow-server")
	if err != nil {
		return err
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := a.cfg
	srv := server.New(server.Options{
		Workers:           cfg.Server.Workers,
		QueueSize:         cfg.Server.QueueSize,
		RetentionSchedule: cfg.Retention.Schedule,
		RetentionMaxAge:   cfg.Retention.MaxAge,
		Transformer:       cfg.Transformer.ToOptions(),
		Script:            cfg.Script.ToScript(),
	}, server.Deps{
		Store:    store,
		Bus:      bus,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Logger:   a.log,
	})

	a.log.WithFields(logrus.Fields{
		"addr":    addr,
		"workers": cfg.Server.Workers,
		"redis":   cfg.Redis.Addr != "",
		"nats":    cfg.NATS.URL != "",
	}).Info("starting transform service")
	return srv.ListenAndServe(ctx, addr)
}

// jobStore uses Redis when configured and memory otherwise.
func (a *app) jobStore(ctx context.Context) (jobstore.Store, error) {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		a.log.Info("redis not configured, keeping jobs in memory")
		return jobstore.NewMemoryStore(), nil
	}
	store, err := jobstore.NewRedisStore(ctx, rc.Addr, rc.Password, rc.DB, rc.Prefix, rc.JobTTL)
	if err != nil {
		return nil, err
	}
	a.log.WithField("addr", rc.Addr).Info("using redis job store")
	return store, nil
}
