package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"formflow/browser"
	"formflow/browser/pwdriver"
	"formflow/browser/roddriver"
	"formflow/browser/snapshot"
	"formflow/config"
	"formflow/eventbus"
	"formflow/matcher"
	"formflow/observability"
)

const answerEventSource = "formflow-answer"

type answerOptions struct {
	url          string
	snapshotPath string
	driver       string
	headless     bool
	settle       time.Duration
	check        bool
	failOnMiss   bool
	metricsAddr  string
}

func newAnswerCmd(a *app) *cobra.Command {
	var opts answerOptions

	cmd := &cobra.Command{
		Use:   "answer questions.yaml",
		Short: "Answer questions on a page by fuzzy heading match",
		Long: `Open a page, collect its visible headings and answer each question from the
questions file by clicking the button nearest the best matching heading.
Questions that are not on the page are reported, not treated as errors.

The page comes from --url (or the file's url) through the configured driver,
or from a saved HTML file with --snapshot, in which case clicks are recorded
instead of dispatched.

Examples:
  formflow answer questions.yaml --url https://example.com/survey
  formflow answer questions.yaml --driver rod --headless
  formflow answer questions.yaml --snapshot saved.html --check`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qf, err := LoadQuestions(args[0])
			if err != nil {
				return err
			}
			if opts.url == "" {
				opts.url = qf.URL
			}
			return a.runAnswer(cmd.Context(), cmd.OutOrStdout(), qf.Questions, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "page to open (overrides the questions file)")
	cmd.Flags().StringVar(&opts.snapshotPath, "snapshot", "", "answer against a saved HTML file instead of a browser")
	cmd.Flags().StringVar(&opts.driver, "driver", "", "browser driver: playwright, rod or snapshot (default from config)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "run the browser headless")
	cmd.Flags().DurationVar(&opts.settle, "settle", 2*time.Second, "pause after load before collecting headings")
	cmd.Flags().BoolVar(&opts.check, "check", false, "only report which questions are on the page")
	cmd.Flags().BoolVar(&opts.failOnMiss, "fail-on-miss", false, "exit non-zero when any question is not answered")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	return cmd
}

func (a *app) runAnswer(ctx context.Context, out io.Writer, questions []Question, opts answerOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	page, closePage, err := a.openPage(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePage(); err != nil {
			a.log.WithError(err).Warn("closing page")
		}
	}()

	m, err := matcher.New(page, a.cfg.Matcher.ToMatcher(), a.log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	reg.MustRegister(observability.NewMatcherCollector(m.Stats))
	if opts.metricsAddr != "" {
		stop := a.serveMetrics(opts.metricsAddr, reg)
		defer stop()
	}

	bus, err := a.eventBus(answerEventSource)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := m.Preload(ctx, opts.settle); err != nil {
		return fmt.Errorf("preloading page: %w", err)
	}

	if opts.check {
		return checkQuestions(ctx, out, m, questions)
	}

	r := &answerRun{matcher: m, bus: bus, metrics: metrics, log: a.log, out: out, now: time.Now}
	missed, err := r.answerAll(ctx, questions)
	fmt.Fprint(out, m.Stats().Report())
	if err != nil {
		return err
	}
	if missed > 0 && opts.failOnMiss {
		return fmt.Errorf("%d of %d questions not answered", missed, len(questions))
	}
	return nil
}

// openPage returns the page to answer on and a function releasing it.
func (a *app) openPage(ctx context.Context, opts answerOptions) (browser.Page, func() error, error) {
	noop := func() error { return nil }
	if opts.snapshotPath != "" {
		p, err := snapshot.Load(opts.snapshotPath)
		return p, noop, err
	}

	driver := opts.driver
	if driver == "" {
		driver = a.cfg.Browser.Driver
	}
	if opts.url == "" {
		return nil, nil, errors.New("no page to open: pass --url, --snapshot or set url in the questions file")
	}
	bc := a.cfg.Browser
	headless := bc.Headless || opts.headless

	switch driver {
	case config.DriverSnapshot:
		p, err := snapshot.Fetch(ctx, nil, opts.url)
		return p, noop, err

	case config.DriverPlaywright:
		s, err := pwdriver.Launch(pwdriver.LaunchOptions{
			Headless:         headless,
			ExecutablePath:   bc.ExecutablePath,
			DefaultTimeoutMS: float64(bc.DefaultTimeout.Milliseconds()),
			Logger:           a.log,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.Goto(opts.url); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s.Page(), s.Close, nil

	case config.DriverRod:
		s, err := roddriver.Launch(ctx, roddriver.LaunchOptions{
			ControlURL:      bc.ControlURL,
			Bin:             bc.ExecutablePath,
			Headless:        headless,
			NavigateTimeout: bc.DefaultTimeout,
			Logger:          a.log,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.Goto(ctx, opts.url); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s.Page(), s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// eventBus connects to NATS when configured.
func (a *app) eventBus(name string) (eventbus.Publisher, error) {
	if a.cfg.NATS.URL == "" {
		return eventbus.Nop{}, nil
	}
	bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{
		URL:     a.cfg.NATS.URL,
		Subject: a.cfg.NATS.Subject,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	a.log.WithField("subject", bus.Subject()).Info("publishing events to NATS")
	return bus, nil
}

func (a *app) serveMetrics(addr string, gatherer prometheus.Gatherer) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics listener stopped")
		}
	}()
	a.log.WithField("addr", addr).Info("serving metrics")
	return func() { _ = srv.Close() }
}

func checkQuestions(ctx context.Context, out io.Writer, m *matcher.Matcher, questions []Question) error {
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.Question
	}
	present, err := m.CheckQuestionsBatch(ctx, texts)
	if err != nil {
		return err
	}
	for _, q := range texts {
		mark := "missing"
		if present[q] {
			mark = "present"
		}
		fmt.Fprintf(out, "%-8s %s\n", mark, q)
	}
	return nil
}

// answerRun answers a list of questions on one matcher and reports each
// outcome as a line, a metric and an event.
type answerRun struct {
	matcher *matcher.Matcher
	bus     eventbus.Publisher
	metrics *observability.Metrics
	log     logrus.FieldLogger
	out     io.Writer
	now     func() time.Time
}

func (r *answerRun) answerAll(ctx context.Context, questions []Question) (int, error) {
	missed := 0
	for i, q := range questions {
		outcome, err := r.matcher.AnswerQuestionWithRetry(ctx, q.Question, q.Answer, q.IsExact(), q.Retries)
		if err != nil {
			return missed, fmt.Errorf("question %d %q: %w", i+1, q.Question, err)
		}
		r.metrics.AnswersTotal.WithLabelValues(outcome.String()).Inc()

		typ := eventbus.TypeQuestionAnswer
		if !outcome.OK() {
			missed++
			typ = eventbus.TypeQuestionMissed
		}
		evt := eventbus.NewEvent(answerEventSource, typ, r.now())
		evt.Text = q.Question
		evt.Metadata = map[string]interface{}{
			"answer":  q.Answer,
			"outcome": outcome.String(),
		}
		if err := r.bus.Publish(ctx, evt); err != nil {
			r.log.WithError(err).Warn("failed to publish answer event")
		}

		fmt.Fprintf(r.out, "%-18s %s -> %s\n", outcome, q.Question, q.Answer)
	}
	return missed, nil
}
