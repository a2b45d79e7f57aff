// Package matcher locates dynamically ordered questions on a live page by
// fuzzy heading text and finds the answer button that belongs to them.
//
// A Matcher keeps a pool of the visible headings (h1..h6), rebuilt on a TTL,
// and a cache of questions it already resolved. One Matcher serves one page
// and is not safe for concurrent use; Stats may be read from any goroutine.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"formflow/browser"
	"formflow/retry"
)

// HeadingTiers are the per-tier selectors queried when the pool is rebuilt,
// most prominent first.
var HeadingTiers = []string{
	`h1, [role="heading"][aria-level="1"]`,
	`h2, [role="heading"][aria-level="2"]`,
	`h3, [role="heading"][aria-level="3"]`,
	`h4, [role="heading"][aria-level="4"]`,
	`h5, [role="heading"][aria-level="5"]`,
	`h6, [role="heading"][aria-level="6"]`,
}

// buttonCascade is the fixed order in which scopes around a heading are
// searched for its answer button.
var buttonCascade = []browser.Relation{
	browser.RelationParent,
	browser.RelationGrandparent,
	browser.RelationGreatGrandparent,
	browser.RelationFollowingSiblings,
	browser.RelationPage,
}

// Config tunes a Matcher. Zero durations and sizes take the DefaultConfig
// values.
type Config struct {
	// FuzzyThreshold is the minimum similarity (0..1) for a heading to match.
	//   0.90 very strict, 0.80 strict, 0.75 default, 0.60 loose
	// Zero accepts the best heading whatever its score; a negative value
	// takes the default.
	FuzzyThreshold float64
	CacheTTL       time.Duration
	CacheSize      int

	ProbeTimeout       time.Duration
	ButtonTimeout      time.Duration
	ClickDelay         time.Duration
	ClickTimeout       time.Duration
	NetworkIdleTimeout time.Duration
	PreloadIdleTimeout time.Duration
	// RetryDelay is the first backoff step of AnswerQuestionWithRetry; later
	// steps double it.
	RetryDelay time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:     0.75,
		CacheTTL:           5 * time.Second,
		CacheSize:          512,
		ProbeTimeout:       100 * time.Millisecond,
		ButtonTimeout:      2 * time.Second,
		ClickDelay:         100 * time.Millisecond,
		ClickTimeout:       10 * time.Second,
		NetworkIdleTimeout: 5 * time.Second,
		PreloadIdleTimeout: 10 * time.Second,
		RetryDelay:         time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FuzzyThreshold < 0 {
		c.FuzzyThreshold = d.FuzzyThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.ButtonTimeout <= 0 {
		c.ButtonTimeout = d.ButtonTimeout
	}
	if c.ClickDelay < 0 {
		c.ClickDelay = 0
	}
	if c.ClickTimeout <= 0 {
		c.ClickTimeout = d.ClickTimeout
	}
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = d.NetworkIdleTimeout
	}
	if c.PreloadIdleTimeout <= 0 {
		c.PreloadIdleTimeout = d.PreloadIdleTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// PoolEntry is one visible heading captured during a refresh.
type PoolEntry struct {
	Element    browser.Element
	Text       string
	Normalized string
	Tier       int
}

// Match is a resolved question.
type Match struct {
	Element browser.Element
	Text    string
	Score   float64
	Tier    int
	Cached  bool
}

type cachedQuestion struct {
	element browser.Element
	text    string
	score   float64
	tier    int
}

// Outcome is the result of answering one question.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAnswered
	OutcomeQuestionNotFound
	OutcomeButtonNotFound
	OutcomeClickFailed
	// OutcomeNotSettled means the click landed but the page never reached
	// network idle.
	OutcomeNotSettled
)

// OK reports whether the answer was clicked.
func (o Outcome) OK() bool { return o == OutcomeAnswered }

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeQuestionNotFound:
		return "question_not_found"
	case OutcomeButtonNotFound:
		return "button_not_found"
	case OutcomeClickFailed:
		return "click_failed"
	case OutcomeNotSettled:
		return "not_settled"
	default:
		return "unknown"
	}
}

var errNotAnswered = errors.New("question not answered")

// Matcher resolves question text to headings and answer buttons on one page.
type Matcher struct {
	page browser.Page
	cfg  Config
	log  logrus.FieldLogger
	now  func() time.Time

	pool        []PoolEntry
	poolSize    atomic.Int64
	lastRefresh time.Time
	cache       *lru.Cache[string, cachedQuestion]

	stats counters
}

// New creates a Matcher for page. A nil logger logs to the logrus standard
// logger.
func New(page browser.Page, cfg Config, logger logrus.FieldLogger) (*Matcher, error) {
	if page == nil {
		return nil, errors.New("matcher: page is required")
	}
	cfg = cfg.withDefaults()
	if cfg.FuzzyThreshold > 1 {
		return nil, fmt.Errorf("matcher: fuzzy threshold %.2f out of range [0,1]", cfg.FuzzyThreshold)
	}
	cache, err := lru.New[string, cachedQuestion](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("matcher: question cache: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Matcher{
		page:  page,
		cfg:   cfg,
		log:   logger.WithField("component", "matcher"),
		now:   time.Now,
		cache: cache,
	}, nil
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config { return m.cfg }

// Stats returns a snapshot of the counters.
func (m *Matcher) Stats() Stats {
	return Stats{
		CacheHits:       m.stats.cacheHits.Load(),
		CacheMisses:     m.stats.cacheMisses.Load(),
		Found:           m.stats.found.Load(),
		NotFound:        m.stats.notFound.Load(),
		TotalSearches:   m.stats.totalSearches.Load(),
		PoolSize:        int(m.poolSize.Load()),
		CachedQuestions: m.cache.Len(),
	}
}

// Pool returns a copy of the current heading pool.
func (m *Matcher) Pool() []PoolEntry {
	out := make([]PoolEntry, len(m.pool))
	copy(out, m.pool)
	return out
}

// ClearCache forgets every resolved question.
func (m *Matcher) ClearCache() {
	m.cache.Purge()
}

// RefreshPool rebuilds the heading pool when the TTL has elapsed or force is
// set. Headings that cannot be probed are skipped. The pool is swapped only
// after a complete pass, so a cancelled refresh leaves the old pool intact.
func (m *Matcher) RefreshPool(ctx context.Context, force bool) error {
	now := m.now()
	if !force && !m.lastRefresh.IsZero() && now.Sub(m.lastRefresh) < m.cfg.CacheTTL {
		return nil
	}

	m.log.Debug("refreshing heading pool")
	start := time.Now()

	var pool []PoolEntry
	for i, selector := range HeadingTiers {
		if err := ctx.Err(); err != nil {
			return err
		}
		elements, err := m.page.QueryAll(ctx, selector)
		if err != nil {
			m.log.WithError(err).WithField("tier", i+1).Debug("heading tier query failed")
			continue
		}
		for _, el := range elements {
			entry, ok := m.probeHeading(ctx, el)
			if !ok {
				continue
			}
			entry.Tier = i + 1
			pool = append(pool, entry)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.pool = pool
	m.poolSize.Store(int64(len(pool)))
	m.lastRefresh = now
	m.log.WithFields(logrus.Fields{
		"headings": len(pool),
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}).Info("heading pool refreshed")
	return nil
}

func (m *Matcher) probeHeading(ctx context.Context, el browser.Element) (PoolEntry, bool) {
	visible, err := el.IsVisible(ctx, m.cfg.ProbeTimeout)
	if err != nil || !visible {
		return PoolEntry{}, false
	}
	text, err := el.InnerText(ctx, m.cfg.ProbeTimeout)
	if err != nil {
		return PoolEntry{}, false
	}
	text = trimSpace(text)
	if text == "" {
		return PoolEntry{}, false
	}
	return PoolEntry{Element: el, Text: text, Normalized: Normalize(text)}, true
}

// FindQuestion resolves question text to a visible heading. A cached match
// is revalidated before it is returned; a stale one is evicted and the pool
// is scored again.
func (m *Matcher) FindQuestion(ctx context.Context, question string, refresh bool) (Match, bool) {
	m.stats.totalSearches.Add(1)

	if refresh {
		if err := m.RefreshPool(ctx, false); err != nil {
			m.stats.notFound.Add(1)
			return Match{}, false
		}
	}

	query := Normalize(question)
	log := m.log.WithField("question", clip(question, 50))

	if cached, ok := m.cache.Get(query); ok {
		if m.stillVisible(ctx, cached.element) {
			m.stats.cacheHits.Add(1)
			log.Debug("question cache hit")
			return Match{
				Element: cached.element,
				Text:    cached.text,
				Score:   cached.score,
				Tier:    cached.tier,
				Cached:  true,
			}, true
		}
		m.cache.Remove(query)
		log.Debug("cached heading went stale, rescoring")
	}
	m.stats.cacheMisses.Add(1)

	if query == "" {
		m.stats.notFound.Add(1)
		log.Warn("question text is empty after normalization")
		return Match{}, false
	}

	best, score, ok := bestMatch(query, m.pool)
	if !ok || score < m.cfg.FuzzyThreshold {
		m.stats.notFound.Add(1)
		log.WithField("best_score", fmt.Sprintf("%.2f", score)).Info("question not found")
		return Match{}, false
	}

	m.stats.found.Add(1)
	m.cache.Add(query, cachedQuestion{element: best.Element, text: best.Text, score: score, tier: best.Tier})
	log.WithFields(logrus.Fields{
		"heading": clip(best.Text, 40),
		"score":   fmt.Sprintf("%.2f", score),
	}).Info("question found")
	return Match{Element: best.Element, Text: best.Text, Score: score, Tier: best.Tier}, true
}

// bestMatch returns the highest scoring entry; the first entry wins ties.
func bestMatch(query string, pool []PoolEntry) (PoolEntry, float64, bool) {
	var (
		best      PoolEntry
		bestScore float64
		found     bool
	)
	for _, entry := range pool {
		score := Similarity(query, entry.Normalized)
		if !found || score > bestScore {
			best, bestScore, found = entry, score, true
		}
	}
	return best, bestScore, found
}

func (m *Matcher) stillVisible(ctx context.Context, el browser.Element) bool {
	if el == nil {
		return false
	}
	visible, err := el.IsVisible(ctx, m.cfg.ProbeTimeout)
	return err == nil && visible
}

// FindAnswerButton searches the scopes around heading, nearest first, for a
// visible button named buttonText. It reports the scope that matched.
func (m *Matcher) FindAnswerButton(ctx context.Context, heading browser.Element, buttonText string, exact bool) (browser.Element, browser.Relation, bool) {
	q := browser.RoleQuery{Role: "button", Name: buttonText, Exact: exact}
	log := m.log.WithField("button", buttonText)

	for _, rel := range buttonCascade {
		if ctx.Err() != nil {
			break
		}
		scope := browser.Scope{Anchor: heading, Relation: rel}
		if heading == nil && rel != browser.RelationPage {
			continue
		}
		el, err := m.page.FindByRole(ctx, scope, q, m.cfg.ButtonTimeout)
		if err != nil || el == nil {
			log.WithField("strategy", rel.String()).Debug("button strategy missed")
			continue
		}
		log.WithField("strategy", rel.String()).Info("answer button found")
		return el, rel, true
	}

	log.Info("answer button not found by any strategy")
	return nil, browser.RelationPage, false
}

// AnswerQuestion finds the question, finds its button and clicks it. A
// missing question or button is a normal outcome; the returned error is
// non-nil only when ctx is done.
func (m *Matcher) AnswerQuestion(ctx context.Context, question, buttonText string, exact bool) (Outcome, error) {
	log := m.log.WithFields(logrus.Fields{"question": clip(question, 60), "button": buttonText})
	log.Info("answering question")

	match, ok := m.FindQuestion(ctx, question, true)
	if err := ctx.Err(); err != nil {
		return OutcomeUnknown, err
	}
	if !ok {
		log.Info("question not on page")
		return OutcomeQuestionNotFound, nil
	}

	button, _, ok := m.FindAnswerButton(ctx, match.Element, buttonText, exact)
	if err := ctx.Err(); err != nil {
		return OutcomeUnknown, err
	}
	if !ok {
		return OutcomeButtonNotFound, nil
	}

	if err := button.Click(ctx, browser.ClickOptions{Delay: m.cfg.ClickDelay, Timeout: m.cfg.ClickTimeout}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeUnknown, ctxErr
		}
		log.WithError(err).Error("answer click failed")
		return OutcomeClickFailed, nil
	}

	if err := m.page.WaitForLoadState(ctx, browser.LoadStateNetworkIdle, m.cfg.NetworkIdleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return OutcomeUnknown, ctxErr
		}
		log.WithError(err).Error("network did not settle after answer")
		return OutcomeNotSettled, nil
	}

	log.Info("question answered")
	return OutcomeAnswered, nil
}

// AnswerQuestionWithRetry runs AnswerQuestion up to maxRetries times. Before
// each retry it waits, drops the question cache and forces a pool refresh.
func (m *Matcher) AnswerQuestionWithRetry(ctx context.Context, question, buttonText string, exact bool, maxRetries int) (Outcome, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	policy := retry.Exponential(maxRetries, m.cfg.RetryDelay, 8*m.cfg.RetryDelay)
	policy.Sleep = m.page.Wait
	policy.Recover = func(ctx context.Context, attempt int) {
		m.log.WithFields(logrus.Fields{
			"question": clip(question, 50),
			"attempt":  fmt.Sprintf("%d/%d", attempt, maxRetries),
		}).Info("retrying question")
		m.ClearCache()
		_ = m.RefreshPool(ctx, true)
	}

	last := OutcomeUnknown
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		outcome, err := m.AnswerQuestion(ctx, question, buttonText, exact)
		last = outcome
		if err != nil {
			return err
		}
		if !outcome.OK() {
			return errNotAnswered
		}
		return nil
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		return last, nil
	case errors.As(err, &exhausted):
		m.log.WithFields(logrus.Fields{
			"question": clip(question, 50),
			"attempts": exhausted.Attempts,
			"outcome":  last.String(),
		}).Warn("question failed after all attempts")
		return last, nil
	default:
		return last, err
	}
}

// CheckQuestionsBatch refreshes the pool once and reports which questions
// are present, without further refreshes.
func (m *Matcher) CheckQuestionsBatch(ctx context.Context, questions []string) (map[string]bool, error) {
	m.log.WithField("questions", len(questions)).Info("checking question batch")
	if err := m.RefreshPool(ctx, true); err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(questions))
	found := 0
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		_, ok := m.FindQuestion(ctx, q, false)
		results[q] = ok
		if ok {
			found++
		}
	}
	m.log.WithFields(logrus.Fields{"found": found, "total": len(questions)}).Info("question batch checked")
	return results, nil
}

// Preload waits for the network to go idle, lets scripts settle for settle,
// then forces a pool refresh. Meant to run once before a batch of questions.
func (m *Matcher) Preload(ctx context.Context, settle time.Duration) error {
	m.log.Info("preloading page")
	if err := m.page.WaitForLoadState(ctx, browser.LoadStateNetworkIdle, m.cfg.PreloadIdleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log.WithError(err).Warn("network idle not reached during preload")
	}
	if err := m.page.Wait(ctx, settle); err != nil {
		return err
	}
	return m.RefreshPool(ctx, true)
}
