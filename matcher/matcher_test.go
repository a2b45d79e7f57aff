package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formflow/browser"
)

type fakeElement struct {
	text     string
	visible  bool
	clickErr error
	clicks   []browser.ClickOptions
}

func (e *fakeElement) IsVisible(context.Context, time.Duration) (bool, error) {
	return e.visible, nil
}

func (e *fakeElement) InnerText(context.Context, time.Duration) (string, error) {
	return e.text, nil
}

func (e *fakeElement) Click(_ context.Context, opts browser.ClickOptions) error {
	e.clicks = append(e.clicks, opts)
	return e.clickErr
}

func (e *fakeElement) ScrollIntoView(context.Context, time.Duration) error { return nil }

type buttonKey struct {
	anchor   browser.Element
	relation browser.Relation
	name     string
}

type fakePage struct {
	tiers   map[int][]browser.Element
	buttons map[buttonKey]browser.Element
	idleErr error

	queries int
	lookups []browser.Relation
	waits   []time.Duration
	onQuery func(n int)
}

func newFakePage() *fakePage {
	return &fakePage{
		tiers:   map[int][]browser.Element{},
		buttons: map[buttonKey]browser.Element{},
	}
}

func (p *fakePage) heading(tier int, text string) *fakeElement {
	el := &fakeElement{text: text, visible: true}
	p.tiers[tier] = append(p.tiers[tier], el)
	return el
}

func (p *fakePage) button(anchor browser.Element, rel browser.Relation, name string) *fakeElement {
	el := &fakeElement{text: name, visible: true}
	p.buttons[buttonKey{anchor: anchor, relation: rel, name: name}] = el
	return el
}

func (p *fakePage) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	p.queries++
	if p.onQuery != nil {
		p.onQuery(p.queries)
	}
	for i, s := range HeadingTiers {
		if s == selector {
			return p.tiers[i+1], nil
		}
	}
	return nil, nil
}

func (p *fakePage) FindByRole(_ context.Context, scope browser.Scope, q browser.RoleQuery, _ time.Duration) (browser.Element, error) {
	p.lookups = append(p.lookups, scope.Relation)
	anchor := scope.Anchor
	if scope.Relation == browser.RelationPage {
		anchor = nil
	}
	if el, ok := p.buttons[buttonKey{anchor: anchor, relation: scope.Relation, name: q.Name}]; ok {
		return el, nil
	}
	return nil, browser.ErrNotFound
}

func (p *fakePage) WaitForLoadState(context.Context, browser.LoadState, time.Duration) error {
	return p.idleErr
}

func (p *fakePage) Wait(_ context.Context, d time.Duration) error {
	p.waits = append(p.waits, d)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMatcher(t *testing.T, page browser.Page, cfg Config) (*Matcher, *clock) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m, err := New(page, cfg, logger)
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What's your name?", "whats your name"},
		{"  What is   your\tname?! ", "what is your name"},
		{"Étape 2: Continuer", "étape 2 continuer"},
		{"snake_case stays", "snake_case stays"},
		{"?!...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("what is your name", "what is your name"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.InDelta(t, 50.0/52.0, Similarity("whats your favorite color", "what is your favorite color"), 1e-9)
	assert.InDelta(t, 50.0/52.0, Similarity("what is ur favorite color", "what is your favorite color"), 1e-9)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil)
	require.Error(t, err)

	_, err = New(newFakePage(), Config{FuzzyThreshold: 1.5}, nil)
	require.Error(t, err)
}

func TestFindQuestionFuzzyMatch(t *testing.T) {
	page := newFakePage()
	page.heading(1, "Welcome")
	want := page.heading(2, "What is your favorite color?")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	match, ok := m.FindQuestion(context.Background(), "What's your favorite color?", true)

	require.True(t, ok)
	assert.Same(t, want, match.Element)
	assert.Equal(t, 2, match.Tier)
	assert.GreaterOrEqual(t, match.Score, 0.75)
	assert.False(t, match.Cached)
}

func TestFindQuestionZeroThresholdAcceptsBest(t *testing.T) {
	page := newFakePage()
	want := page.heading(2, "Preferred contact method")
	m, _ := newTestMatcher(t, page, Config{FuzzyThreshold: 0})

	match, ok := m.FindQuestion(context.Background(), "zzzz", true)
	require.True(t, ok)
	assert.Same(t, want, match.Element)
	assert.Less(t, match.Score, 0.75)
}

func TestNegativeThresholdTakesDefault(t *testing.T) {
	assert.Equal(t, 0.75, Config{FuzzyThreshold: -1}.withDefaults().FuzzyThreshold)
	assert.Zero(t, Config{}.withDefaults().FuzzyThreshold)
}

func TestFindQuestionBelowThreshold(t *testing.T) {
	page := newFakePage()
	page.heading(2, "What is your favorite color?")
	m, _ := newTestMatcher(t, page, Config{FuzzyThreshold: 0.97})

	_, ok := m.FindQuestion(context.Background(), "What is ur favorite color?", true)
	assert.False(t, ok)

	// nothing is cached on a miss
	_, ok = m.FindQuestion(context.Background(), "What is ur favorite color?", false)
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.NotFound)
	assert.Equal(t, uint64(0), stats.CacheHits)
	assert.Equal(t, 0, stats.CachedQuestions)
}

func TestFindQuestionExactScoresOne(t *testing.T) {
	page := newFakePage()
	page.heading(3, "Do you smoke?")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	match, ok := m.FindQuestion(context.Background(), "do you SMOKE", true)
	require.True(t, ok)
	assert.Equal(t, 1.0, match.Score)
}

func TestFindQuestionFirstMaxWins(t *testing.T) {
	page := newFakePage()
	first := page.heading(2, "Your age")
	page.heading(4, "Your age")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	match, ok := m.FindQuestion(context.Background(), "Your age", true)
	require.True(t, ok)
	assert.Same(t, first, match.Element)
}

func TestFindQuestionEmptyQuery(t *testing.T) {
	page := newFakePage()
	page.heading(1, "Anything")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	_, ok := m.FindQuestion(context.Background(), "???", true)
	assert.False(t, ok)
}

func TestFindQuestionCacheShortCircuits(t *testing.T) {
	page := newFakePage()
	want := page.heading(2, "Do you own a car?")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	_, ok := m.FindQuestion(context.Background(), "Do you own a car?", true)
	require.True(t, ok)

	// an empty pool proves the second lookup never scores
	m.pool = nil
	match, ok := m.FindQuestion(context.Background(), "Do you own a car?", false)
	require.True(t, ok)
	assert.Same(t, want, match.Element)
	assert.True(t, match.Cached)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, uint64(1), stats.Found)
	assert.Equal(t, uint64(2), stats.TotalSearches)
	assert.InDelta(t, 50.0, stats.CacheHitRate(), 1e-9)
}

func TestFindQuestionEvictsStaleCache(t *testing.T) {
	page := newFakePage()
	old := page.heading(2, "Do you own a car?")
	m, clk := newTestMatcher(t, page, DefaultConfig())

	_, ok := m.FindQuestion(context.Background(), "Do you own a car?", true)
	require.True(t, ok)

	// page re-rendered: the old handle is gone, a new one carries the text
	old.visible = false
	fresh := page.heading(2, "Do you own a car?")
	clk.advance(6 * time.Second)

	match, ok := m.FindQuestion(context.Background(), "Do you own a car?", true)
	require.True(t, ok)
	assert.Same(t, fresh, match.Element)
	assert.False(t, match.Cached)
}

func TestRefreshPoolHonoursTTL(t *testing.T) {
	page := newFakePage()
	page.heading(1, "Title")
	hidden := page.heading(2, "Hidden")
	hidden.visible = false
	page.heading(3, "   ")
	m, clk := newTestMatcher(t, page, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.RefreshPool(ctx, false))
	assert.Equal(t, len(HeadingTiers), page.queries)
	require.Len(t, m.Pool(), 1)
	assert.Equal(t, "title", m.Pool()[0].Normalized)

	require.NoError(t, m.RefreshPool(ctx, false))
	assert.Equal(t, len(HeadingTiers), page.queries)

	clk.advance(5 * time.Second)
	require.NoError(t, m.RefreshPool(ctx, false))
	assert.Equal(t, 2*len(HeadingTiers), page.queries)

	require.NoError(t, m.RefreshPool(ctx, true))
	assert.Equal(t, 3*len(HeadingTiers), page.queries)
}

func TestRefreshPoolCancelledKeepsOldPool(t *testing.T) {
	page := newFakePage()
	page.heading(1, "Title")
	m, _ := newTestMatcher(t, page, DefaultConfig())
	require.NoError(t, m.RefreshPool(context.Background(), true))

	ctx, cancel := context.WithCancel(context.Background())
	page.heading(2, "Added later")
	page.onQuery = func(n int) {
		if n == len(HeadingTiers)+2 {
			cancel()
		}
	}

	err := m.RefreshPool(ctx, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, m.Pool(), 1)
}

func TestFindAnswerButtonCascadeOrder(t *testing.T) {
	page := newFakePage()
	heading := page.heading(2, "Do you smoke?")
	want := page.button(heading, browser.RelationFollowingSiblings, "No")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	el, rel, ok := m.FindAnswerButton(context.Background(), heading, "No", true)

	require.True(t, ok)
	assert.Same(t, want, el)
	assert.Equal(t, browser.RelationFollowingSiblings, rel)
	assert.Equal(t, []browser.Relation{
		browser.RelationParent,
		browser.RelationGrandparent,
		browser.RelationGreatGrandparent,
		browser.RelationFollowingSiblings,
	}, page.lookups)
}

func TestFindAnswerButtonFallsBackToPage(t *testing.T) {
	page := newFakePage()
	heading := page.heading(2, "Do you smoke?")
	page.button(nil, browser.RelationPage, "Yes")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	_, rel, ok := m.FindAnswerButton(context.Background(), heading, "Yes", false)
	require.True(t, ok)
	assert.Equal(t, browser.RelationPage, rel)
	assert.Len(t, page.lookups, 5)
}

func TestAnswerQuestionOutcomes(t *testing.T) {
	t.Run("answered", func(t *testing.T) {
		page := newFakePage()
		heading := page.heading(2, "Do you smoke?")
		btn := page.button(heading, browser.RelationParent, "No")
		m, _ := newTestMatcher(t, page, DefaultConfig())

		outcome, err := m.AnswerQuestion(context.Background(), "Do you smoke", "No", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAnswered, outcome)
		assert.True(t, outcome.OK())
		require.Len(t, btn.clicks, 1)
		assert.Equal(t, 100*time.Millisecond, btn.clicks[0].Delay)
	})

	t.Run("network never idle", func(t *testing.T) {
		page := newFakePage()
		heading := page.heading(2, "Do you smoke?")
		btn := page.button(heading, browser.RelationParent, "No")
		page.idleErr = browser.ErrTimeout

		logger, hook := test.NewNullLogger()
		m, err := New(page, DefaultConfig(), logger)
		require.NoError(t, err)

		outcome, err := m.AnswerQuestion(context.Background(), "Do you smoke", "No", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotSettled, outcome)
		assert.False(t, outcome.OK())
		require.Len(t, btn.clicks, 1)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	})

	t.Run("question not found", func(t *testing.T) {
		page := newFakePage()
		m, _ := newTestMatcher(t, page, DefaultConfig())

		outcome, err := m.AnswerQuestion(context.Background(), "Do you smoke", "No", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQuestionNotFound, outcome)
	})

	t.Run("button not found", func(t *testing.T) {
		page := newFakePage()
		page.heading(2, "Do you smoke?")
		m, _ := newTestMatcher(t, page, DefaultConfig())

		outcome, err := m.AnswerQuestion(context.Background(), "Do you smoke", "Maybe", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeButtonNotFound, outcome)
	})

	t.Run("click failed is logged as error", func(t *testing.T) {
		page := newFakePage()
		heading := page.heading(2, "Do you smoke?")
		btn := page.button(heading, browser.RelationParent, "No")
		btn.clickErr = errors.New("element intercepted")

		logger, hook := test.NewNullLogger()
		m, err := New(page, DefaultConfig(), logger)
		require.NoError(t, err)

		outcome, err := m.AnswerQuestion(context.Background(), "Do you smoke", "No", true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeClickFailed, outcome)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	})
}

func TestAnswerQuestionCancelled(t *testing.T) {
	page := newFakePage()
	page.heading(2, "Do you smoke?")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.AnswerQuestion(ctx, "Do you smoke", "No", true)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnswerQuestionWithRetryRecovers(t *testing.T) {
	page := newFakePage()
	heading := page.heading(2, "Loading...")
	page.button(heading, browser.RelationParent, "Yes")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	// the question renders once the first pool has been built
	page.onQuery = func(n int) {
		if n == len(HeadingTiers) {
			heading.text = "Are you over 18?"
		}
	}

	outcome, err := m.AnswerQuestionWithRetry(context.Background(), "Are you over 18?", "Yes", true, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, outcome)
	assert.Equal(t, []time.Duration{time.Second}, page.waits)
	assert.Equal(t, 2*len(HeadingTiers), page.queries)
}

func TestAnswerQuestionWithRetryExhausted(t *testing.T) {
	page := newFakePage()
	m, _ := newTestMatcher(t, page, DefaultConfig())

	outcome, err := m.AnswerQuestionWithRetry(context.Background(), "Are you over 18?", "Yes", true, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuestionNotFound, outcome)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, page.waits)
}

func TestCheckQuestionsBatchRefreshesOnce(t *testing.T) {
	page := newFakePage()
	page.heading(2, "Do you smoke?")
	page.heading(2, "Do you drink?")
	m, _ := newTestMatcher(t, page, DefaultConfig())

	results, err := m.CheckQuestionsBatch(context.Background(), []string{
		"Do you smoke?",
		"Do you drink?",
		"Do you own a boat?",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"Do you smoke?":      true,
		"Do you drink?":      true,
		"Do you own a boat?": false,
	}, results)
	assert.Equal(t, len(HeadingTiers), page.queries)
}

func TestPreload(t *testing.T) {
	page := newFakePage()
	page.heading(1, "Start")
	page.idleErr = browser.ErrTimeout
	m, _ := newTestMatcher(t, page, DefaultConfig())

	require.NoError(t, m.Preload(context.Background(), 2*time.Second))
	assert.Equal(t, []time.Duration{2 * time.Second}, page.waits)
	assert.Equal(t, 1, m.Stats().PoolSize)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "answered", OutcomeAnswered.String())
	assert.Equal(t, "button_not_found", OutcomeButtonNotFound.String())
	assert.Equal(t, "unknown", Outcome(42).String())
	assert.Equal(t, "not_settled", OutcomeNotSettled.String())
	assert.False(t, OutcomeClickFailed.OK())
	assert.False(t, OutcomeNotSettled.OK())
}

func TestStatsReport(t *testing.T) {
	s := Stats{TotalSearches: 4, Found: 3, NotFound: 1, CacheHits: 1, CacheMisses: 3, PoolSize: 7}
	assert.InDelta(t, 75.0, s.SuccessRate(), 1e-9)
	report := s.Report()
	assert.Contains(t, report, "Success rate:       75.0%")
	assert.Contains(t, report, "Headings in pool:   7")
}
