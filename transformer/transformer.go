// Package transformer turns recorded Playwright codegen (Python, sync API)
// into a resilient action sequence.
//
// Each recorded line is classified by an ordered rule table. Interaction
// lines that may legitimately be missing from a dynamic questionnaire are
// wrapped so a timeout is logged and skipped; navigation and popup
// handling stay critical; actions on popup pages get a retry loop with
// scroll recovery; directive comments (#pause3, #scroll, #optional, ...)
// expand into concrete code. The output is text only: the transformer
// never touches a browser.
package transformer

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formflow/retry"
)

// DefaultOptionalKeywords mark popup actions whose final failure is
// tolerated instead of raised.
var DefaultOptionalKeywords = []string{
	"show more",
	"load more",
	"expand",
	"see more",
	"view more",
	"read more",
	"show all",
}

// Options configure a Transformer.
type Options struct {
	// Variables bind {{key}} and ${key} placeholders before classification.
	Variables map[string]string
	// OptionalKeywords are matched case-insensitively against a popup
	// action's description.
	OptionalKeywords []string
	// Popup is the retry schedule rendered around popup actions.
	Popup retry.Policy

	HeadingTimeout        time.Duration
	ScrollIntoViewTimeout time.Duration
	LoadStateTimeout      time.Duration
	NetworkIdleTimeout    time.Duration
	// ScrollSettle is the pause after each generated scroll.
	ScrollSettle time.Duration

	Logger logrus.FieldLogger
}

// DefaultOptions returns the stock generation settings.
func DefaultOptions() Options {
	return Options{
		OptionalKeywords:      DefaultOptionalKeywords,
		Popup:                 retry.Popup(),
		HeadingTimeout:        5 * time.Second,
		ScrollIntoViewTimeout: 3 * time.Second,
		LoadStateTimeout:      10 * time.Second,
		NetworkIdleTimeout:    15 * time.Second,
		ScrollSettle:          500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OptionalKeywords == nil {
		o.OptionalKeywords = d.OptionalKeywords
	}
	if o.Popup.MaxAttempts < 1 || len(o.Popup.Delays) == 0 {
		o.Popup = d.Popup
	}
	if o.HeadingTimeout <= 0 {
		o.HeadingTimeout = d.HeadingTimeout
	}
	if o.ScrollIntoViewTimeout <= 0 {
		o.ScrollIntoViewTimeout = d.ScrollIntoViewTimeout
	}
	if o.LoadStateTimeout <= 0 {
		o.LoadStateTimeout = d.LoadStateTimeout
	}
	if o.NetworkIdleTimeout <= 0 {
		o.NetworkIdleTimeout = d.NetworkIdleTimeout
	}
	if o.ScrollSettle <= 0 {
		o.ScrollSettle = d.ScrollSettle
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// Transformer rewrites recorded scripts. It holds no per-run state and may
// be shared.
type Transformer struct {
	opts Options
	log  logrus.FieldLogger
}

// New creates a Transformer.
func New(opts Options) *Transformer {
	opts = opts.withDefaults()
	return &Transformer{
		opts: opts,
		log:  opts.Logger.WithField("component", "transformer"),
	}
}

// Result is the outcome of one transformation.
type Result struct {
	Lines []OutputLine
	// Actions are the classified input lines in input order. Dropped lines
	// are not included.
	Actions  []*ActionLine
	Dropped  int
	Warnings []string
}

// Count returns how many input lines were classified as k.
func (r Result) Count(k Kind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == k {
			n++
		}
	}
	return n
}

// Code renders the output at depth zero.
func (r Result) Code() string {
	return Render(r.Lines, 0)
}

// TransformText transforms newline-separated source.
func (t *Transformer) TransformText(src string) Result {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	return t.Transform(strings.Split(src, "\n"))
}

// Transform classifies and rewrites lines. The same input always produces
// the same output.
func (t *Transformer) Transform(lines []string) Result {
	s := newState(&t.opts, t.log)

	for i, raw := range lines {
		if len(t.opts.Variables) > 0 {
			raw = BindVariables(raw, t.opts.Variables)
		}
		src, indent := normalizeLine(raw)
		line := &ActionLine{
			Number: i + 1,
			Source: src,
			Indent: indent,
			Handle: handleOf(src),

			Description: describe(src),
		}
		s.process(line)
	}
	s.finish()

	res := Result{
		Lines:    s.out,
		Actions:  s.actions,
		Dropped:  s.dropped,
		Warnings: s.warnings,
	}
	t.log.WithFields(logrus.Fields{
		"input":     len(lines),
		"output":    len(res.Lines),
		"critical":  res.Count(KindCritical),
		"resilient": res.Count(KindResilient),
		"popups":    res.Count(KindPopupAssignment),
		"warnings":  len(res.Warnings),
	}).Info("transformation complete")
	return res
}

// block is an open "with" statement.
type block struct {
	opener *ActionLine
	// depth is the output depth of the with line itself.
	depth int
	// info is the "as" target, empty when the block has none.
	info  string
	popup bool
	// wrapped blocks sit inside a try emitted at depth-1.
	wrapped bool
	// body counts lines emitted inside the block.
	body int
}

// state is the accumulator threaded through one transformation.
type state struct {
	opts *Options
	log  logrus.FieldLogger

	// page is the handle directives act on: the most recently assigned
	// popup, or "page".
	page     string
	optional *ActionLine
	block    *block

	popupInfos map[string]bool
	popups     map[string]bool

	out      []OutputLine
	actions  []*ActionLine
	dropped  int
	warnings []string
}

func newState(opts *Options, log logrus.FieldLogger) *state {
	return &state{
		opts:       opts,
		log:        log,
		page:       "page",
		popupInfos: map[string]bool{},
		popups:     map[string]bool{},
	}
}

func (s *state) process(line *ActionLine) {
	for _, r := range rules {
		if !r.match(s, line) {
			continue
		}
		line.Rule = r.name
		r.apply(s, line)
		if line.Kind != KindUnknown {
			s.actions = append(s.actions, line)
		}
		s.log.WithFields(logrus.Fields{
			"line": line.Number,
			"rule": r.name,
			"kind": line.Kind.String(),
		}).Debug("line classified")
		return
	}
}

func (s *state) finish() {
	if s.block != nil {
		if s.block.info != "" {
			s.warn(s.block.opener, "with block was never closed by its %s.value assignment", s.block.info)
		}
		s.closeBlock()
	}
	if s.optional != nil {
		s.warn(s.optional, "#optional is not followed by an action and was ignored")
		s.optional = nil
	}
}

func (s *state) warn(line *ActionLine, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line != nil {
		msg = fmt.Sprintf("line %d: %s", line.Number, msg)
	}
	s.warnings = append(s.warnings, msg)
	s.log.Warn(msg)
}

// takeOptional consumes a pending #optional marker.
func (s *state) takeOptional(line *ActionLine) bool {
	if s.optional == nil {
		return false
	}
	s.optional = nil
	line.Optional = true
	return true
}

// depth is where the next statement goes.
func (s *state) depth() int {
	if s.block != nil {
		return s.block.depth + 1
	}
	return 0
}

func (s *state) emit(depth int, action *ActionLine, text string) {
	if s.block != nil && depth > s.block.depth {
		s.block.body++
	}
	s.out = append(s.out, OutputLine{Depth: depth, Text: text, Action: action})
}

func (s *state) logStep(depth int, action *ActionLine, level, msg string) {
	s.emit(depth, action, fmt.Sprintf("log_step(%s, %s)", pyQuote(level), pyQuote(msg)))
}

// openBlock emits the with line. An optional block is wrapped whole.
func (s *state) openBlock(line *ActionLine, info string, popup bool) {
	b := &block{opener: line, info: info, popup: popup}
	if line.Optional {
		s.emit(0, line, "try:")
		b.wrapped = true
		b.depth = 1
	}
	s.emit(b.depth, line, line.Source)
	s.block = b
}

// closeBlock ends the open block, emitting the handler of a wrapped one.
func (s *state) closeBlock() {
	b := s.block
	if b == nil {
		return
	}
	s.ensureBody()
	s.block = nil
	if !b.wrapped {
		return
	}
	s.emit(b.depth-1, b.opener, "except PlaywrightTimeout:")
	s.logStep(b.depth, b.opener, "WARN", "Optional step skipped: "+clip(b.opener.Source, 60))
}

// ensureBody keeps the open block syntactically valid when every line
// inside it was dropped.
func (s *state) ensureBody() {
	if s.block != nil && s.block.body == 0 {
		s.emit(s.block.depth+1, s.block.opener, "pass")
	}
}

// afterAction closes a block without an "as" target once it holds its
// single action.
func (s *state) afterAction() {
	if s.block == nil || s.block.info != "" {
		return
	}
	s.closeBlock()
}

func (s *state) isPopupHandle(handle string) bool {
	return s.popups[handle] || popupHandleRe.MatchString(handle)
}

func (s *state) isOptionalKeyword(desc string) bool {
	desc = strings.ToLower(desc)
	for _, kw := range s.opts.OptionalKeywords {
		if kw != "" && strings.Contains(desc, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func millis(d time.Duration) int64 {
	return d.Milliseconds()
}
