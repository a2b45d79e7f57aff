package transformer

import (
	"regexp"
	"strings"
)

// rule is one row of the classification table. Rules are tried in order
// and the first match wins.
type rule struct {
	name  string
	match func(s *state, line *ActionLine) bool
	apply func(s *state, line *ActionLine)
}

var (
	withRe         = regexp.MustCompile(`^with\s+(.+?)(?:\s+as\s+([A-Za-z_]\w*))?\s*:\s*$`)
	popupOpenerRe  = regexp.MustCompile(`\.expect_(?:popup|page)\(`)
	infoAssignRe   = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*([A-Za-z_]\w*_info)\.value\s*$`)
	popupHandleRe  = regexp.MustCompile(`^page\d+$`)
	boilerplateRes = []*regexp.Regexp{
		regexp.MustCompile(`^import\s`),
		regexp.MustCompile(`^from\s+\S+\s+import\s`),
		regexp.MustCompile(`^(?:async\s+)?def\s+run\(`),
		regexp.MustCompile(`^(?:async\s+)?with\s+(?:async|sync)_playwright\(\)`),
		regexp.MustCompile(`^(?:await\s+)?run\(\s*playwright\s*\)\s*$`),
		regexp.MustCompile(`^browser\s*=\s*(?:await\s+)?playwright\.\w+\.launch`),
		regexp.MustCompile(`^context\s*=\s*(?:await\s+)?(?:browser\.new_context|playwright\.\w+\.launch_persistent_context)\(`),
		regexp.MustCompile(`^page\s*=\s*(?:await\s+)?(?:context|browser)\.new_page\(\s*\)\s*$`),
		regexp.MustCompile(`^(?:await\s+)?(?:context|browser|page)\.close\(\s*\)\s*$`),
	}
)

var rules = []rule{
	{name: "drop", match: matchDrop, apply: applyDrop},
	{name: "directive", match: matchDirective, apply: applyDirective},
	{name: "heading-check", match: matchHeadingClick, apply: applyHeadingClick},
	{name: "with-block", match: matchWith, apply: applyWith},
	{name: "handle-assignment", match: matchInfoAssignment, apply: applyInfoAssignment},
	{name: "navigation", match: matchNavigation, apply: applyCritical},
	{name: "popup-action", match: matchPopupAction, apply: applyPopupAction},
	{name: "interaction", match: matchInteraction, apply: applyInteraction},
	{name: "passthrough", match: matchAny, apply: applyCritical},
}

func matchDrop(_ *state, line *ActionLine) bool {
	src := line.Source
	if src == "" {
		return true
	}
	if strings.HasPrefix(src, "#") {
		_, _, ok := lookupDirective(src)
		return !ok
	}
	for _, re := range boilerplateRes {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

// applyDrop leaves a pending #optional marker in place.
func applyDrop(s *state, _ *ActionLine) {
	s.dropped++
}

func matchDirective(_ *state, line *ActionLine) bool {
	_, _, ok := lookupDirective(line.Source)
	return ok
}

func applyDirective(s *state, line *ActionLine) {
	d, args, _ := lookupDirective(line.Source)
	line.Kind = KindDirective
	line.Handle = s.page
	d.expand(s, line, args)
}

func matchHeadingClick(_ *state, line *ActionLine) bool {
	return isHeadingClick(line.Source)
}

func applyHeadingClick(s *state, line *ActionLine) {
	s.takeOptional(line)
	name, ok := headingName(line.Source)
	if !ok {
		s.dropped++
		s.warn(line, "heading name could not be extracted, step dropped: %s", clip(line.Source, 80))
		return
	}
	line.Kind = KindResilient
	line.Description.Role = "heading"
	line.Description.Name = name
	s.emit(s.depth(), line, "check_heading("+line.Handle+", ["+pyQuote(name)+"], timeout="+itoa(millis(s.opts.HeadingTimeout))+")")
	s.afterAction()
}

func matchWith(_ *state, line *ActionLine) bool {
	return withRe.MatchString(line.Source)
}

func applyWith(s *state, line *ActionLine) {
	s.closeBlock()
	m := withRe.FindStringSubmatch(line.Source)
	info := m[2]
	popup := popupOpenerRe.MatchString(m[1])
	if popup && info != "" {
		s.popupInfos[info] = true
	}
	s.takeOptional(line)
	line.Kind = KindCritical
	s.openBlock(line, info, popup)
}

func matchInfoAssignment(_ *state, line *ActionLine) bool {
	return infoAssignRe.MatchString(line.Source)
}

// applyInfoAssignment handles "x = y_info.value". Popup handles get
// stabilization code and become the current page context.
func applyInfoAssignment(s *state, line *ActionLine) {
	if s.takeOptional(line) {
		line.Optional = false
		s.warn(line, "#optional has no effect on a handle assignment and was ignored")
	}
	m := infoAssignRe.FindStringSubmatch(line.Source)
	handle, info := m[1], m[2]
	line.Handle = handle

	depth := 0
	if b := s.block; b != nil {
		if b.info == info {
			depth = b.depth
			s.ensureBody()
		} else {
			s.closeBlock()
		}
	}

	s.emit(depth, line, line.Source)
	if s.popupInfos[info] || popupHandleRe.MatchString(handle) {
		line.Kind = KindPopupAssignment
		s.popups[handle] = true
		s.page = handle
		emitStabilization(s, line, depth, handle)
	} else {
		line.Kind = KindCritical
	}
	s.closeBlock()
}

func matchNavigation(_ *state, line *ActionLine) bool {
	return isNavigation(line.Source)
}

func matchPopupAction(s *state, line *ActionLine) bool {
	return s.isPopupHandle(line.Handle) && isInteraction(line.Source)
}

func applyPopupAction(s *state, line *ActionLine) {
	switch {
	case s.takeOptional(line):
		emitResilient(s, line)
	case s.block != nil:
		line.Kind = KindCritical
		s.emit(s.depth(), line, line.Source)
	default:
		line.Kind = KindCritical
		emitPopupRetry(s, line)
	}
	s.afterAction()
}

func matchInteraction(_ *state, line *ActionLine) bool {
	return isInteraction(line.Source)
}

// applyInteraction wraps user interactions, except inside a with block
// where the action is what the block waits on.
func applyInteraction(s *state, line *ActionLine) {
	optional := s.takeOptional(line)
	if s.block != nil && !optional {
		line.Kind = KindCritical
		s.emit(s.depth(), line, line.Source)
	} else {
		emitResilient(s, line)
	}
	s.afterAction()
}

func matchAny(*state, *ActionLine) bool { return true }

// applyCritical emits the line unchanged unless #optional demoted it.
func applyCritical(s *state, line *ActionLine) {
	if s.takeOptional(line) {
		emitResilient(s, line)
	} else {
		line.Kind = KindCritical
		s.emit(s.depth(), line, line.Source)
	}
	s.afterAction()
}

// emitResilient wraps the line so a timeout is logged and skipped.
func emitResilient(s *state, line *ActionLine) {
	line.Kind = KindResilient
	d := s.depth()
	s.emit(d, line, "try:")
	s.emit(d+1, line, line.Source)
	s.logStep(d+1, line, "INFO", line.Label())
	s.emit(d, line, "except PlaywrightTimeout:")
	s.logStep(d+1, line, "WARN", "Skipped, not available in time: "+line.Label())
}
