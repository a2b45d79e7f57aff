package transformer

import (
	"strconv"
	"strings"
)

// emitStabilization follows a popup handle assignment: wait for the DOM,
// give the network a bounded chance to settle, then scroll to the bottom
// and back to the middle so lazy content renders.
func emitStabilization(s *state, line *ActionLine, d int, handle string) {
	s.emit(d, line, handle+`.wait_for_load_state("domcontentloaded")`)
	s.emit(d, line, "try:")
	s.emit(d+1, line, handle+`.wait_for_load_state("networkidle", timeout=`+itoa(millis(s.opts.NetworkIdleTimeout))+")")
	s.emit(d, line, "except PlaywrightTimeout:")
	s.logStep(d+1, line, "WARN", handle+": network did not go idle, continuing")
	emitScrollRecovery(s, line, d, handle)
	s.logStep(d, line, "INFO", handle+": popup ready")
}

func emitScrollRecovery(s *state, line *ActionLine, d int, handle string) {
	settle := itoa(millis(s.opts.ScrollSettle))
	s.emit(d, line, handle+".evaluate("+pyQuote(scrollBottomJS)+")")
	s.emit(d, line, handle+".wait_for_timeout("+settle+")")
	s.emit(d, line, handle+".evaluate("+pyQuote(scrollMiddleJS)+")")
	s.emit(d, line, handle+".wait_for_timeout("+settle+")")
}

// emitPopupRetry wraps an action on a popup page in the retry loop. Whether
// the last failure is tolerated is decided here from the action's
// description.
func emitPopupRetry(s *state, line *ActionLine) {
	policy := s.opts.Popup
	attempts := policy.MaxAttempts
	n := strconv.Itoa(attempts)
	handle := line.Handle
	label := handle + ": " + line.Label()
	tolerated := s.isOptionalKeyword(line.Description.String())

	d := s.depth()
	s.emit(d, line, "for attempt in range(1, "+strconv.Itoa(attempts+1)+"):")
	s.emit(d+1, line, "try:")
	if target, ok := clickTarget(line); ok {
		s.emit(d+2, line, target+".scroll_into_view_if_needed(timeout="+itoa(millis(s.opts.ScrollIntoViewTimeout))+")")
	}
	s.emit(d+2, line, line.Source)
	s.logStep(d+2, line, "INFO", label)
	s.emit(d+2, line, "break")
	s.emit(d+1, line, "except PlaywrightTimeout:")
	s.emit(d+2, line, "if attempt == "+n+":")
	if tolerated {
		s.logStep(d+3, line, "WARN", label+" skipped after "+n+" attempts")
		s.emit(d+3, line, "break")
	} else {
		s.logStep(d+3, line, "ERROR", label+" failed after "+n+" attempts")
		s.emit(d+3, line, "raise")
	}
	s.emit(d+2, line, "delay = "+delayList(s)+"[attempt - 1]")
	s.emit(d+2, line, "log_step(\"WARN\", "+pyQuote(label)+` + f" failed on attempt {attempt}/`+n+`, retrying in {delay}s")`)
	s.emit(d+2, line, "time.sleep(delay)")
	s.emit(d+2, line, "try:")
	s.emit(d+3, line, handle+`.wait_for_load_state("load", timeout=`+itoa(millis(s.opts.LoadStateTimeout))+")")
	s.emit(d+2, line, "except PlaywrightTimeout:")
	s.emit(d+3, line, "pass")
	emitScrollRecovery(s, line, d+2, handle)

	if tolerated {
		s.log.WithField("line", line.Number).Debug("popup action tolerated on final failure")
	}
}

// delayList renders the schedule as a Python list long enough to index
// every retry.
func delayList(s *state) string {
	policy := s.opts.Popup
	n := len(policy.Delays)
	if policy.MaxAttempts-1 > n {
		n = policy.MaxAttempts - 1
	}
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, strconv.Itoa(int(policy.Delay(i).Seconds())))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// clickTarget returns the locator expression a click is invoked on, for
// example page1.get_by_role("button", name="Go") for
// page1.get_by_role("button", name="Go").click(). A legacy page1.click("#more")
// targets page1.locator("#more").
func clickTarget(line *ActionLine) (string, bool) {
	if !isClick(line.Description) {
		return "", false
	}
	src := line.Source
	i := strings.LastIndex(src, "."+line.Description.Verb+"(")
	if i <= 0 {
		return "", false
	}
	target := src[:i]
	if target == line.Handle {
		sel := line.Description.Selector
		if sel == "" || !legacyRe.MatchString(src) {
			return "", false
		}
		return line.Handle + ".locator(" + pyQuote(sel) + ")", true
	}
	return target, true
}
