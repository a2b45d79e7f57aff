package transformer

import (
	"regexp"
	"strconv"
)

const (
	scrollBottomJS = `window.scrollTo(0, document.body.scrollHeight)`
	scrollTopJS    = `window.scrollTo(0, 0)`
	scrollMiddleJS = `window.scrollTo(0, document.body.scrollHeight / 2)`
)

// directive is a comment the recorder's user typed to steer generation.
type directive struct {
	name   string
	re     *regexp.Regexp
	expand func(s *state, line *ActionLine, args []string)
}

var directives = []directive{
	{name: "pause", re: regexp.MustCompile(`(?i)^#\s*pause\s*(\d+)\s*$`), expand: expandPause},
	{name: "scrolldown", re: regexp.MustCompile(`(?i)^#\s*scroll(?:down)?\s*$`), expand: expandScroll(scrollBottomJS, "Scrolled to bottom")},
	{name: "scrollup", re: regexp.MustCompile(`(?i)^#\s*scrollup\s*$`), expand: expandScroll(scrollTopJS, "Scrolled to top")},
	{name: "scrollmid", re: regexp.MustCompile(`(?i)^#\s*scrollmid\s*$`), expand: expandScroll(scrollMiddleJS, "Scrolled to middle")},
	{name: "toggle_switches", re: regexp.MustCompile(`(?i)^#\s*toggle_switches\s*$`), expand: expandToggleSwitches},
	{name: "optional", re: regexp.MustCompile(`(?i)^#\s*optional\s*$`), expand: expandOptional},
}

func lookupDirective(src string) (directive, []string, bool) {
	for _, d := range directives {
		if m := d.re.FindStringSubmatch(src); m != nil {
			return d, m[1:], true
		}
	}
	return directive{}, nil, false
}

func expandPause(s *state, line *ActionLine, args []string) {
	secs, err := strconv.Atoi(args[0])
	if err != nil {
		s.warn(line, "pause length %q is not a number", args[0])
		return
	}
	d := s.depth()
	s.logStep(d, line, "INFO", "Pause "+args[0]+"s")
	s.emit(d, line, s.page+".wait_for_timeout("+itoa(int64(secs)*1000)+")")
}

func expandScroll(js, msg string) func(*state, *ActionLine, []string) {
	return func(s *state, line *ActionLine, _ []string) {
		d := s.depth()
		s.emit(d, line, s.page+".evaluate("+pyQuote(js)+")")
		s.emit(d, line, s.page+".wait_for_timeout("+itoa(millis(s.opts.ScrollSettle))+")")
		s.logStep(d, line, "INFO", msg)
	}
}

// expandToggleSwitches turns on every switch that is currently off.
func expandToggleSwitches(s *state, line *ActionLine, _ []string) {
	d := s.depth()
	s.emit(d, line, "for toggle in "+s.page+`.get_by_role("switch").all():`)
	s.emit(d+1, line, "try:")
	s.emit(d+2, line, `if toggle.get_attribute("aria-checked") != "true":`)
	s.emit(d+3, line, "toggle.click(timeout="+itoa(millis(s.opts.ScrollIntoViewTimeout))+")")
	s.emit(d+1, line, "except PlaywrightTimeout:")
	s.logStep(d+2, line, "WARN", "Switch did not respond, continuing")
	s.logStep(d, line, "INFO", "Switches toggled on")
}

func expandOptional(s *state, line *ActionLine, _ []string) {
	if s.optional != nil {
		s.warn(s.optional, "#optional repeated before an action, markers do not stack")
	}
	s.optional = line
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
