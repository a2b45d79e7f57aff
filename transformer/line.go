package transformer

import (
	"strings"
)

// Kind classifies a recorded action line.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCritical lines run unwrapped; a failure stops the iteration.
	KindCritical
	// KindResilient lines are wrapped so a timeout is logged and skipped.
	KindResilient
	// KindPopupAssignment binds a popup handle and is followed by
	// stabilization code.
	KindPopupAssignment
	// KindDirective lines were directive comments expanded into code.
	KindDirective
)

func (k Kind) String() string {
	switch k {
	case KindCritical:
		return "critical"
	case KindResilient:
		return "resilient"
	case KindPopupAssignment:
		return "popup-assignment"
	case KindDirective:
		return "directive"
	default:
		return "unknown"
	}
}

// Description is what the transformer could extract about an action's
// target. Every field is optional.
type Description struct {
	Verb        string
	Role        string
	Name        string
	Text        string
	Label       string
	Placeholder string
	TestID      string
	Selector    string
	Value       string
}

// Target renders the most specific target: role and name, then text,
// label, placeholder, test id, and finally the raw selector.
func (d Description) Target() string {
	switch {
	case d.Role != "" && d.Name != "":
		return d.Role + " '" + d.Name + "'"
	case d.Role != "":
		return d.Role
	case d.Text != "":
		return "text '" + d.Text + "'"
	case d.Label != "":
		return "label '" + d.Label + "'"
	case d.Placeholder != "":
		return "placeholder '" + d.Placeholder + "'"
	case d.TestID != "":
		return "test id '" + d.TestID + "'"
	case d.Selector != "":
		return "locator '" + d.Selector + "'"
	}
	return ""
}

// String is the short human-readable form used in generated log lines.
func (d Description) String() string {
	target := d.Target()
	switch {
	case d.Verb != "" && target != "":
		return d.Verb + " " + target
	case target != "":
		return target
	default:
		return d.Verb
	}
}

// ActionLine is one classified input line. It is not modified after its
// rule has run.
type ActionLine struct {
	// Number is the 1-based input line number.
	Number int
	// Source is the line after quote and tab normalization, without its
	// leading indentation.
	Source string
	// Indent is the leading indentation of the input line in spaces.
	Indent int
	Kind   Kind
	// Rule names the rule that classified the line.
	Rule string
	// Handle is the page handle the line acts on, if any.
	Handle string
	// Optional is set when a preceding #optional marker was applied.
	Optional    bool
	Description Description
}

// Label is the description used in generated log lines, falling back to
// the clipped source text.
func (a *ActionLine) Label() string {
	if s := a.Description.String(); s != "" && a.Description.Target() != "" {
		return s
	}
	return clip(a.Source, 60)
}

// OutputLine is one line of the resilient script.
type OutputLine struct {
	Depth int
	Text  string
	// Action is the input line that produced this line.
	Action *ActionLine
}

// IndentUnit is one level of generated indentation.
const IndentUnit = "    "

// Render joins lines into source text, indenting each by depth plus
// baseDepth levels. A trailing newline is always present for non-empty
// input.
func Render(lines []OutputLine, baseDepth int) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(strings.Repeat(IndentUnit, baseDepth+l.Depth))
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
