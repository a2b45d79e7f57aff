package transformer

import (
	"regexp"
	"strings"
)

// A Python string literal in either quote style. The body is captured by
// the first group for double quotes and the second for single quotes.
const pyString = `(?:"((?:\\.|[^"\\])*)"|'((?:\\.|[^'\\])*)')`

var (
	handleRe      = regexp.MustCompile(`^([A-Za-z_]\w*)\.`)
	interactionRe = regexp.MustCompile(`\.(click|dblclick|fill|select_option|check|uncheck|set_checked|press_sequentially|press|type)\(`)
	navigationRe  = regexp.MustCompile(`^[A-Za-z_]\w*\.(goto|go_back|go_forward|reload|wait_for_url)\(`)

	roleRe        = regexp.MustCompile(`get_by_role\(\s*` + pyString + `(?:\s*,\s*name\s*=\s*` + pyString + `)?`)
	textRe        = regexp.MustCompile(`get_by_text\(\s*` + pyString)
	labelRe       = regexp.MustCompile(`get_by_label\(\s*` + pyString)
	placeholderRe = regexp.MustCompile(`get_by_placeholder\(\s*` + pyString)
	testIDRe      = regexp.MustCompile(`get_by_test_id\(\s*` + pyString)
	locatorRe     = regexp.MustCompile(`\.locator\(\s*` + pyString)
	// page.click("sel") and page.fill("sel", "v") from the older API
	legacyRe = regexp.MustCompile(`^[A-Za-z_]\w*\.(?:click|dblclick|fill|check|uncheck|select_option|press|type)\(\s*` + pyString)
	valueRe  = regexp.MustCompile(`\.(?:fill|select_option|press|type|press_sequentially)\(\s*` + pyString + `\s*\)\s*$`)

	// Any chain (.first, .nth(i)) and any click arguments end the statement.
	headingClickRe = regexp.MustCompile(`^[A-Za-z_]\w*\.get_by_role\(\s*["']heading["'].*\.click\((?:[^()"']|` + pyString + `)*\)\s*$`)
	headingNameRe  = regexp.MustCompile(`^[A-Za-z_]\w*\.get_by_role\(\s*["']heading["']\s*,\s*name\s*=\s*` + pyString + `\s*[,)]`)
)

// handleOf returns the identifier a statement starts with: "page" for
// page.goto(...), "page1" for page1.get_by_text(...).
func handleOf(src string) string {
	if m := handleRe.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return ""
}

// describe extracts the verb and target of a recorded action.
func describe(src string) Description {
	var d Description
	if m := interactionRe.FindStringSubmatch(src); m != nil {
		d.Verb = m[1]
	}

	if m := roleRe.FindStringSubmatch(src); m != nil {
		d.Role = literal(m, 1)
		d.Name = literal(m, 3)
	}
	if m := textRe.FindStringSubmatch(src); m != nil {
		d.Text = literal(m, 1)
	}
	if m := labelRe.FindStringSubmatch(src); m != nil {
		d.Label = literal(m, 1)
	}
	if m := placeholderRe.FindStringSubmatch(src); m != nil {
		d.Placeholder = literal(m, 1)
	}
	if m := testIDRe.FindStringSubmatch(src); m != nil {
		d.TestID = literal(m, 1)
	}
	if m := locatorRe.FindStringSubmatch(src); m != nil {
		d.Selector = literal(m, 1)
	} else if m := legacyRe.FindStringSubmatch(src); m != nil {
		d.Selector = literal(m, 1)
	}
	if m := valueRe.FindStringSubmatch(src); m != nil {
		d.Value = literal(m, 1)
	}
	return d
}

// headingName extracts T from X.get_by_role("heading", name="T")...click(...).
// Names that are not string literals are not extracted.
func headingName(src string) (string, bool) {
	if !isHeadingClick(src) {
		return "", false
	}
	m := headingNameRe.FindStringSubmatch(strings.TrimSpace(src))
	if m == nil {
		return "", false
	}
	name := literal(m, 1)
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

func isHeadingClick(src string) bool {
	return headingClickRe.MatchString(strings.TrimSpace(src))
}

func isInteraction(src string) bool {
	return interactionRe.MatchString(src)
}

func isNavigation(src string) bool {
	return navigationRe.MatchString(src)
}

func isClick(d Description) bool {
	return d.Verb == "click" || d.Verb == "dblclick"
}

// literal returns the unescaped body of the pyString match starting at
// submatch i.
func literal(m []string, i int) string {
	if m[i] != "" {
		return pyUnescape(m[i])
	}
	return pyUnescape(m[i+1])
}

// pyQuote renders s as a double-quoted Python string literal.
func pyQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// pyUnescape undoes the simple backslash escapes codegen emits.
func pyUnescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\'`, `'`, `\n`, "\n", `\t`, "\t")
	return r.Replace(s)
}
