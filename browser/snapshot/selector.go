package snapshot

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector is a list of alternatives; a node matches if any matches.
type selector []compound

// compound is one simple selector: an optional tag followed by id, class and
// attribute filters. Combinators are not supported.
type compound struct {
	tag   string
	attrs []attrFilter
}

type attrFilter struct {
	key     string
	value   string
	present bool // [attr] form, any value
	word    bool // class filter, matches one whitespace-separated word
}

func parseSelector(s string) (selector, error) {
	var sel selector
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("snapshot: empty alternative in selector %q", s)
		}
		c, err := parseCompound(part)
		if err != nil {
			return nil, fmt.Errorf("snapshot: selector %q: %w", s, err)
		}
		sel = append(sel, c)
	}
	return sel, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	for i < len(s) && isIdent(s[i]) {
		i++
	}
	c.tag = strings.ToLower(s[:i])
	if c.tag == "" && i < len(s) && s[i] == '*' {
		i++
	}

	for i < len(s) {
		switch s[i] {
		case '#', '.':
			j := i + 1
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			if j == i+1 {
				return c, fmt.Errorf("missing name after %q", s[i])
			}
			if s[i] == '#' {
				c.attrs = append(c.attrs, attrFilter{key: "id", value: s[i+1 : j]})
			} else {
				c.attrs = append(c.attrs, attrFilter{key: "class", value: s[i+1 : j], word: true})
			}
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute filter")
			}
			f, err := parseAttr(s[i+1 : i+end])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, f)
			i += end + 1
		case ' ', '>', '+', '~':
			return c, fmt.Errorf("combinators are not supported")
		default:
			return c, fmt.Errorf("unexpected %q", s[i])
		}
	}
	return c, nil
}

func parseAttr(body string) (attrFilter, error) {
	key, value, hasValue := strings.Cut(body, "=")
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return attrFilter{}, fmt.Errorf("empty attribute name")
	}
	if !hasValue {
		return attrFilter{key: key, present: true}, nil
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return attrFilter{key: key, value: value}, nil
}

func isIdent(b byte) bool {
	return b == '-' || b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func (sel selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range sel {
		if c.matches(n) {
			return true
		}
	}
	return false
}

func (c compound) matches(n *html.Node) bool {
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	for _, f := range c.attrs {
		v, ok := attr(n, f.key)
		switch {
		case !ok:
			return false
		case f.present:
		case f.word:
			if !containsWord(v, f.value) {
				return false
			}
		case v != f.value:
			return false
		}
	}
	return true
}

func containsWord(list, word string) bool {
	for _, w := range strings.Fields(list) {
		if w == word {
			return true
		}
	}
	return false
}
