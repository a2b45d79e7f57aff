package transformer

import (
	"sort"
	"strings"
)

// BindVariables replaces {{key}}, {{ key }}, ${key} and ${ key } placeholders
// with values from the data row. Unknown placeholders are left untouched.
func BindVariables(src string, variables map[string]string) string {
	if src == "" || len(variables) == 0 {
		return src
	}

	keys := make([]string, 0, len(variables))
	for key := range variables {
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return src
	}
	sort.Strings(keys)

	replacerArgs := make([]string, 0, len(keys)*8)
	for _, key := range keys {
		value := variables[key]
		replacerArgs = append(replacerArgs, "{{"+key+"}}", value)
		replacerArgs = append(replacerArgs, "{{ "+key+" }}", value)
		replacerArgs = append(replacerArgs, "${"+key+"}", value)
		replacerArgs = append(replacerArgs, "${ "+key+" }", value)
	}
	return strings.NewReplacer(replacerArgs...).Replace(src)
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`,
	"‟", `"`,
	"‘", `'`, // left single
	"’", `'`, // right single
	"‚", `'`,
	"‛", `'`,
)

// normalizeLine expands leading tabs to IndentUnit, replaces typographic
// quotes with ASCII ones and strips trailing whitespace. It returns the
// statement without indentation and the indentation width.
func normalizeLine(raw string) (string, int) {
	raw = quoteReplacer.Replace(strings.TrimRight(raw, " \t\r"))
	indent := 0
	i := 0
	for ; i < len(raw); i++ {
		switch raw[i] {
		case ' ':
			indent++
		case '\t':
			indent += len(IndentUnit)
		default:
			return raw[i:], indent
		}
	}
	return "", indent
}
