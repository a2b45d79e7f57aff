// Package scriptgen assembles a transformed action sequence into a complete,
// runnable Python script: configuration, helpers, CSV loading, the
// per-row iteration and the main loop.
package scriptgen

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/script.py.tmpl
var templates embed.FS

var scriptTmpl = template.Must(template.ParseFS(templates, "templates/script.py.tmpl"))

// bodyIndent is where run_iteration's try block starts.
const bodyIndent = "        "

// Config controls the generated script.
type Config struct {
	Title string
	// Embed writes Rows into the script; otherwise CSVFilename is read at
	// start-up.
	Embed       bool
	Rows        []Row
	CSVFilename string

	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	ProfilesDir       string
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	IterationPause    time.Duration
}

// DefaultConfig mirrors the settings recorded sessions usually need.
func DefaultConfig() Config {
	return Config{
		Embed:             true,
		CSVFilename:       "data.csv",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		ProfilesDir:       "profiles",
		DefaultTimeout:    30 * time.Second,
		NavigationTimeout: 60 * time.Second,
		IterationPause:    3 * time.Second,
	}
}

type templateData struct {
	Title                 string
	Embed                 bool
	RowsJSON              string
	CSVFilename           string
	Headless              string
	ViewportWidth         int
	ViewportHeight        int
	UserAgent             string
	ProfilesDir           string
	DefaultTimeoutMS      int64
	NavigationTimeoutMS   int64
	IterationPauseSeconds int64
	Body                  string
}

// Assemble wraps code, the transformed action sequence at depth zero, into
// the full script.
func Assemble(code string, cfg Config) (string, error) {
	d := DefaultConfig()
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = d.ProfilesDir
	}
	if cfg.CSVFilename == "" {
		cfg.CSVFilename = d.CSVFilename
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = d.NavigationTimeout
	}
	if cfg.IterationPause < 0 {
		cfg.IterationPause = 0
	}

	data := templateData{
		Title:                 docstringText(cfg.Title),
		Embed:                 cfg.Embed,
		CSVFilename:           strconv.Quote(cfg.CSVFilename),
		Headless:              pyBool(cfg.Headless),
		ViewportWidth:         cfg.ViewportWidth,
		ViewportHeight:        cfg.ViewportHeight,
		UserAgent:             strconv.Quote(cfg.UserAgent),
		ProfilesDir:           strconv.Quote(cfg.ProfilesDir),
		DefaultTimeoutMS:      cfg.DefaultTimeout.Milliseconds(),
		NavigationTimeoutMS:   cfg.NavigationTimeout.Milliseconds(),
		IterationPauseSeconds: int64(cfg.IterationPause / time.Second),
		Body:                  IndentCode(BindRowPlaceholders(code), bodyIndent),
	}
	if cfg.Embed {
		rows, err := rowsJSON(cfg.Rows)
		if err != nil {
			return "", err
		}
		data.RowsJSON = rows
	}

	var buf bytes.Buffer
	if err := scriptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render script: %w", err)
	}
	return buf.String(), nil
}

// IndentCode prefixes every non-blank line with indent and blanks the rest.
// Empty code becomes a single pass statement.
func IndentCode(code, indent string) string {
	code = strings.TrimRight(code, "\n")
	if strings.TrimSpace(code) == "" {
		return indent + "pass\n"
	}
	var b strings.Builder
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			b.WriteString(indent)
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var (
	dqPlaceholderRe = regexp.MustCompile(`"\{\{\s*([^{}"]+?)\s*\}\}"`)
	sqPlaceholderRe = regexp.MustCompile(`'\{\{\s*([^{}']+?)\s*\}\}'`)
)

// BindRowPlaceholders turns string literals that consist of a single
// unbound placeholder, such as "{{email}}", into a lookup on the current
// data row, so each iteration uses its own row.
func BindRowPlaceholders(code string) string {
	bind := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(lit string) string {
			key := re.FindStringSubmatch(lit)[1]
			return "str(data_row.get(" + strconv.Quote(key) + `, ""))`
		})
	}
	return bind(sqPlaceholderRe, bind(dqPlaceholderRe, code))
}

func rowsJSON(rows []Row) (string, error) {
	if rows == nil {
		rows = []Row{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return "", fmt.Errorf("encode csv rows: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// docstringText makes s safe inside a """ docstring.
func docstringText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"""`, `\"\"\"`)
}
