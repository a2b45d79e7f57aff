package scriptgen

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleEmbedsRows(t *testing.T) {
	headers := []string{"Field 2", "Field 1"}
	cfg := DefaultConfig()
	cfg.Rows = []Row{NewRow(headers, []string{"Zoë", "a<b"})}

	script, err := Assemble(`page.goto("https://example.com")`+"\n", cfg)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env python3\n"))
	assert.Contains(t, script, "CSV_EMBED_MODE = True\n")
	assert.Contains(t, script, "CSV_DATA = [\n  {\n    \"Field 2\": \"Zoë\",\n    \"Field 1\": \"a<b\"\n  }\n]\n")
	assert.NotContains(t, script, "CSV_FILENAME =")
	assert.Contains(t, script, "HEADLESS = False\n")
	assert.Contains(t, script, `VIEWPORT = {"width": 1920, "height": 1080}`)
	assert.Contains(t, script, "DEFAULT_TIMEOUT = 30000\n")
	assert.Contains(t, script, "    try:\n        page.goto(\"https://example.com\")\n")
	assert.Contains(t, script, "from playwright.sync_api import sync_playwright, expect, TimeoutError as PlaywrightTimeout")
	assert.Contains(t, script, "def check_heading(page, expected_texts, timeout=5000):")
}

func TestAssembleReadsCSVFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embed = false
	cfg.CSVFilename = "people.csv"
	cfg.Headless = true
	cfg.IterationPause = 5 * time.Second

	script, err := Assemble("", cfg)
	require.NoError(t, err)

	assert.Contains(t, script, "CSV_EMBED_MODE = False\n")
	assert.Contains(t, script, `CSV_FILENAME = "people.csv"`)
	assert.Contains(t, script, "HEADLESS = True\n")
	assert.Contains(t, script, "ITERATION_PAUSE = 5\n")
	assert.Contains(t, script, "    try:\n        pass\n")
}

func TestAssembleEscapesTitle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Title = `C:\New\x """quoted"""`

	script, err := Assemble("", cfg)
	require.NoError(t, err)

	assert.Contains(t, script, "\n"+`C:\\New\\x \"\"\"quoted\"\"\"`+"\n")
	assert.NotContains(t, script, `C:\New`)
}

func TestIndentCode(t *testing.T) {
	got := IndentCode("try:\n    page.click(\"a\")\n\nexcept PlaywrightTimeout:\n    pass\n", "        ")
	assert.Equal(t, "        try:\n            page.click(\"a\")\n\n        except PlaywrightTimeout:\n            pass\n", got)
}

func TestBindRowPlaceholders(t *testing.T) {
	got := BindRowPlaceholders(`page.get_by_label("Email").fill("{{ Field 1 }}")` + "\n" + `page.fill('#n', '{{name}}')` + "\n" + `page.fill("#x", "Hi {{name}}")`)
	assert.Equal(t,
		`page.get_by_label("Email").fill(str(data_row.get("Field 1", "")))`+"\n"+
			`page.fill('#n', str(data_row.get("name", "")))`+"\n"+
			`page.fill("#x", "Hi {{name}}")`,
		got)
}

func TestLoadCSV(t *testing.T) {
	src := "\ufeffname, email\nAnn,ann@example.com\n\nBob\n,\n"
	headers, rows, err := LoadCSV(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "email"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"name": "Ann", "email": "ann@example.com"}, rows[0].Map())
	email, ok := rows[1].Get("email")
	assert.True(t, ok)
	assert.Empty(t, email)
	assert.Equal(t, []string{"name", "email"}, rows[1].Keys())
}

func TestLoadCSVEmpty(t *testing.T) {
	_, _, err := LoadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestRowJSONKeepsOrder(t *testing.T) {
	row := NewRow([]string{"b", "a"}, []string{"2", "1"})
	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"2","a":"1"}`, string(data))

	var back Row
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"a", "b"}, back.Keys())
	assert.Equal(t, row.Map(), back.Map())
}
