// Package snapshot implements the browser interfaces over a parsed HTML
// document. It drives the matcher against saved pages, without a browser:
// visibility comes from markup (hidden, aria-hidden, inline display and
// visibility styles), roles and names follow the implicit ARIA mapping, and
// clicks are recorded instead of dispatched.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"formflow/browser"
)

// Click records one dispatched click.
type Click struct {
	Role string
	Name string
}

// Page is a static document.
type Page struct {
	mu     sync.Mutex
	root   *html.Node
	clicks []Click
	waited time.Duration
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// Load parses the HTML file at path.
func Load(path string) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Fetch downloads url and parses the response body.
func Fetch(ctx context.Context, client *http.Client, url string) (*Page, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "formflow-snapshot/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return Parse(resp.Body)
}

// Clicks returns the clicks recorded so far.
func (p *Page) Clicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Click(nil), p.clicks...)
}

// Waited is the total time callers asked the page to wait.
func (p *Page) Waited() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waited
}

// Mutate runs fn on the document root under the page lock, to simulate a
// re-render.
func (p *Page) Mutate(fn func(root *html.Node)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.root)
}

// Element is a node of the document.
type Element struct {
	page *Page
	node *html.Node
}

// Node exposes the underlying node.
func (e *Element) Node() *html.Node { return e.node }

func (p *Page) QueryAll(ctx context.Context, sel string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []browser.Element
	walk(p.root, func(n *html.Node) {
		if s.matches(n) {
			out = append(out, &Element{page: p, node: n})
		}
	})
	return out, nil
}

// FindByRole never waits: the document cannot change on its own.
func (p *Page) FindByRole(ctx context.Context, scope browser.Scope, q browser.RoleQuery, _ time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	roots, err := p.scopeRoots(scope)
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if n := findRole(r.node, r.self, q); n != nil {
			return &Element{page: p, node: n}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q in %s", browser.ErrNotFound, q.Role, q.Name, scope.Relation)
}

type scopeRoot struct {
	node *html.Node
	self bool // the root itself may match
}

func (p *Page) scopeRoots(scope browser.Scope) ([]scopeRoot, error) {
	if scope.Relation == browser.RelationPage || scope.Anchor == nil {
		return []scopeRoot{{node: p.root}}, nil
	}
	anchor, ok := scope.Anchor.(*Element)
	if !ok || anchor.page != p {
		return nil, fmt.Errorf("snapshot: anchor %T does not belong to this page", scope.Anchor)
	}
	if !attached(p.root, anchor.node) {
		return nil, browser.ErrDetached
	}

	if scope.Relation == browser.RelationFollowingSiblings {
		var roots []scopeRoot
		for s := anchor.node.NextSibling; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode {
				roots = append(roots, scopeRoot{node: s, self: true})
			}
		}
		return roots, nil
	}

	n := anchor.node
	for i := 0; i < scope.Relation.Ancestors(); i++ {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return nil, nil
		}
		n = n.Parent
	}
	return []scopeRoot{{node: n}}, nil
}

func findRole(root *html.Node, self bool, q browser.RoleQuery) *html.Node {
	var found *html.Node
	check := func(n *html.Node) {
		if found != nil || role(n) != q.Role || !visible(n) {
			return
		}
		if nameMatches(accessibleName(n), q) {
			found = n
		}
	}
	if self {
		check(root)
	}
	for c := root.FirstChild; c != nil && found == nil; c = c.NextSibling {
		walk(c, check)
	}
	return found
}

func nameMatches(name string, q browser.RoleQuery) bool {
	if q.Exact {
		return name == q.Name
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(q.Name))
}

func (p *Page) WaitForLoadState(ctx context.Context, _ browser.LoadState, _ time.Duration) error {
	return ctx.Err()
}

// Wait returns at once and adds d to Waited.
func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.waited += d
	p.mu.Unlock()
	return nil
}

func (e *Element) IsVisible(ctx context.Context, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return attached(e.page.root, e.node) && visible(e.node), nil
}

func (e *Element) InnerText(ctx context.Context, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if !attached(e.page.root, e.node) {
		return "", browser.ErrDetached
	}
	return text(e.node), nil
}

func (e *Element) Click(ctx context.Context, _ browser.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	switch {
	case !attached(e.page.root, e.node):
		return browser.ErrDetached
	case !visible(e.node):
		return fmt.Errorf("%w: element is not visible", browser.ErrTimeout)
	}
	e.page.clicks = append(e.page.clicks, Click{Role: role(e.node), Name: accessibleName(e.node)})
	return nil
}

func (e *Element) ScrollIntoView(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attached(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// visible checks n and its ancestors for markup that hides them.
func visible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && hiddenSelf(n) {
			return false
		}
	}
	return true
}

// hiddenSelf reports markup on n itself that hides it and its subtree.
func hiddenSelf(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	case atom.Input:
		if t, _ := attr(n, "type"); strings.EqualFold(t, "hidden") {
			return true
		}
	}
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if v, _ := attr(n, "aria-hidden"); v == "true" {
		return true
	}
	style, ok := attr(n, "style")
	return ok && hiddenByStyle(style)
}

func hiddenByStyle(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important")))
		switch {
		case prop == "display" && val == "none":
			return true
		case prop == "visibility" && (val == "hidden" || val == "collapse"):
			return true
		}
	}
	return false
}

// text is the rendered text of n with whitespace collapsed. Hidden
// descendants are skipped; n itself is read even when hidden.
func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node, bool)
	collect = func(n *html.Node, root bool) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if !root && hiddenSelf(n) {
				return
			}
			if n.DataAtom == atom.Br {
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c, false)
		}
	}
	collect(n, true)
	return strings.Join(strings.Fields(b.String()), " ")
}

// role is the explicit role attribute, or the implicit role of the tag.
func role(n *html.Node) string {
	if r, ok := attr(n, "role"); ok {
		if fields := strings.Fields(r); len(fields) > 0 {
			return strings.ToLower(fields[0])
		}
	}
	switch n.DataAtom {
	case atom.Button:
		return "button"
	case atom.A:
		if _, ok := attr(n, "href"); ok {
			return "link"
		}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return "heading"
	case atom.Textarea:
		return "textbox"
	case atom.Select:
		return "combobox"
	case atom.Input:
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "", "text", "email", "tel", "url", "search", "password":
			return "textbox"
		}
	}
	return ""
}

// accessibleName follows the order aria-label, content, value, alt, title.
func accessibleName(n *html.Node) string {
	if v, ok := attr(n, "aria-label"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if t := text(n); t != "" {
		return t
	}
	for _, key := range []string{"value", "alt", "title"} {
		if v, ok := attr(n, key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
