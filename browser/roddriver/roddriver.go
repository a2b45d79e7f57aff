// Package roddriver adapts go-rod pages to the browser interfaces, for
// environments that drive Chrome over the DevTools protocol directly.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"formflow/browser"
)

// roleSelectors lists the elements that carry a role, explicitly or
// implicitly.
var roleSelectors = map[string]string{
	"button":   `button, [role="button"], input[type="button"], input[type="submit"], input[type="reset"]`,
	"link":     `a[href], [role="link"]`,
	"heading":  `h1, h2, h3, h4, h5, h6, [role="heading"]`,
	"checkbox": `input[type="checkbox"], [role="checkbox"]`,
	"radio":    `input[type="radio"], [role="radio"]`,
	"switch":   `[role="switch"]`,
	"textbox":  `input:not([type]), input[type="text"], input[type="email"], textarea, [role="textbox"]`,
}

const accessibleName = `() => (this.getAttribute('aria-label') || this.innerText || this.value || '').trim()`

// pollInterval is how often FindByRole re-queries while waiting.
const pollInterval = 100 * time.Millisecond

// Page wraps a rod page.
type Page struct {
	page *rod.Page
}

// NewPage adapts p.
func NewPage(p *rod.Page) *Page {
	return &Page{page: p}
}

// Raw exposes the underlying rod page.
func (p *Page) Raw() *rod.Page { return p.page }

// Element wraps a rod element.
type Element struct {
	el *rod.Element
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, translate(fmt.Errorf("query %q: %w", selector, err))
	}
	return wrap(els), nil
}

func (p *Page) FindByRole(ctx context.Context, scope browser.Scope, q browser.RoleQuery, timeout time.Duration) (browser.Element, error) {
	sel, ok := roleSelectors[q.Role]
	if !ok {
		sel = fmt.Sprintf(`[role=%q]`, q.Role)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		candidates, err := p.candidates(ctx, scope, sel)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, translate(err)
		}
		for _, el := range candidates {
			if match, _ := matches(ctx, el, q); match {
				return &Element{el: el}, nil
			}
		}
		if err := browser.Sleep(ctx, pollInterval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s %q in %s", browser.ErrNotFound, q.Role, q.Name, scope.Relation)
			}
			return nil, err
		}
	}
}

func (p *Page) candidates(ctx context.Context, scope browser.Scope, sel string) (rod.Elements, error) {
	if scope.Relation == browser.RelationPage || scope.Anchor == nil {
		return p.page.Context(ctx).Elements(sel)
	}
	anchor, ok := scope.Anchor.(*Element)
	if !ok {
		return nil, fmt.Errorf("roddriver: anchor of type %T is not a rod element", scope.Anchor)
	}

	if scope.Relation == browser.RelationFollowingSiblings {
		siblings, err := anchor.el.Context(ctx).ElementsX("following-sibling::*")
		if err != nil {
			return nil, err
		}
		var out rod.Elements
		for _, s := range siblings {
			if ok, _ := s.Matches(sel); ok {
				out = append(out, s)
			}
			inner, err := s.Elements(sel)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
		return out, nil
	}

	root := anchor.el.Context(ctx)
	for i := 0; i < scope.Relation.Ancestors(); i++ {
		parent, err := root.Parent()
		if err != nil {
			return nil, err
		}
		root = parent
	}
	return root.Elements(sel)
}

func matches(ctx context.Context, el *rod.Element, q browser.RoleQuery) (bool, error) {
	visible, err := el.Context(ctx).Visible()
	if err != nil || !visible {
		return false, err
	}
	res, err := el.Context(ctx).Eval(accessibleName)
	if err != nil {
		return false, err
	}
	name := res.Value.Str()
	if q.Exact {
		return name == q.Name, nil
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(q.Name)), nil
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	switch state {
	case browser.LoadStateLoad, browser.LoadStateDOMContentLoaded:
		return translate(page.WaitLoad())
	case browser.LoadStateNetworkIdle:
		return translate(page.WaitIdle(timeout))
	default:
		return fmt.Errorf("roddriver: unknown load state %q", state)
	}
}

func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	return browser.Sleep(ctx, d)
}

func (e *Element) IsVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	visible, err := e.el.Context(ctx).Timeout(timeout).Visible()
	return visible, translate(err)
}

func (e *Element) InnerText(ctx context.Context, timeout time.Duration) (string, error) {
	text, err := e.el.Context(ctx).Timeout(timeout).Text()
	return text, translate(err)
}

// Click presses and releases the left button with opts.Delay in between.
func (e *Element) Click(ctx context.Context, opts browser.ClickOptions) error {
	el := e.el.Context(ctx).Timeout(opts.Timeout)
	if opts.Delay <= 0 {
		return translate(el.Click(proto.InputMouseButtonLeft, 1))
	}
	if err := el.ScrollIntoView(); err != nil {
		return translate(err)
	}
	if err := el.Hover(); err != nil {
		return translate(err)
	}
	mouse := el.Page().Mouse
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return translate(err)
	}
	if err := browser.Sleep(ctx, opts.Delay); err != nil {
		_ = mouse.Up(proto.InputMouseButtonLeft, 1)
		return err
	}
	return translate(mouse.Up(proto.InputMouseButtonLeft, 1))
}

func (e *Element) ScrollIntoView(ctx context.Context, timeout time.Duration) error {
	return translate(e.el.Context(ctx).Timeout(timeout).ScrollIntoView())
}

func wrap(els rod.Elements) []browser.Element {
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", browser.ErrTimeout, err)
	}
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", browser.ErrNotFound, err)
	}
	var objNotFound *rod.ObjectNotFoundError
	if errors.As(err, &objNotFound) {
		return fmt.Errorf("%w: %v", browser.ErrDetached, err)
	}
	return err
}
