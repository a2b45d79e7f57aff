// Package pwdriver adapts playwright-go pages to the browser interfaces.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"formflow/browser"
)

// scopeSelectors locate the region a relation describes, relative to the
// anchor element.
var scopeSelectors = map[browser.Relation]string{
	browser.RelationParent:            "xpath=..",
	browser.RelationGrandparent:       "xpath=../..",
	browser.RelationGreatGrandparent:  "xpath=../../..",
	browser.RelationFollowingSiblings: "xpath=following-sibling::*",
}

// Page wraps a playwright page.
type Page struct {
	page pw.Page
}

// NewPage adapts p.
func NewPage(p pw.Page) *Page {
	return &Page{page: p}
}

// Raw exposes the underlying playwright page.
func (p *Page) Raw() pw.Page { return p.page }

// Element wraps a locator resolved to a single element.
type Element struct {
	loc pw.Locator
}

// Locator exposes the underlying locator.
func (e *Element) Locator() pw.Locator { return e.loc }

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locs, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, translate(fmt.Errorf("query %q: %w", selector, err))
	}
	out := make([]browser.Element, 0, len(locs))
	for _, l := range locs {
		out = append(out, &Element{loc: l})
	}
	return out, nil
}

func (p *Page) FindByRole(ctx context.Context, scope browser.Scope, q browser.RoleQuery, timeout time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var loc pw.Locator
	switch {
	case scope.Relation == browser.RelationPage || scope.Anchor == nil:
		loc = p.page.GetByRole(pw.AriaRole(q.Role), pw.PageGetByRoleOptions{
			Name:  q.Name,
			Exact: pw.Bool(q.Exact),
		})
	default:
		anchor, ok := scope.Anchor.(*Element)
		if !ok {
			return nil, fmt.Errorf("pwdriver: anchor of type %T is not a playwright element", scope.Anchor)
		}
		sel, ok := scopeSelectors[scope.Relation]
		if !ok {
			return nil, fmt.Errorf("pwdriver: unsupported relation %s", scope.Relation)
		}
		loc = anchor.loc.Locator(sel).GetByRole(pw.AriaRole(q.Role), pw.LocatorGetByRoleOptions{
			Name:  q.Name,
			Exact: pw.Bool(q.Exact),
		})
	}

	// the first match avoids strict-mode violations when a scope holds
	// several equally named buttons
	loc = loc.First()
	err := loc.WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: millis(ctx, timeout),
	})
	if err != nil {
		if errors.Is(err, pw.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s %q in %s", browser.ErrNotFound, q.Role, q.Name, scope.Relation)
		}
		return nil, translate(err)
	}
	return &Element{loc: loc}, nil
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ls *pw.LoadState
	switch state {
	case browser.LoadStateLoad:
		ls = pw.LoadStateLoad
	case browser.LoadStateDOMContentLoaded:
		ls = pw.LoadStateDomcontentloaded
	case browser.LoadStateNetworkIdle:
		ls = pw.LoadStateNetworkidle
	default:
		return fmt.Errorf("pwdriver: unknown load state %q", state)
	}
	return translate(p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: millis(ctx, timeout),
	}))
}

func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	return browser.Sleep(ctx, d)
}

func (e *Element) IsVisible(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := e.loc.IsVisible(pw.LocatorIsVisibleOptions{Timeout: millis(ctx, timeout)})
	return visible, translate(err)
}

func (e *Element) InnerText(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.loc.InnerText(pw.LocatorInnerTextOptions{Timeout: millis(ctx, timeout)})
	return text, translate(err)
}

func (e *Element) Click(ctx context.Context, opts browser.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(e.loc.Click(pw.LocatorClickOptions{
		Delay:   pw.Float(float64(opts.Delay.Milliseconds())),
		Timeout: millis(ctx, opts.Timeout),
	}))
}

func (e *Element) ScrollIntoView(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(e.loc.ScrollIntoViewIfNeeded(pw.LocatorScrollIntoViewIfNeededOptions{
		Timeout: millis(ctx, timeout),
	}))
}

// millis converts timeout to playwright milliseconds, capped by the
// context deadline. With neither, nil leaves the page default in force.
func millis(ctx context.Context, timeout time.Duration) *float64 {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 && !hasDeadline {
		return nil
	}
	// playwright reads 0 as "no timeout"
	ms := float64(timeout.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return pw.Float(ms)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pw.ErrTimeout) {
		return fmt.Errorf("%w: %v", browser.ErrTimeout, err)
	}
	return err
}
