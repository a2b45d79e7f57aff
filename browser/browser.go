// Package browser defines the narrow page-query surface the question matcher
// works against. Drivers in the sub-packages adapt playwright-go, go-rod and
// saved HTML snapshots to it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned (wrapped) when a wait did not complete in time.
	ErrTimeout = errors.New("browser: timeout")
	// ErrNotFound is returned when a lookup resolved to no element.
	ErrNotFound = errors.New("browser: element not found")
	// ErrDetached is returned when an element handle no longer refers to a live node.
	ErrDetached = errors.New("browser: element detached")
)

// LoadState names a page load milestone.
type LoadState string

const (
	LoadStateLoad             LoadState = "load"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// Relation places a lookup relative to an anchor element.
type Relation int

const (
	// RelationPage searches the whole page and ignores the anchor.
	RelationPage Relation = iota
	RelationParent
	RelationGrandparent
	RelationGreatGrandparent
	RelationFollowingSiblings
)

func (r Relation) String() string {
	switch r {
	case RelationPage:
		return "page"
	case RelationParent:
		return "parent"
	case RelationGrandparent:
		return "grandparent"
	case RelationGreatGrandparent:
		return "great-grandparent"
	case RelationFollowingSiblings:
		return "following-siblings"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// Ancestors returns how many levels above the anchor the scope starts.
// Zero for RelationPage and RelationFollowingSiblings.
func (r Relation) Ancestors() int {
	switch r {
	case RelationParent:
		return 1
	case RelationGrandparent:
		return 2
	case RelationGreatGrandparent:
		return 3
	default:
		return 0
	}
}

// Scope is where a role lookup runs.
type Scope struct {
	Anchor   Element
	Relation Relation
}

// PageScope is the unscoped, whole-page search.
func PageScope() Scope {
	return Scope{Relation: RelationPage}
}

// RoleQuery describes a role+name lookup.
type RoleQuery struct {
	Role  string
	Name  string
	Exact bool
}

// ClickOptions tune a click.
type ClickOptions struct {
	// Delay between mouse down and up.
	Delay   time.Duration
	Timeout time.Duration
}

// Element is an opaque handle to a live page element. Handles are advisory:
// the page may re-render at any time, so callers probe before they act.
type Element interface {
	IsVisible(ctx context.Context, timeout time.Duration) (bool, error)
	InnerText(ctx context.Context, timeout time.Duration) (string, error)
	Click(ctx context.Context, opts ClickOptions) error
	ScrollIntoView(ctx context.Context, timeout time.Duration) error
}

// Page is the page-query collaborator.
type Page interface {
	// QueryAll enumerates every element matching a CSS selector in one call.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// FindByRole resolves the first element matching q inside scope and waits
	// up to timeout for it to become visible.
	FindByRole(ctx context.Context, scope Scope, q RoleQuery, timeout time.Duration) (Element, error)
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	// Wait pauses on the page's clock.
	Wait(ctx context.Context, d time.Duration) error
}

// IsTimeout reports whether err is a timeout signal from a driver or a
// context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Sleep waits for d or until ctx is done. Drivers without their own clock
// use it to implement Page.Wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
