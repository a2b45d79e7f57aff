package roddriver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// LaunchOptions configure Launch.
type LaunchOptions struct {
	// ControlURL connects to an already running Chrome instead of starting one.
	ControlURL string
	// Bin is the Chrome binary; empty lets the launcher find or download one.
	Bin             string
	Headless        bool
	NavigateTimeout time.Duration
	Logger          logrus.FieldLogger
}

// Session owns a connected browser and one page.
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	navigate time.Duration
	log      logrus.FieldLogger
}

// Launch starts (or connects to) Chrome and opens a blank page.
func Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("driver", "rod")

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	log.WithField("control_url", controlURL).Info("browser connected")

	navigate := opts.NavigateTimeout
	if navigate <= 0 {
		navigate = 60 * time.Second
	}
	return &Session{browser: b, page: page, navigate: navigate, log: log}, nil
}

// Goto navigates the session page and waits for the load event.
func (s *Session) Goto(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.navigate)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, translate(err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s: %w", url, translate(err))
	}
	s.log.WithField("url", url).Info("page loaded")
	return nil
}

// Page returns the session page behind the browser interfaces.
func (s *Session) Page() *Page {
	return NewPage(s.page)
}

// Close closes the browser.
func (s *Session) Close() error {
	return s.browser.Close()
}
