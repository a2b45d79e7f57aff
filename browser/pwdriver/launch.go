package pwdriver

import (
	"fmt"
	"os"

	pw "github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// commonExecutables are tried when no executable is configured.
var commonExecutables = []string{
	"/usr/bin/chromium",
	"/usr/bin/google-chrome",
	"/bin/google-chrome",
	"/usr/bin/chromium-browser",
}

// LaunchOptions configure Launch.
type LaunchOptions struct {
	Headless bool
	// ExecutablePath overrides the browser binary. When empty,
	// PLAYWRIGHT_EXECUTABLE_PATH and a list of common locations are tried,
	// then playwright's bundled chromium.
	ExecutablePath string
	// Install downloads the driver and chromium first.
	Install bool
	// DefaultTimeout applies to every playwright action on the page.
	DefaultTimeoutMS float64
	Logger           logrus.FieldLogger
}

// Session owns a running playwright instance, its browser and one page.
type Session struct {
	pw      *pw.Playwright
	browser pw.Browser
	page    pw.Page
	log     logrus.FieldLogger
}

// Launch starts playwright and opens a blank page.
func Launch(opts LaunchOptions) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("driver", "playwright")

	if opts.Install {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	instance, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOptions := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(opts.Headless),
	}
	if path := executablePath(opts.ExecutablePath); path != "" {
		launchOptions.ExecutablePath = pw.String(path)
		log.WithField("executable", path).Info("using browser executable")
	}

	b, err := instance.Chromium.Launch(launchOptions)
	if err != nil {
		_ = instance.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	page, err := b.NewPage()
	if err != nil {
		_ = b.Close()
		_ = instance.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if opts.DefaultTimeoutMS > 0 {
		page.SetDefaultTimeout(opts.DefaultTimeoutMS)
	}

	return &Session{pw: instance, browser: b, page: page, log: log}, nil
}

// Goto navigates the session page and waits for the load event.
func (s *Session) Goto(url string) error {
	if _, err := s.page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateLoad}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, translate(err))
	}
	s.log.WithField("url", url).Info("page loaded")
	return nil
}

// Page returns the session page behind the browser interfaces.
func (s *Session) Page() *Page {
	return NewPage(s.page)
}

// Close shuts the page, browser and playwright down.
func (s *Session) Close() error {
	var firstErr error
	if err := s.page.Close(); err != nil {
		firstErr = err
	}
	if err := s.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.pw.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func executablePath(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH"); env != "" {
		return env
	}
	for _, p := range commonExecutables {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
