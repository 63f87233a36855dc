package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// Session owns one Chrome process and the tab the automation drives.
type Session struct {
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context
	page        *Page
	log         *logrus.Entry
}

// Open starts Chrome, injects cookies and navigates to startURL.
func Open(ctx context.Context, lo LaunchOptions, cookies []*network.Cookie, startURL string) (*Session, error) {
	log := logrus.WithField("component", "browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, Options(lo)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Debugf))

	s := &Session{
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tabCtx:      tabCtx,
		page:        NewPage(tabCtx),
		log:         log,
	}

	// The first Run allocates the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if len(cookies) > 0 {
		if err := InjectCookies(tabCtx, cookies); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to inject cookies: %w", err)
		}
		log.WithField("count", len(cookies)).Debug("Injected session cookies")
	}

	if startURL != "" {
		navCtx, cancel := context.WithTimeout(tabCtx, 60*time.Second)
		defer cancel()
		if err := chromedp.Run(navCtx,
			chromedp.Navigate(startURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load %s: %w", startURL, err)
		}
	}

	log.WithField("headless", lo.Headless).Info("Browser session ready")
	return s, nil
}

// Page returns the automation surface for the session's tab.
func (s *Session) Page() *Page {
	return s.page
}

// Context returns the chromedp tab context.
func (s *Session) Context() context.Context {
	return s.tabCtx
}

// Close shuts the tab and the browser down.
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}

// InjectCookies sets cookies in the browser context
func InjectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)

				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
}
