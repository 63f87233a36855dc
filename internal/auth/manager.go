package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/browser"
)

// LoginURL is where the interactive login flow starts.
const LoginURL = "https://www.tiktok.com/login"

// Manager handles capturing and clearing the authenticated session
type Manager struct {
	cookieStore *CookieStore
	log         *logrus.Entry
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore) *Manager {
	return &Manager{
		cookieStore: cookieStore,
		log:         logrus.WithField("component", "auth"),
	}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.IsValid()
}

// Login opens a visible browser window for the user to log in and saves the
// resulting cookies. The tool never handles credentials itself.
func (m *Manager) Login(ctx context.Context, lo browser.LaunchOptions) error {
	lo.Headless = false

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, browser.Options(lo)...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(LoginURL)); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	m.log.Info("Waiting for the user to finish logging in")
	if err := m.waitForLogin(browserCtx, 5*time.Minute); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cookies, err := extractCookies(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to extract cookies: %w", err)
	}

	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	m.log.WithField("count", len(cookies)).Info("Session cookies saved")
	return nil
}

// waitForLogin polls until the session cookie appears
func (m *Manager) waitForLogin(ctx context.Context, limit time.Duration) error {
	timeout := time.After(limit)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return errors.New("login timeout exceeded")
		case <-ticker.C:
			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			for _, c := range cookies {
				if c.Name == SessionCookie && c.Value != "" {
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extractCookies gets all cookies from the browser
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	return m.cookieStore.Clear()
}

// Cookies returns the stored site cookies for injection into a new session.
// A missing cookie file yields no cookies rather than an error, since a
// persistent browser profile may already carry the session.
func (m *Manager) Cookies() ([]*network.Cookie, error) {
	cookies, err := m.cookieStore.SiteCookies()
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return cookies, err
}
