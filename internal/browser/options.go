// Package browser provides the chromedp session the automation runs in, with
// anti-bot-detection launch options shared by every entry point.
package browser

import "github.com/chromedp/chromedp"

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// LaunchOptions selects how Chrome is started.
type LaunchOptions struct {
	Headless    bool
	UserDataDir string // reuse an existing profile so the session stays logged in
	ExecPath    string
}

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(lo LaunchOptions) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", lo.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(DefaultUserAgent),
		chromedp.WindowSize(1440, 960),

		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		// Background tabs throttle timers, which would stretch every settle delay.
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)

	if lo.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}
	if lo.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(lo.UserDataDir))
	}
	if lo.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(lo.ExecPath))
	}

	return opts
}
