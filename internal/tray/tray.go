// Package tray is the menu bar surface. Every menu action is sent to the App
// as a bridge command, the same way the control API does it.
package tray

import (
	"context"

	"github.com/getlantern/systray"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/app"
	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/runstate"
)

// SenderID identifies commands sent from the menu.
const SenderID = "tray"

// OnReady returns a systray onReady callback that sets up the menu. Menu
// handlers run until ctx ends.
func OnReady(ctx context.Context, a *app.App) func() {
	log := logrus.WithField("component", "tray")

	return func() {
		systray.SetTemplateIcon(iconBytes, iconBytes)
		systray.SetTitle("")
		systray.SetTooltip("unrepost - clear your reposts")

		mStatus := systray.AddMenuItem("Idle", "Current run status")
		mStatus.Disable()

		mAuthStatus := systray.AddMenuItem(authLabel(a.IsAuthenticated()), "Authentication status")
		mAuthStatus.Disable()
		mAuthAction := systray.AddMenuItem(authActionLabel(a.IsAuthenticated()), "Login or logout")

		systray.AddSeparator()

		mStart := systray.AddMenuItem("Start Removal", "Remove every repost on your profile")
		mPause := systray.AddMenuItem("Pause", "Pause the current run")
		mResume := systray.AddMenuItem("Resume", "Resume the paused run")
		mStop := systray.AddMenuItem("Stop", "Cancel the current run")

		systray.AddSeparator()

		mCheckLogin := systray.AddMenuItem("Check Login", "Check the browser session")
		mReposts := systray.AddMenuItem("Open Reposts Tab", "Show the reposts tab in the browser")

		systray.AddSeparator()

		mViewReport := systray.AddMenuItem("View Last Report", "Open the last run report")
		mEditConfig := systray.AddMenuItem("Edit Config", "Open config file in editor")
		mReloadConfig := systray.AddMenuItem("Reload Config", "Reload configuration from disk")

		systray.AddSeparator()

		mQuit := systray.AddMenuItem("Quit", "Exit unrepost")

		updateAuthUI := func() {
			authed := a.IsAuthenticated()
			mAuthStatus.SetTitle(authLabel(authed))
			mAuthAction.SetTitle(authActionLabel(authed))
		}

		updateRunUI := func(phase runstate.Phase) {
			controls := Controls(phase)
			setEnabled(mStart, controls.Start)
			setEnabled(mPause, controls.Pause)
			setEnabled(mResume, controls.Resume)
			setEnabled(mStop, controls.Stop)
			setEnabled(mReposts, controls.Start)
			setEnabled(mCheckLogin, controls.Start)
		}
		updateRunUI(runstate.Idle)

		send := func(action string) {
			resp := a.Command(ctx, SenderID, action, nil)
			if !resp.OK {
				log.WithField("action", action).Warn(resp.Error)
			}
		}

		events, cancel := a.Bus().Subscribe()
		go func() {
			for msg := range events {
				if line, ok := StatusLine(msg); ok {
					mStatus.SetTitle(line)
				}
				updateRunUI(a.Status().Run.Phase)
			}
		}()

		go func() {
			defer cancel()
			for {
				select {
				case <-mAuthAction.ClickedCh:
					if a.IsAuthenticated() {
						if err := a.TriggerLogout(); err != nil {
							log.WithError(err).Warn("Logout failed")
						}
					} else if err := a.TriggerLogin(ctx); err != nil {
						log.WithError(err).Warn("Login failed")
					}
					updateAuthUI()

				case <-mStart.ClickedCh:
					send(bridge.CmdStartRemoval)
				case <-mPause.ClickedCh:
					send(bridge.CmdPauseRemoval)
				case <-mResume.ClickedCh:
					send(bridge.CmdResumeRemoval)
				case <-mStop.ClickedCh:
					send(bridge.CmdStopRemoval)

				case <-mCheckLogin.ClickedCh:
					go send(bridge.CmdCheckLoginStatus)
				case <-mReposts.ClickedCh:
					go send(bridge.CmdNavigateToReposts)

				case <-mViewReport.ClickedCh:
					if err := a.ViewLastReport(); err != nil {
						log.WithError(err).Warn("View report failed")
					}

				case <-mEditConfig.ClickedCh:
					path, err := config.ConfigPath()
					if err != nil {
						log.WithError(err).Warn("Failed to get config path")
						continue
					}
					if err := browser.OpenFile(path); err != nil {
						log.WithError(err).Warn("Failed to open config file")
					}

				case <-mReloadConfig.ClickedCh:
					if err := a.ReloadConfig(); err != nil {
						log.WithError(err).Warn("Failed to reload config")
					}

				case <-mQuit.ClickedCh:
					systray.Quit()
					return

				case <-ctx.Done():
					systray.Quit()
					return
				}
			}
		}()
	}
}

// OnExit returns the systray onExit callback.
func OnExit(a *app.App) func() {
	return func() {
		logrus.WithField("component", "tray").Info("unrepost shutting down...")
		a.Close()
	}
}

func setEnabled(item *systray.MenuItem, on bool) {
	if on {
		item.Enable()
	} else {
		item.Disable()
	}
}

func authLabel(authed bool) string {
	if authed {
		return "● Session saved"
	}
	return "○ Not logged in"
}

func authActionLabel(authed bool) string {
	if authed {
		return "Logout"
	}
	return "Login"
}
