package workflow

import (
	"context"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/bridge"
)

const (
	keyProfileLink   = "profile.link"
	keyProfileAvatar = "profile.avatar"
	keyGenericIcon   = "profile.genericIcon"
)

var usernamePattern = regexp.MustCompile(`/@([^/?#]+)`)

// LoginStatus is the outcome of RunInitialChecks.
type LoginStatus struct {
	IsLoggedIn    bool   `json:"isLoggedIn"`
	Username      string `json:"username,omitempty"`
	HasUserAvatar bool   `json:"hasUserAvatar"`
}

// RunInitialChecks inspects the page for signs of a logged-in session and
// emits loginStatusUpdate. It never touches the run state.
func (o *Orchestrator) RunInitialChecks(ctx context.Context) LoginStatus {
	var status LoginStatus
	p := o.plain.Page()

	if link, ok := o.plain.FindOne(ctx, keyProfileLink, nil); ok {
		if href, present, err := p.Attribute(ctx, link, "href"); err == nil && present {
			if m := usernamePattern.FindStringSubmatch(href); m != nil {
				status.Username = m[1]
			}
		}
	}

	_, hasAvatar := o.plain.FindOne(ctx, keyProfileAvatar, nil)
	_, hasGeneric := o.plain.FindOne(ctx, keyGenericIcon, nil)
	status.HasUserAvatar = hasAvatar && !hasGeneric
	status.IsLoggedIn = status.Username != "" || status.HasUserAvatar

	o.log.WithFields(logrus.Fields{
		"logged_in": status.IsLoggedIn,
		"username":  status.Username,
		"avatar":    status.HasUserAvatar,
	}).Info("Login check")

	payload := map[string]any{
		"isLoggedIn":    status.IsLoggedIn,
		"hasUserAvatar": status.HasUserAvatar,
	}
	if status.Username != "" {
		payload["username"] = status.Username
	}
	o.emit(bridge.EvtLoginStatusUpdate, payload)
	return status
}

// NavigateToReposts opens the profile's reposts tab. It is the post-run
// confirmation view and is also available on demand.
func (o *Orchestrator) NavigateToReposts(ctx context.Context) error {
	ok, err := o.plain.Click(ctx, keyNavProfile)
	if err != nil {
		return err
	}
	if !ok {
		return stepErr("navigateToReposts", "could not find the profile button, are you logged in?")
	}
	if err := sleep(ctx, o.pacing.Settle()); err != nil {
		return err
	}

	tab, ok, err := o.findRepostsTab(ctx, o.plain)
	if err != nil {
		return err
	}
	if !ok || !o.plain.ClickElement(ctx, tab) {
		return stepErr("navigateToReposts", "could not open the Reposts tab")
	}
	o.status("Showing reposts")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
