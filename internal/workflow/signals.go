package workflow

import (
	"context"
	"strings"

	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/page"
)

const keyRepostFilledIcon = "video.repostFilledIcon"

// Signals decides whether a repost control shows an active repost. Any one
// signal is enough:
//   - the pressed attribute reads "true"
//   - the computed color is not one of the inactive colors
//   - a filled icon (video.repostFilledIcon) sits inside the control
type Signals struct {
	PressedAttribute string
	InactiveColors   []string
}

// SignalsFromConfig copies the configured signal set.
func SignalsFromConfig(cfg config.SignalsConfig) Signals {
	return Signals{
		PressedAttribute: cfg.PressedAttribute,
		InactiveColors:   append([]string(nil), cfg.InactiveColors...),
	}
}

func (o *Orchestrator) isReposted(ctx context.Context, btn page.Element) bool {
	p := o.ui.Page()
	log := o.log.WithField("element", btn.String())

	if attr := o.signals.PressedAttribute; attr != "" {
		if v, ok, err := p.Attribute(ctx, btn, attr); err == nil && ok && strings.EqualFold(strings.TrimSpace(v), "true") {
			log.Debug("Reposted: pressed attribute")
			return true
		}
	}

	if len(o.signals.InactiveColors) > 0 {
		if color, err := p.ComputedColor(ctx, btn); err == nil && color != "" && !o.inactiveColor(color) {
			log.WithField("color", color).Debug("Reposted: active color")
			return true
		}
	}

	if _, ok := o.ui.FindOne(ctx, keyRepostFilledIcon, &btn); ok {
		log.Debug("Reposted: filled icon")
		return true
	}
	return false
}

func (o *Orchestrator) inactiveColor(color string) bool {
	c := normalizeColor(color)
	for _, inactive := range o.signals.InactiveColors {
		if normalizeColor(inactive) == c {
			return true
		}
	}
	return false
}

func normalizeColor(c string) string {
	return strings.ToLower(strings.ReplaceAll(c, " ", ""))
}
