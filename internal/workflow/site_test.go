package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/page"
	"github.com/ibeckermayer/unrepost/internal/page/pagetest"
)

// site scripts a profile with a reposts grid and a player view on top of
// pagetest, reacting to clicks the way the real site does.
type site struct {
	p *pagetest.Page

	mu         sync.Mutex
	reposted   []bool
	signal     []string // "attr", "color" or "icon" for reposted items
	view       string
	cur        int // 1-based item open in the player
	loggedIn   bool
	tabText    bool // reposts tab only identifiable by its label
	nextGoneAt int  // item on which the next control is missing
	nextOffAt  int  // item on which the next control is disabled
	stuck      bool // repost clicks do not undo the repost
	noAuthor   bool // player omits the author name
	removedAt  map[int]time.Time
}

// newSite builds a site where items listed in reposted are reposted, each
// showing it through the given signals in turn.
func newSite(n int, reposted ...int) *site {
	s := &site{
		reposted:  make([]bool, n),
		signal:    make([]string, n),
		view:      "feed",
		loggedIn:  true,
		removedAt: make(map[int]time.Time),
	}
	kinds := []string{"attr", "color", "icon"}
	for k, i := range reposted {
		s.reposted[i-1] = true
		s.signal[i-1] = kinds[k%len(kinds)]
	}
	s.p = pagetest.New("https://www.tiktok.com/foryou", "")
	s.p.SetScrollHeight(2000)
	s.p.OnClick = s.onClick
	s.p.OnKey = func(p *pagetest.Page, key string) {
		if key == page.KeyEscape {
			s.mu.Lock()
			s.view = "reposts"
			s.mu.Unlock()
			s.rerender()
		}
	}
	s.rerender()
	return s
}

func (s *site) rerender() {
	s.mu.Lock()
	html, url := s.renderLocked()
	s.mu.Unlock()
	s.p.SetHTML(html)
	s.p.SetURL(url)
}

func (s *site) renderLocked() (string, string) {
	var b strings.Builder
	url := "https://www.tiktok.com/foryou"
	b.WriteString("<html><body>")
	if s.loggedIn {
		b.WriteString(`<a data-e2e="nav-profile" href="/@tester"><img src="me.png"></a>`)
	}

	if s.view != "feed" {
		url = "https://www.tiktok.com/@tester"
		if s.tabText {
			b.WriteString(`<div role="tab">Videos</div><div role="tab">Reposts</div>`)
		} else {
			b.WriteString(`<p data-e2e="videos-tab">Videos</p><p data-e2e="repost-tab">Reposts</p>`)
		}
	}

	if s.view == "reposts" || s.view == "player" {
		b.WriteString(`<div class="grid">`)
		for i := range s.reposted {
			fmt.Fprintf(&b, `<div data-e2e="user-repost-item" data-idx="%d"><a href="/@creator%d/video/%d">v</a></div>`, i+1, i+1, i+1)
		}
		b.WriteString(`</div>`)
	}

	if s.view == "player" {
		i := s.cur
		url = fmt.Sprintf("https://www.tiktok.com/@creator%d/video/%d", i, i)
		b.WriteString(`<div class="player">`)
		fmt.Fprintf(&b, `<div data-e2e="browse-video-desc"> Video %d </div>`, i)
		if !s.noAuthor {
			fmt.Fprintf(&b, `<span data-e2e="browse-username">creator%d</span>`, i)
		}

		pressed, style, icon := "false", "", ""
		if s.reposted[i-1] {
			switch s.signal[i-1] {
			case "attr":
				pressed = "true"
			case "color":
				style = ` style="color: rgb(250, 206, 21)"`
			case "icon":
				icon = `<svg fill="#FACE15"><path d="M0"></path></svg>`
			}
		}
		fmt.Fprintf(&b, `<button data-e2e="video-share-repost" aria-pressed="%s"%s>%s</button>`, pressed, style, icon)

		switch {
		case i == s.nextGoneAt:
		case i == len(s.reposted), i == s.nextOffAt:
			b.WriteString(`<button data-e2e="arrow-right" disabled>next</button>`)
		default:
			b.WriteString(`<button data-e2e="arrow-right">next</button>`)
		}
		b.WriteString(`<button data-e2e="browse-close">close</button></div>`)
	}
	b.WriteString("</body></html>")
	return b.String(), url
}

func (s *site) onClick(p *pagetest.Page, el *goquery.Selection) {
	e2e, _ := el.Attr("data-e2e")
	role, _ := el.Attr("role")

	s.mu.Lock()
	switch {
	case e2e == "nav-profile":
		s.view = "profile"
	case e2e == "repost-tab", role == "tab" && strings.Contains(el.Text(), "Reposts"):
		s.view = "reposts"
	case e2e == "user-repost-item":
		idx, _ := el.Attr("data-idx")
		fmt.Sscanf(idx, "%d", &s.cur)
		s.view = "player"
	case e2e == "video-share-repost" && s.stuck:
	case e2e == "video-share-repost":
		s.reposted[s.cur-1] = false
		s.removedAt[s.cur] = time.Now()
	case e2e == "arrow-right":
		s.cur++
	case e2e == "browse-close":
		s.view = "reposts"
	}
	s.mu.Unlock()
	s.rerender()
}

func (s *site) stillReposted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reposted {
		if r {
			n++
		}
	}
	return n
}

func (s *site) currentView() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// recorder collects emitted events. onEmit runs synchronously on the
// emitting goroutine.
type recorder struct {
	mu     sync.Mutex
	events []bridge.Message
	onEmit func(m bridge.Message)
}

func (r *recorder) Emit(action string, payload map[string]any) {
	m := bridge.Message{Action: action, Payload: payload, Timestamp: time.Now()}
	r.mu.Lock()
	r.events = append(r.events, m)
	hook := r.onEmit
	r.mu.Unlock()
	if hook != nil {
		hook(m)
	}
}

func (r *recorder) byAction(action string) []bridge.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bridge.Message
	for _, m := range r.events {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) terminal() []bridge.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bridge.Message
	for _, m := range r.events {
		if bridge.IsTerminal(m.Action) {
			out = append(out, m)
		}
	}
	return out
}
