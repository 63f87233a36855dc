package browser

import (
	"testing"

	"github.com/ibeckermayer/unrepost/internal/page"
)

func TestPathJSON(t *testing.T) {
	tests := []struct {
		name string
		el   *page.Element
		want string
	}{
		{"document", nil, "[]"},
		{"single", &page.Element{Selector: ".item", Index: 2}, `[[".item",2]]`},
		{
			"scoped",
			&page.Element{Selector: "svg", Index: 0, Scope: &page.Element{Selector: `[data-e2e="x"]`, Index: 1}},
			`[["[data-e2e=\"x\"]",1],["svg",0]]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pathJSON(tt.el); got != tt.want {
				t.Errorf("pathJSON = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestQuoteJSEscapes(t *testing.T) {
	got := quoteJS("a\"b\u2028c")
	want := `"a\"b\u2028c"`
	if got != want {
		t.Errorf("quoteJS = %s, want %s", got, want)
	}
}

func TestOptionsAddsProfileAndExecPath(t *testing.T) {
	base := len(Options(LaunchOptions{}))
	withAll := len(Options(LaunchOptions{Headless: true, UserDataDir: "/tmp/p", ExecPath: "/usr/bin/chromium"}))
	if withAll != base+3 {
		t.Errorf("len(Options) = %d, want %d", withAll, base+3)
	}
}
