// Package report renders a summary of a finished removal run.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/ibeckermayer/unrepost/internal/store"
	"github.com/ibeckermayer/unrepost/internal/workflow"
)

// Builder renders run summaries and keeps them as artifacts.
type Builder struct {
	artifacts *store.Artifacts
	template  *template.Template
}

// New creates a new report builder writing under artifacts.
func New(artifacts *store.Artifacts) (*Builder, error) {
	tmpl, err := template.New("report").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{
		artifacts: artifacts,
		template:  tmpl,
	}, nil
}

// Report represents a rendered run summary
type Report struct {
	Title     string
	HTMLBody  string
	PlainBody string
	CreatedAt time.Time
	FilePath  string
}

// Data is the template data structure
type Data struct {
	Title    string
	Date     string
	Outcome  string
	Error    string
	Duration string
	Stats    StatsData
	Removed  []ItemData
	Skipped  []ItemData
}

// ItemData represents one processed item in the report
type ItemData struct {
	Index  int
	Title  string
	Author string
	URL    string
	Reason string
}

// StatsData contains run statistics
type StatsData struct {
	Found     int
	Processed int
	Removed   int
	Skipped   int
}

// Build renders a report for res.
func (b *Builder) Build(res *workflow.Result) (*Report, error) {
	if res == nil {
		return nil, fmt.Errorf("no run result to report")
	}

	now := time.Now()
	data := Data{
		Title:    "Repost cleanup " + outcomeLabel(res.Outcome),
		Date:     now.Format("Monday, January 2 15:04"),
		Outcome:  string(res.Outcome),
		Error:    res.Error,
		Duration: res.Duration.Round(time.Second).String(),
		Stats: StatsData{
			Found:     res.Found,
			Processed: res.Processed,
			Removed:   res.Removed,
			Skipped:   res.Processed - res.Removed,
		},
	}

	for _, it := range res.Items {
		d := ItemData{
			Index:  it.Index,
			Title:  truncate(it.Item.Title, 140),
			Author: it.Item.Author,
			URL:    it.Item.URL,
			Reason: it.Reason,
		}
		if it.Removed {
			data.Removed = append(data.Removed, d)
		} else {
			data.Skipped = append(data.Skipped, d)
		}
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Report{
		Title:     data.Title,
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		CreatedAt: now,
	}, nil
}

// Save writes the HTML report and the raw result, and sets r.FilePath.
func (b *Builder) Save(r *Report, res *workflow.Result) error {
	path, err := b.artifacts.SaveText(store.KindReports, r.HTMLBody, ".html")
	if err != nil {
		return err
	}
	r.FilePath = path
	if res != nil {
		if _, err := store.SaveJSON(b.artifacts, store.KindRuns, res); err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the newest saved HTML report.
func (b *Builder) Latest() (string, error) {
	return b.artifacts.Latest(store.KindReports, ".html")
}

// LatestResult loads the newest saved run result.
func (b *Builder) LatestResult() (*workflow.Result, error) {
	path, err := b.artifacts.Latest(store.KindRuns, ".json")
	if err != nil {
		return nil, err
	}
	res, err := store.LoadJSON[workflow.Result](path)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func outcomeLabel(o workflow.Outcome) string {
	switch o {
	case workflow.OutcomeComplete:
		return "complete"
	case workflow.OutcomeNoReposts:
		return "found nothing to remove"
	case workflow.OutcomeCancelled:
		return "stopped early"
	case workflow.OutcomeFailed:
		return "failed"
	}
	return string(o)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func buildPlainText(data Data) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n\n", data.Title, data.Date)
	fmt.Fprintf(&buf, "Removed %d of %d reposts in %s (%d processed, %d skipped)\n",
		data.Stats.Removed, data.Stats.Found, data.Duration, data.Stats.Processed, data.Stats.Skipped)
	if data.Error != "" {
		fmt.Fprintf(&buf, "Error: %s\n", data.Error)
	}

	if len(data.Removed) > 0 {
		buf.WriteString("\nRemoved:\n")
		for _, it := range data.Removed {
			fmt.Fprintf(&buf, "%d. @%s: %s\n   %s\n", it.Index, it.Author, it.Title, it.URL)
		}
	}
	if len(data.Skipped) > 0 {
		buf.WriteString("\nSkipped:\n")
		for _, it := range data.Skipped {
			fmt.Fprintf(&buf, "%d. @%s: %s (%s)\n", it.Index, it.Author, it.Title, it.Reason)
		}
	}
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 640px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #fe2c55; margin-bottom: 5px; }
        h2 { font-size: 16px; color: #333; margin-top: 24px; }
        .date { color: #666; margin-bottom: 20px; }
        .stats { display: flex; gap: 16px; margin-bottom: 10px; }
        .stat { background: #f1f1f2; border-radius: 6px; padding: 8px 12px; }
        .stat b { display: block; font-size: 20px; }
        .error { color: #b00020; margin: 10px 0; }
        .item { border-bottom: 1px solid #eee; padding: 10px 0; }
        .item:last-child { border-bottom: none; }
        .author { font-weight: bold; color: #333; }
        .reason { color: #666; font-size: 13px; }
        .link { color: #fe2c55; text-decoration: none; font-size: 13px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}} · {{.Duration}}</div>

        <div class="stats">
            <div class="stat"><b>{{.Stats.Removed}}</b>removed</div>
            <div class="stat"><b>{{.Stats.Skipped}}</b>skipped</div>
            <div class="stat"><b>{{.Stats.Found}}</b>found</div>
        </div>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}

        {{if .Removed}}<h2>Removed</h2>{{end}}
        {{range .Removed}}
        <div class="item">
            <div class="author">#{{.Index}} @{{.Author}}</div>
            <div>{{.Title}}</div>
            <a href="{{.URL}}" class="link">Open video →</a>
        </div>
        {{end}}

        {{if .Skipped}}<h2>Skipped</h2>{{end}}
        {{range .Skipped}}
        <div class="item">
            <div class="author">#{{.Index}} @{{.Author}}</div>
            <div>{{.Title}}</div>
            <div class="reason">{{.Reason}}</div>
        </div>
        {{end}}

        <div class="footer">
            Processed {{.Stats.Processed}} of {{.Stats.Found}} · Generated by unrepost
        </div>
    </div>
</body>
</html>`
