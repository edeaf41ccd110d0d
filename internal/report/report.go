// Package report renders the markdown summary stored next to the harvested pages.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Render builds the harvest_summary.md document for summary.
func Render(summary harvest.Summary) ([]byte, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Harvest Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Base URL", "`" + summary.URL + "`"},
			{"Entity", summary.Entity},
			{"Status", statusText(summary.Status)},
			{"Output", summary.OutputLocation},
			{"Started", formatTime(summary.StartedAt)},
			{"Finished", formatTime(summary.FinishedAt)},
			{"Duration", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second).String()},
		},
	})
	md.PlainText("")

	md.H2("Counts")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Effective page limit", strconv.Itoa(summary.EffectiveLimit)},
			{"Limit source", summary.LimitSource},
			{"Workers", strconv.Itoa(summary.Workers)},
			{"Files saved", strconv.Itoa(summary.FilesSaved)},
			{"Profile saved", strconv.FormatBool(summary.ProfileSaved)},
			{"Review pages saved", strconv.Itoa(summary.PagesSaved)},
			{"Failed pages", strconv.Itoa(summary.FailedPages)},
			{"Coordinator proxy", summary.CoordinatorProxy},
			{"Worker proxies from pool", strconv.FormatBool(summary.WorkerProxiesFromPool)},
		},
	})
	md.PlainText("")

	md.H2("Failures")
	md.PlainText("")
	if len(summary.Failures) == 0 {
		md.PlainText("No failed pages.")
	} else {
		rows := make([][]string, 0, len(summary.Failures))
		for _, f := range summary.Failures {
			code := ""
			if f.StatusCode != 0 {
				code = strconv.Itoa(f.StatusCode)
			}
			rows = append(rows, []string{
				strconv.Itoa(f.Page),
				strconv.Itoa(f.WorkerID),
				f.Kind,
				code,
				f.Message,
			})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Page", "Worker", "Kind", "Status", "Message"},
			Rows:   rows,
		})
	}

	if err := md.Build(); err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	return buf.Bytes(), nil
}

func statusText(s harvest.Status) string {
	switch s {
	case harvest.StatusSuccess:
		return "✅ success"
	case harvest.StatusPartialSuccess:
		return "⚠️ partial_success"
	case harvest.StatusFailed:
		return "❌ error"
	default:
		return string(s)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
