// Package audit keeps the append-only markdown log of blocking-triggered retry cycles.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// DefaultPath is where the log lives unless configured otherwise.
const DefaultPath = "logs/scraper_retry_log.md"

const header = "|UTC time|URL|Proxy|UA|Attempt|Result|\n|---|---|---|---|---|---|\n"

// MarkdownLog appends one table row per audited cycle.
type MarkdownLog struct {
	path string
	mu   sync.Mutex
}

// NewMarkdownLog returns a log writing to path.
func NewMarkdownLog(path string) *MarkdownLog {
	if path == "" {
		path = DefaultPath
	}
	return &MarkdownLog{path: path}
}

// Path returns the log file location.
func (l *MarkdownLog) Path() string {
	return l.path
}

// Append writes entry, creating the file and its header on first use.
func (l *MarkdownLog) Append(ctx context.Context, entry harvest.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audit log: %w", err)
	}
	var b strings.Builder
	if info.Size() == 0 {
		b.WriteString(header)
	}
	b.WriteString(FormatRow(entry))
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// FormatRow renders entry as one markdown table row.
func FormatRow(entry harvest.AuditEntry) string {
	ts := entry.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	marker := "❌"
	if entry.Outcome == harvest.AuditSuccess {
		marker = "✅"
	}
	return fmt.Sprintf("|%s|%s|%s|%s|%d/%d|%s|\n",
		ts.UTC().Format(time.DateTime),
		cell(entry.URL),
		cell(entry.Identity.ProxyLabel()),
		cell(entry.Identity.UserAgent),
		entry.Attempt,
		entry.MaxAttempts,
		marker,
	)
}

func cell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
