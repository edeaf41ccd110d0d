package harvest

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Artifact keys written by a harvest.
const (
	ProfileKey = "page0_company_profile.json"
	ReportKey  = "harvest_summary.md"
)

var invalidSlugChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PageKey names the artifact holding the records of page.
func PageKey(page int) string {
	return fmt.Sprintf("page%d_reviews.json", page)
}

// PageURL builds the URL of one listing page. Any query or fragment on base is dropped
// and replaced by page=N, plus languages=L when languages is set. The result depends
// only on its inputs.
func PageURL(base string, page int, languages string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q is not absolute", base)
	}
	u.Fragment = ""
	u.RawFragment = ""
	query := "page=" + strconv.Itoa(page)
	if languages != "" {
		query += "&languages=" + url.QueryEscape(languages)
	}
	u.RawQuery = query
	return u.String(), nil
}

// EntitySlug derives the output directory name from the path segment following
// marker (e.g. /review/<slug>). It returns fallback when the marker is absent.
func EntitySlug(raw, marker, fallback string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) < 2 || !strings.EqualFold(segs[0], marker) {
		return fallback
	}
	slug := invalidSlugChars.ReplaceAllString(segs[1], "_")
	if slug == "." || slug == ".." || slug == "" {
		return fallback
	}
	return slug
}

// EffectiveLimit reconciles the resolved page total with the caller's override. An
// unknown total falls back to fallback; an override only ever lowers the limit.
func EffectiveLimit(resolved int, known bool, override int, fallback int) (int, string) {
	limit := fallback
	source := fmt.Sprintf("fallback (%d pages)", fallback)
	if known {
		limit = resolved
		source = fmt.Sprintf("resolved (%d pages)", resolved)
	}
	if override > 0 {
		if override < limit {
			limit = override
			source += fmt.Sprintf(" capped by override to %d", override)
		} else {
			source += fmt.Sprintf(" override %d ignored", override)
		}
	}
	return limit, source
}
