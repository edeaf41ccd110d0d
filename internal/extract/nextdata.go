// Package extract reads the embedded data container (the __NEXT_DATA__ JSON script)
// that server-rendered listing pages carry.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// ContainerSelector locates the embedded data container.
const ContainerSelector = `script#__NEXT_DATA__`

// Page is the data extracted from one listing page.
type Page struct {
	Records    []json.RawMessage
	TotalPages *int
	Profile    *harvest.Profile
}

type nextData struct {
	Props struct {
		PageProps struct {
			Reviews json.RawMessage `json:"reviews"`
			Filters struct {
				Pagination struct {
					TotalPages json.RawMessage `json:"totalPages"`
				} `json:"pagination"`
			} `json:"filters"`
			BusinessUnit json.RawMessage `json:"businessUnit"`
		} `json:"pageProps"`
	} `json:"props"`
}

// Parse extracts records, the pagination total and the entity profile from html. A
// missing, empty or malformed container yields *harvest.ExtractionError; a
// well-formed container without a records field yields an empty record list.
func Parse(html []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Page{}, &harvest.ExtractionError{Reason: "parse html", Err: err}
	}
	sel := doc.Find(ContainerSelector).First()
	if sel.Length() == 0 {
		return Page{}, &harvest.ExtractionError{Reason: "container not found"}
	}
	raw := strings.TrimSpace(sel.Text())
	if raw == "" {
		return Page{}, &harvest.ExtractionError{Reason: "container empty"}
	}

	var data nextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Page{}, &harvest.ExtractionError{Reason: "decode container", Err: err}
	}
	props := data.Props.PageProps

	page := Page{Records: []json.RawMessage{}}
	if !isNull(props.Reviews) {
		if err := json.Unmarshal(props.Reviews, &page.Records); err != nil {
			return Page{}, &harvest.ExtractionError{Reason: "records field is not a list", Err: err}
		}
	}
	page.TotalPages = totalPages(props.Filters.Pagination.TotalPages)
	if !isNull(props.BusinessUnit) {
		var profile harvest.Profile
		if err := json.Unmarshal(props.BusinessUnit, &profile); err == nil {
			page.Profile = &profile
		}
	}
	return page, nil
}

// IsExtraction reports whether err came from Parse.
func IsExtraction(err error) bool {
	var extraction *harvest.ExtractionError
	return errors.As(err, &extraction)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// MaxTotalPages caps the pagination total read from a page so absurd values cannot
// overflow the int conversion.
const MaxTotalPages = 100_000

func totalPages(raw json.RawMessage) *int {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			return nil
		}
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(min(f, MaxTotalPages))
	return &n
}
