package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func wrap(container string) []byte {
	return []byte(`<!doctype html><html><head><title>x</title></head><body><div id="__next"></div>` +
		`<script id="__NEXT_DATA__" type="application/json">` + container + `</script></body></html>`)
}

func TestParseFullContainer(t *testing.T) {
	t.Parallel()

	html := wrap(`{"props":{"pageProps":{
		"reviews":[{"id":"r1","title":"Très bien"},{"id":"r2"}],
		"filters":{"pagination":{"currentPage":2,"totalPages":41}},
		"businessUnit":{"id":"bu1","displayName":"Acme","identifyingName":"acme.com","numberOfReviews":812,
			"trustScore":4.3,"websiteUrl":"https://acme.com","stars":4.5,"ignored":true}}}}`)

	page, err := Parse(html)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.JSONEq(t, `{"id":"r1","title":"Très bien"}`, string(page.Records[0]))
	require.NotNil(t, page.TotalPages)
	require.Equal(t, 41, *page.TotalPages)
	require.NotNil(t, page.Profile)

	out, err := json.Marshal(page.Profile)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"bu1","displayName":"Acme","identifyingName":"acme.com","numberOfReviews":812,
		"trustScore":4.3,"websiteUrl":"https://acme.com","stars":4.5}`, string(out))
}

func TestParseMissingRecordsFieldIsEmpty(t *testing.T) {
	t.Parallel()

	page, err := Parse(wrap(`{"props":{"pageProps":{"filters":{}}}}`))
	require.NoError(t, err)
	require.NotNil(t, page.Records)
	require.Empty(t, page.Records)
	require.Nil(t, page.TotalPages)
	require.Nil(t, page.Profile)

	page, err = Parse(wrap(`{"props":{"pageProps":{"reviews":null}}}`))
	require.NoError(t, err)
	require.Empty(t, page.Records)
}

func TestParseContainerErrors(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"absent":    []byte(`<html><body><p>nothing here</p></body></html>`),
		"empty":     wrap(`   `),
		"malformed": wrap(`{"props": {`),
		"not list":  wrap(`{"props":{"pageProps":{"reviews":{"id":"r1"}}}}`),
	}
	for name, html := range cases {
		_, err := Parse(html)
		require.Error(t, err, name)
		require.True(t, IsExtraction(err), name)
	}
}

func TestParseTotalPagesAsFloatOrString(t *testing.T) {
	t.Parallel()

	page, err := Parse(wrap(`{"props":{"pageProps":{"reviews":[],"filters":{"pagination":{"totalPages":8.0}}}}}`))
	require.NoError(t, err)
	require.Equal(t, 8, *page.TotalPages)

	page, err = Parse(wrap(`{"props":{"pageProps":{"reviews":[],"filters":{"pagination":{"totalPages":"12"}}}}}`))
	require.NoError(t, err)
	require.Equal(t, 12, *page.TotalPages)
}

func TestParseTotalPagesIsClamped(t *testing.T) {
	t.Parallel()

	page, err := Parse(wrap(`{"props":{"pageProps":{"reviews":[],"filters":{"pagination":{"totalPages":1e300}}}}}`))
	require.NoError(t, err)
	require.Equal(t, MaxTotalPages, *page.TotalPages)

	page, err = Parse(wrap(`{"props":{"pageProps":{"reviews":[],"filters":{"pagination":{"totalPages":"-3"}}}}}`))
	require.NoError(t, err)
	require.Nil(t, page.TotalPages)
}
