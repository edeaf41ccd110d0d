package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const listingPage = `<html><body><script id="__NEXT_DATA__" type="application/json">` +
	`{"props":{"pageProps":{"reviews":[{"id":"r1"},{"id":"r2"}],"filters":{"pagination":{"totalPages":5}},` +
	`"businessUnit":{"id":"bu","displayName":"Acme"}}}}</script></body></html>`

func statusServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsRecords(t *testing.T) {
	t.Parallel()

	var gotUA, gotLang atomic.Value
	var closeRequested atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		gotLang.Store(r.Header.Get("Accept-Language"))
		closeRequested.Store(r.Close)
		_, _ = w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, zap.NewNop())
	res, err := f.Fetch(context.Background(), srv.URL+"/review/acme.com?page=1", harvest.Identity{UserAgent: "ua-test"})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.NotNil(t, res.TotalPagesHint)
	require.Equal(t, 5, *res.TotalPagesHint)
	require.NotNil(t, res.Profile)
	require.Equal(t, "ua-test", gotUA.Load())
	require.Equal(t, "en-US,en;q=0.9", gotLang.Load())
	require.True(t, closeRequested.Load(), "expected a non keep-alive request")
}

func TestFetchClassifiesStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		blocks  []int
		blocked bool
	}{
		{"forbidden blocks", http.StatusForbidden, nil, true},
		{"bad gateway blocks by default", http.StatusBadGateway, nil, true},
		{"bad gateway transient when configured", http.StatusBadGateway, []int{http.StatusForbidden}, false},
		{"service unavailable", http.StatusServiceUnavailable, nil, false},
		{"not found", http.StatusNotFound, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := statusServer(t, tc.status, "nope")
			f := New(Config{Timeout: 5 * time.Second, BlockStatuses: tc.blocks}, nil)
			_, err := f.Fetch(context.Background(), srv.URL, harvest.Identity{UserAgent: "ua"})
			require.Error(t, err)
			require.Equal(t, tc.blocked, harvest.IsBlocked(err))
			require.Equal(t, tc.status, harvest.StatusCodeOf(err))
			if !tc.blocked {
				var status *harvest.StatusError
				require.ErrorAs(t, err, &status)
			}
		})
	}
}

func TestFetchWithoutContainerIsEmpty(t *testing.T) {
	t.Parallel()

	srv := statusServer(t, http.StatusOK, "<html><body>maintenance</body></html>")
	res, err := New(Config{}, nil).Fetch(context.Background(), srv.URL, harvest.Identity{})
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Nil(t, res.TotalPagesHint)
}

func TestFetchTransportFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: 2 * time.Second}, nil).Fetch(context.Background(), url, harvest.Identity{})
	var transient *harvest.TransientNetworkError
	require.ErrorAs(t, err, &transient)
}

func TestFetchRoutesThroughIdentityProxy(t *testing.T) {
	t.Parallel()

	var proxied atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(r.URL.String())
		_, _ = w.Write([]byte(listingPage))
	}))
	defer proxy.Close()

	id := harvest.Identity{Proxy: proxy.URL, UserAgent: "ua"}
	res, err := New(Config{Timeout: 5 * time.Second}, nil).Fetch(context.Background(), "http://listing.invalid/review/acme.com?page=4", id)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "http://listing.invalid/review/acme.com?page=4", proxied.Load())
}

func TestFetchHonoursCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 10 * time.Second}, nil).Fetch(ctx, srv.URL, harvest.Identity{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{AcceptLanguage: "de-DE"}, nil)
	var res attempt
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &res)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "de-DE", req.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "body", string(res.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.Equal(t, http.StatusForbidden, res.status)
	require.EqualError(t, res.err, "Forbidden")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
