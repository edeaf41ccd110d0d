// Package identity supplies the proxy and user-agent combinations presented by fetch
// attempts. Selection is uniform and with replacement; entries never change after
// construction.
package identity

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/125.0.2535.51",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; WOW64; Trident/7.0; rv:11.0) like Gecko",
}

// Pool hands out random identities from static proxy and user-agent lists.
type Pool struct {
	proxies    []string
	userAgents []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRand sets the random source, mostly for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) {
		p.rnd = r
	}
}

// New builds a Pool. Blank entries are ignored; an empty user-agent list falls back
// to DefaultUserAgents and an empty proxy list yields direct identities.
func New(proxies, userAgents []string, opts ...Option) *Pool {
	p := &Pool{
		proxies:    compact(proxies),
		userAgents: compact(userAgents),
	}
	if len(p.userAgents) == 0 {
		p.userAgents = slices.Clone(DefaultUserAgents)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Random draws a proxy and, independently, a user agent.
func (p *Pool) Random() harvest.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := harvest.Identity{UserAgent: p.userAgents[p.rnd.IntN(len(p.userAgents))]}
	if len(p.proxies) > 0 {
		id.Proxy = p.proxies[p.rnd.IntN(len(p.proxies))]
	}
	return id
}

// RandomUserAgent draws only a user agent.
func (p *Pool) RandomUserAgent() string {
	return p.Random().UserAgent
}

// HasProxies reports whether identities route through configured proxies.
func (p *Pool) HasProxies() bool {
	return len(p.proxies) > 0
}

// Candidates returns every proxy/user-agent combination.
func (p *Pool) Candidates() []harvest.Identity {
	proxies := p.proxies
	if len(proxies) == 0 {
		proxies = []string{""}
	}
	out := make([]harvest.Identity, 0, len(proxies)*len(p.userAgents))
	for _, proxy := range proxies {
		for _, ua := range p.userAgents {
			out = append(out, harvest.Identity{Proxy: proxy, UserAgent: ua})
		}
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
