package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Source yields proxy candidates. The public scraping lists behind the
// default sources are volatile, so the interface is the stable part:
// anything that can produce (ip, port) pairs can feed the pool.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Proxy, error)
}

// plainListSource scrapes a page whose body contains ip:port pairs,
// either as plain text or embedded in HTML table cells.
type plainListSource struct {
	name    string
	url     string
	pattern *regexp.Regexp
	rewrite func(string) string
	timeout time.Duration
	client  *http.Client
}

var (
	ipPortRE   = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+:\d+`)
	tableRowRE = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)</td>\s*<td>(\d+)`)
)

// DefaultSources returns the built-in public proxy list scrapers.
func DefaultSources(timeout time.Duration) []Source {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	plain := func(name, url string) Source {
		return &plainListSource{name: name, url: url, pattern: ipPortRE, timeout: timeout, client: client}
	}
	table := func(name, url string) Source {
		return &plainListSource{
			name:    name,
			url:     url,
			pattern: tableRowRE,
			rewrite: func(m string) string { return tableRowRE.ReplaceAllString(m, "$1:$2") },
			timeout: timeout,
			client:  client,
		}
	}
	return []Source{
		plain("SPYS.ME", "http://spys.me/proxy.txt"),
		plain("PROXYSCRAPE", "https://api.proxyscrape.com/?request=getproxies&proxytype=all&country=all&ssl=all&anonymity=all"),
		table("FREE-PROXY-LIST", "https://free-proxy-list.net/"),
		table("SSLPROXIES", "https://www.sslproxies.org/"),
		table("US-PROXY", "https://www.us-proxy.org/"),
	}
}

func (s *plainListSource) Name() string { return s.name }

func (s *plainListSource) Fetch(ctx context.Context) ([]Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}

	matches := s.pattern.FindAllString(string(body), -1)
	out := make([]Proxy, 0, len(matches))
	for _, m := range matches {
		if s.rewrite != nil {
			m = s.rewrite(m)
		}
		addr, port, ok := splitHostPort(m)
		if !ok {
			continue
		}
		out = append(out, Proxy{
			Address:        addr,
			Port:           port,
			SourceCategory: s.name,
			Scheme:         "http",
		})
	}
	return out, nil
}

func splitHostPort(s string) (string, string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:], s[:i] != "" && s[i+1:] != ""
		}
	}
	return "", "", false
}

// StaticSource serves a fixed candidate list; used in tests and for
// operator-supplied proxies.
type StaticSource struct {
	SourceName string
	Proxies    []Proxy
}

func (s *StaticSource) Name() string { return s.SourceName }

func (s *StaticSource) Fetch(ctx context.Context) ([]Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Proxy, len(s.Proxies))
	copy(out, s.Proxies)
	return out, nil
}
