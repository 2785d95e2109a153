// Package proxy supplies working outbound proxies to fetch workers. The
// pool leases candidates scraped from public lists, verifies each one
// actually routes through itself before handing it out, and never reuses
// a candidate it has given away.
package proxy

import (
	"fmt"
	"net/url"
)

// Proxy is one outbound proxy candidate. Ownership is exclusive: a proxy
// is held by the pool until leased, then belongs to the leasing worker,
// which either uses it or discards it.
type Proxy struct {
	Address        string
	Port           string
	SourceCategory string
	Scheme         string
}

// URL renders the proxy as a transport proxy URL.
func (p Proxy) URL() *url.URL {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%s", p.Address, p.Port)}
}

func (p Proxy) String() string {
	return fmt.Sprintf("%s:%s (%s)", p.Address, p.Port, p.SourceCategory)
}
