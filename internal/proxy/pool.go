package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoProxyAvailable is returned when the pool cannot produce a working
// proxy within its attempt budget. Callers decide whether to proceed
// proxy-less or abort.
var ErrNoProxyAvailable = errors.New("no proxy available")

// defaultVerifyURL echoes the caller's public IP; a proxy is healthy when
// the echo matches its own address.
const defaultVerifyURL = "https://api.ipify.org"

// PoolConfig configures the proxy pool.
type PoolConfig struct {
	Sources       []Source
	VerifyURL     string
	VerifyTimeout time.Duration
	MaxAttempts   int
}

// Pool hands out verified proxies under contention. The mutex guards only
// the candidate list (pop and refresh); verification runs unlocked so a
// slow candidate never blocks peers.
type Pool struct {
	mu         sync.Mutex
	candidates []Proxy

	sources       []Source
	verifyURL     string
	verifyTimeout time.Duration
	maxAttempts   int
	log           *zap.Logger
}

// NewPool creates a proxy pool. Zero-valued config fields get defaults.
func NewPool(cfg PoolConfig, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = defaultVerifyURL
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources(5 * time.Second)
	}
	return &Pool{
		sources:       cfg.Sources,
		verifyURL:     cfg.VerifyURL,
		verifyTimeout: cfg.VerifyTimeout,
		maxAttempts:   cfg.MaxAttempts,
		log:           log,
	}
}

// Lease pops candidates until one passes verification and returns it.
// Ownership transfers to the caller; the pool never sees it again. After
// maxAttempts failed candidates (including failed refreshes) it gives up
// with ErrNoProxyAvailable rather than spinning.
func (p *Pool) Lease(ctx context.Context) (Proxy, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Proxy{}, err
		}

		candidate, ok := p.pop(ctx)
		if !ok {
			return Proxy{}, fmt.Errorf("%w: all sources empty", ErrNoProxyAvailable)
		}

		// Verification happens outside the pool lock.
		if p.Verify(ctx, candidate) {
			return candidate, nil
		}
		p.log.Debug("discarding non-functional proxy", zap.String("proxy", candidate.String()))
	}
	return Proxy{}, fmt.Errorf("%w: gave up after %d candidates", ErrNoProxyAvailable, p.maxAttempts)
}

// pop removes one random candidate under the lock, refreshing the list
// from the sources first when it is empty.
func (p *Pool) pop(ctx context.Context) (Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.candidates) == 0 {
		p.refreshLocked(ctx)
	}
	if len(p.candidates) == 0 {
		return Proxy{}, false
	}

	i := rand.Intn(len(p.candidates))
	candidate := p.candidates[i]
	p.candidates[i] = p.candidates[len(p.candidates)-1]
	p.candidates = p.candidates[:len(p.candidates)-1]
	return candidate, true
}

func (p *Pool) refreshLocked(ctx context.Context) {
	p.log.Debug("refreshing proxy candidates")
	for _, source := range p.sources {
		fetched, err := source.Fetch(ctx)
		if err != nil {
			p.log.Warn("proxy source failed",
				zap.String("source", source.Name()),
				zap.Error(err))
			continue
		}
		p.candidates = append(p.candidates, fetched...)
	}
	p.log.Debug("proxy refresh complete", zap.Int("candidates", len(p.candidates)))
}

// Verify checks that the candidate actually routes traffic through
// itself: a request to the echo endpoint must come back with the proxy's
// own address. Request failure alone does not condemn an upstream API;
// this is the separate proxy-health check.
func (p *Pool) Verify(ctx context.Context, candidate Proxy) bool {
	client := &http.Client{
		Timeout: p.verifyTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(candidate.URL()),
		},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.verifyURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(body)) == candidate.Address
}

// Size reports the current candidate count; for observability only.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}
