package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// echoServer stands in for both the proxy and the IP-echo endpoint: a
// plain-HTTP verify request routed "through" the candidate lands here,
// and the body echoes the loopback address the candidate claims.
func echoServer(t *testing.T) (addr, port string, close func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("127.0.0.1"))
	}))
	host, p, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	return host, p, server.Close
}

func TestLeaseReturnsVerifiedProxy(t *testing.T) {
	addr, port, closeServer := echoServer(t)
	defer closeServer()

	pool := NewPool(PoolConfig{
		Sources: []Source{&StaticSource{
			SourceName: "static",
			Proxies:    []Proxy{{Address: addr, Port: port, SourceCategory: "static"}},
		}},
		VerifyURL:     "http://ip-echo.invalid/",
		VerifyTimeout: time.Second,
		MaxAttempts:   3,
	}, nil)

	leased, err := pool.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if leased.Address != addr || leased.Port != port {
		t.Fatalf("leased unexpected candidate: %s", leased)
	}
	// Ownership moved to the caller; the pool must not hold it anymore.
	if pool.Size() != 0 {
		t.Fatalf("pool still holds %d candidates", pool.Size())
	}
}

func TestLeaseDiscardsDeadCandidates(t *testing.T) {
	addr, port, closeServer := echoServer(t)
	defer closeServer()

	// A dead candidate ahead of a live one: lease must skip past it.
	pool := NewPool(PoolConfig{
		Sources: []Source{&StaticSource{
			SourceName: "static",
			Proxies: []Proxy{
				{Address: "127.0.0.1", Port: "1", SourceCategory: "static"},
				{Address: addr, Port: port, SourceCategory: "static"},
			},
		}},
		VerifyURL:     "http://ip-echo.invalid/",
		VerifyTimeout: 500 * time.Millisecond,
		MaxAttempts:   10,
	}, nil)

	leased, err := pool.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease failed: %v", err)
	}
	if leased.Port != port {
		t.Fatalf("expected the live candidate, got %s", leased)
	}
}

func TestLeaseGivesUpWithoutCandidates(t *testing.T) {
	pool := NewPool(PoolConfig{
		Sources:     []Source{&StaticSource{SourceName: "empty"}},
		MaxAttempts: 3,
	}, nil)

	_, err := pool.Lease(context.Background())
	if !errors.Is(err, ErrNoProxyAvailable) {
		t.Fatalf("expected ErrNoProxyAvailable, got %v", err)
	}
}

func TestLeaseCapsAttemptsOnDeadPool(t *testing.T) {
	// Every refresh yields the same dead candidate; lease must stop after
	// the attempt cap instead of spinning.
	pool := NewPool(PoolConfig{
		Sources: []Source{&StaticSource{
			SourceName: "static",
			Proxies:    []Proxy{{Address: "127.0.0.1", Port: "1", SourceCategory: "static"}},
		}},
		VerifyTimeout: 100 * time.Millisecond,
		MaxAttempts:   4,
	}, nil)

	start := time.Now()
	_, err := pool.Lease(context.Background())
	if !errors.Is(err, ErrNoProxyAvailable) {
		t.Fatalf("expected ErrNoProxyAvailable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("lease spun too long")
	}
}

func TestLeaseHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(PoolConfig{
		Sources: []Source{&StaticSource{SourceName: "static"}},
	}, nil)
	if _, err := pool.Lease(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
