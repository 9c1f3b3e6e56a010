package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// minResolveGap throttles unforced lookups.
const minResolveGap = time.Minute

type resolverConfig struct {
	enabled         bool
	cacheTTL        time.Duration
	refreshInterval time.Duration
	timeout         time.Duration
	udpServers      []string
	tlsServers      []string
	dohEndpoints    []string
}

// resolver tracks the addresses behind the remote write host so the
// manager can rebuild its client when they change.
type resolver struct {
	host   string
	cfg    resolverConfig
	logger *zap.Logger

	mu          sync.Mutex
	ips         []string
	lastResolve time.Time
	cached      []string
	cacheUntil  time.Time

	// lookup is the system resolver; swapped in tests.
	lookup func(ctx context.Context, host string) ([]string, error)
}

func newResolver(host string, cfg resolverConfig, logger *zap.Logger) *resolver {
	return &resolver{
		host:   host,
		cfg:    cfg,
		logger: logger,
		lookup: systemLookup,
	}
}

// periodic reports whether a background refresh loop is worth running.
func (r *resolver) periodic() bool {
	return r != nil && r.cfg.enabled && r.host != "" && net.ParseIP(r.host) == nil
}

func (r *resolver) addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ips...)
}

// refresh resolves the host and reports whether the client should be
// rebuilt: the address set changed, or force was set and lookup succeeded.
func (r *resolver) refresh(ctx context.Context, force bool) bool {
	if r.host == "" || net.ParseIP(r.host) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(r.lastResolve) < minResolveGap {
		return false
	}
	r.lastResolve = now

	if !force && r.cached != nil && now.Before(r.cacheUntil) {
		if slices.Equal(r.cached, r.ips) {
			return false
		}
		r.ips = r.cached
		r.logger.Info("DNS cache hit", zap.String("host", r.host), zap.Strings("ips", r.ips))
		return true
	}

	var (
		ips []string
		err error
	)
	if r.cfg.enabled {
		ips, err = r.resolveFastest(ctx)
	} else {
		ips, err = r.lookup(ctx, r.host)
	}
	if err != nil || len(ips) == 0 {
		r.logger.Warn("DNS lookup failed", zap.String("host", r.host), zap.Error(err))
		return false
	}
	slices.Sort(ips)

	if r.cfg.enabled {
		r.cached = ips
		r.cacheUntil = now.Add(r.cfg.cacheTTL)
	}

	changed := !slices.Equal(ips, r.ips)
	r.ips = ips
	return changed || force
}

// resolveFastest asks every configured resolver at once, plus the system
// one, and returns the first non-empty answer.
func (r *resolver) resolveFastest(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	type answer struct {
		ips []string
		err error
	}
	queries := make([]func(context.Context) ([]string, error), 0,
		1+len(r.cfg.udpServers)+len(r.cfg.tlsServers)+len(r.cfg.dohEndpoints))
	for _, srv := range r.cfg.udpServers {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, "udp", r.host, srv)
		})
	}
	for _, srv := range r.cfg.tlsServers {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return exchange(ctx, "tcp-tls", r.host, srv)
		})
	}
	for _, ep := range r.cfg.dohEndpoints {
		queries = append(queries, func(ctx context.Context) ([]string, error) {
			return resolveDoH(ctx, r.host, ep)
		})
	}
	queries = append(queries, func(ctx context.Context) ([]string, error) {
		return r.lookup(ctx, r.host)
	})

	// Buffered so late answers never block.
	answers := make(chan answer, len(queries))
	for _, q := range queries {
		go func() {
			ips, err := q(ctx)
			answers <- answer{ips, err}
		}()
	}

	var firstErr error
	for range queries {
		select {
		case a := <-answers:
			if a.err == nil && len(a.ips) > 0 {
				return a.ips, nil
			}
			if firstErr == nil {
				firstErr = a.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns result for %s", r.host)
	}
	return nil, firstErr
}

func systemLookup(ctx context.Context, host string) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(addrs))
	for _, ip := range addrs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func question(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	return m
}

func answerIPs(r *dns.Msg) []string {
	ips := make([]string, 0, len(r.Answer))
	for _, rr := range r.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

// exchange queries a plain (udp) or DNS-over-TLS (tcp-tls) server.
func exchange(ctx context.Context, network, host, server string) ([]string, error) {
	c := &dns.Client{Net: network, Timeout: 800 * time.Millisecond}
	r, _, err := c.ExchangeContext(ctx, question(host), server)
	if err != nil {
		return nil, fmt.Errorf("%s dns query to %s failed: %w", network, server, err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s dns query to %s: %s", network, server, dns.RcodeToString[r.Rcode])
	}
	return answerIPs(r), nil
}

func resolveDoH(ctx context.Context, host, endpoint string) ([]string, error) {
	payload, err := question(host).Pack()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var r dns.Msg
	if err := r.Unpack(body); err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("doh rcode: %s", dns.RcodeToString[r.Rcode])
	}
	return answerIPs(&r), nil
}
