// Package rdns fills in hop hostnames from PTR records.
package rdns

import (
	"context"
	"errors"
	"sync"

	"github.com/jaxxstorm/hopwatch/internal/dnsclient"
	"github.com/jaxxstorm/hopwatch/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultRatePerSecond = 20
	DefaultCacheSize     = 4096
)

// Lookuper resolves one address against one resolver.
type Lookuper interface {
	LookupPTR(ctx context.Context, server, addr string) (string, error)
}

type Config struct {
	Resolvers     []string
	RatePerSecond float64
	CacheSize     int
	Logger        *zap.Logger
}

// Enricher walks the resolver ladder for each unknown hop address. Answers,
// including "no PTR", are cached per address; transport failures are not.
type Enricher struct {
	lookup    Lookuper
	resolvers []string
	limiter   *rate.Limiter
	cacheSize int
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(lookup Lookuper, cfg Config) *Enricher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Enricher{
		lookup:    lookup,
		resolvers: ResolverChain(cfg.Resolvers),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cacheSize: cfg.CacheSize,
		logger:    cfg.Logger,
		cache:     map[string]string{},
	}
}

// Enrich returns a copy of hops with empty hostnames filled where a PTR
// answer exists. Lookup failures leave the hostname empty.
func (e *Enricher) Enrich(ctx context.Context, hops []model.HopObservation) []model.HopObservation {
	out := make([]model.HopObservation, len(hops))
	copy(out, hops)
	for i := range out {
		if !out[i].HasAddress() || out[i].Hostname != "" {
			continue
		}
		out[i].Hostname = e.Lookup(ctx, out[i].Address)
	}
	return out
}

// Lookup resolves a single address, first answering resolver wins.
func (e *Enricher) Lookup(ctx context.Context, addr string) string {
	if name, ok := e.cached(addr); ok {
		return name
	}

	for _, resolver := range e.resolvers {
		if err := e.limiter.Wait(ctx); err != nil {
			return ""
		}
		name, err := e.lookup.LookupPTR(ctx, resolver, addr)
		switch {
		case err == nil:
			e.store(addr, name)
			return name
		case errors.Is(err, dnsclient.ErrNoPTR):
			e.store(addr, "")
			return ""
		default:
			e.logger.Debug("ptr lookup failed", zap.String("resolver", resolver), zap.String("addr", addr), zap.Error(err))
		}
	}
	return ""
}

func (e *Enricher) cached(addr string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, ok := e.cache[addr]
	return name, ok
}

func (e *Enricher) store(addr, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cache) >= e.cacheSize {
		e.cache = map[string]string{}
	}
	e.cache[addr] = name
}
