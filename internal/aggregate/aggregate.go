// Package aggregate combines quote sources: ordered fallback across tiers,
// symbol-class partitioning inside a tier, and request-order output.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketquotes/internal/provider"
)

// ErrAllSourcesFailed is returned by ResolveWithFallback when every source
// it tried returned an error.
var ErrAllSourcesFailed = errors.New("all quote sources failed")

// ResolveWithFallback asks each source in turn for the symbols that are
// still missing. The first source to return a symbol owns it; later sources
// only fill gaps. Source errors and panics are logged and skipped, and the
// walk stops as soon as nothing is missing. An error is returned only when
// every source tried failed; an empty result from a healthy source is not
// a failure.
func ResolveWithFallback(ctx context.Context, log *zap.Logger, sources []provider.QuoteSource, symbols []string) (map[string]provider.Quote, error) {
	out := make(map[string]provider.Quote, len(symbols))
	missing := provider.Dedupe(symbols)

	var (
		errs  []error
		tried int
	)
	for _, src := range sources {
		if len(missing) == 0 || ctx.Err() != nil {
			break
		}
		tried++
		got, err := safeFetch(ctx, src, missing)
		if err != nil {
			log.Warn("quote source failed", zap.String("provider", src.Name()), zap.Strings("symbols", missing), zap.Error(err))
			errs = append(errs, err)
			continue
		}

		still := missing[:0:0]
		for _, s := range missing {
			if q, ok := got[s]; ok {
				out[s] = q
				continue
			}
			still = append(still, s)
		}
		log.Debug("quote source resolved",
			zap.String("provider", src.Name()),
			zap.Int("resolved", len(missing)-len(still)),
			zap.Int("missing", len(still)))
		missing = still
	}

	if tried > 0 && len(errs) == tried {
		return out, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return out, nil
}

func safeFetch(ctx context.Context, src provider.QuoteSource, symbols []string) (quotes map[string]provider.Quote, err error) {
	defer func() {
		if r := recover(); r != nil {
			quotes, err = nil, fmt.Errorf("%s: panic: %v", src.Name(), r)
		}
	}()
	return src.Fetch(ctx, symbols)
}

// Route sends the symbols Match accepts to Source.
type Route struct {
	Match  func(symbol string) bool
	Source provider.QuoteSource
}

// Partition is a QuoteSource that splits a batch by symbol class and queries
// each class concurrently. One class failing does not affect the others.
type Partition struct {
	name   string
	log    *zap.Logger
	routes []Route
}

// NewPartition creates a Partition. A symbol goes to the first route that
// matches it; symbols no route matches are never requested.
func NewPartition(name string, log *zap.Logger, routes ...Route) *Partition {
	if log == nil {
		log = zap.NewNop()
	}
	return &Partition{name: name, log: log, routes: routes}
}

func (p *Partition) Name() string { return p.name }

// Fetch returns the union of every route's result. It errors only when
// every route that had work failed.
func (p *Partition) Fetch(ctx context.Context, symbols []string) (map[string]provider.Quote, error) {
	groups := make([][]string, len(p.routes))
	for _, s := range provider.Dedupe(symbols) {
		for i, r := range p.routes {
			if r.Match(s) {
				groups[i] = append(groups[i], s)
				break
			}
		}
	}

	var (
		mu     sync.Mutex
		out    = make(map[string]provider.Quote)
		errs   []error
		active int
	)
	var g errgroup.Group
	for i, r := range p.routes {
		group := groups[i]
		if len(group) == 0 {
			continue
		}
		active++
		g.Go(func() error {
			got, err := safeFetch(ctx, r.Source, group)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.Warn("partition route failed", zap.String("provider", r.Source.Name()), zap.Error(err))
				errs = append(errs, err)
				return nil
			}
			for _, s := range group {
				if q, ok := got[s]; ok {
					out[s] = q
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if active > 0 && len(errs) == active {
		return nil, fmt.Errorf("%s: %w", p.name, errors.Join(errs...))
	}
	return out, nil
}

// Ordered lists quotes in request order, skipping unresolved symbols. A
// symbol requested twice is listed twice.
func Ordered(symbols []string, quotes map[string]provider.Quote) []provider.Quote {
	out := make([]provider.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out
}
