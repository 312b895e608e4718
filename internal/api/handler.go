// Package api serves the quote endpoints. Every quote response is HTTP 200
// JSON: a fresh cached payload, a newly resolved one, the last good one, or
// an empty shape, in that order of preference.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"marketquotes/internal/cache"
	"marketquotes/internal/commodity"
	"marketquotes/internal/market"
)

const (
	defaultTTL            = 12 * time.Second
	defaultResolveTimeout = 25 * time.Second
)

// CommodityResolver is satisfied by *commodity.Service.
type CommodityResolver interface {
	Resolve(ctx context.Context, req commodity.Request) (commodity.Result, error)
}

// MarketResolver is satisfied by *market.Service.
type MarketResolver interface {
	Resolve(ctx context.Context, req market.Request) (market.Result, error)
}

// endpoint pairs one cache slot with miss coalescing.
type endpoint[P any] struct {
	name  string
	log   *zap.Logger
	slot  *cache.Slot[P]
	group singleflight.Group
}

// get returns the fresh payload, or resolves one (once per key across
// concurrent callers) and stores it. On failure it falls back to the last
// stored payload and then to empty.
func (e *endpoint[P]) get(ctx context.Context, key string, resolve func(context.Context) (P, error), empty func() P) P {
	if p, ok := e.slot.Fresh(); ok {
		return p
	}

	v, err, shared := e.group.Do(key, func() (any, error) {
		if p, ok := e.slot.Fresh(); ok {
			return p, nil
		}
		p, err := resolve(ctx)
		if err != nil {
			return nil, err
		}
		e.slot.Store(p)
		return p, nil
	})
	if err == nil {
		return v.(P)
	}

	if p, ok := e.slot.Last(); ok {
		e.log.Warn("serving stale payload", zap.String("endpoint", e.name), zap.Bool("shared", shared), zap.Error(err))
		return p
	}
	e.log.Warn("serving empty payload", zap.String("endpoint", e.name), zap.Bool("shared", shared), zap.Error(err))
	return empty()
}

// Handler serves both endpoints and the commodity stream.
type Handler struct {
	log            *zap.Logger
	commodities    CommodityResolver
	markets        MarketResolver
	commodity      *endpoint[CommodityPayload]
	market         *endpoint[MarketPayload]
	now            func() time.Time
	resolveTimeout time.Duration

	stream   bool
	upgrader websocket.Upgrader
	done     chan struct{}
}

// Option configures a Handler.
type Option func(*Handler)

// WithCommodityCache replaces the commodity slot.
func WithCommodityCache(s *cache.Slot[CommodityPayload]) Option {
	return func(h *Handler) { h.commodity.slot = s }
}

// WithMarketCache replaces the market slot.
func WithMarketCache(s *cache.Slot[MarketPayload]) Option {
	return func(h *Handler) { h.market.slot = s }
}

// WithClock sets the clock used for empty payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithResolveTimeout bounds one coalesced resolution.
func WithResolveTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.resolveTimeout = d
		}
	}
}

// WithStream toggles the commodity websocket route.
func WithStream(enabled bool) Option {
	return func(h *Handler) { h.stream = enabled }
}

// WithCheckOrigin sets the websocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

func New(log *zap.Logger, commodities CommodityResolver, markets MarketResolver, opts ...Option) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		log:            log,
		commodities:    commodities,
		markets:        markets,
		commodity:      &endpoint[CommodityPayload]{name: "commodity", log: log, slot: cache.New[CommodityPayload](defaultTTL)},
		market:         &endpoint[MarketPayload]{name: "market", log: log, slot: cache.New[MarketPayload](defaultTTL)},
		now:            time.Now,
		resolveTimeout: defaultResolveTimeout,
		stream:         true,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r. Only GET is routed.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/commodity", h.Commodity).Methods(http.MethodGet)
	r.HandleFunc("/api/market", h.Market).Methods(http.MethodGet)
	if h.stream {
		r.HandleFunc("/api/commodity/stream", h.CommodityStream).Methods(http.MethodGet)
	}
}

// Close ends open streams.
func (h *Handler) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Commodity(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.commodityPayload(r.Context(), CommodityRequest(r.URL.Query())))
}

func (h *Handler) Market(w http.ResponseWriter, r *http.Request) {
	req := MarketRequest(r.URL.Query())
	p := h.market.get(r.Context(), marketKey(req), func(ctx context.Context) (MarketPayload, error) {
		ctx, cancel := h.detach(ctx)
		defer cancel()
		res, err := h.markets.Resolve(ctx, req)
		if err != nil {
			return MarketPayload{}, err
		}
		return NewMarketPayload(res), nil
	}, func() MarketPayload { return emptyMarket(h.now()) })
	h.writeJSON(w, p)
}

func (h *Handler) commodityPayload(ctx context.Context, req commodity.Request) CommodityPayload {
	return h.commodity.get(ctx, commodityKey(req), func(ctx context.Context) (CommodityPayload, error) {
		ctx, cancel := h.detach(ctx)
		defer cancel()
		res, err := h.commodities.Resolve(ctx, req)
		if err != nil {
			return CommodityPayload{}, err
		}
		return NewCommodityPayload(res), nil
	}, func() CommodityPayload { return emptyCommodity(h.now()) })
}

// detach keeps a coalesced resolution alive when the request that started
// it goes away; the other waiters still need the result.
func (h *Handler) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.resolveTimeout)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		h.log.Debug("write response", zap.Error(err))
	}
}
