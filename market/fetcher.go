package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// Result is one cycle's view of the market.
type Result struct {
	Quotes    map[string]Quote
	FromCache bool     // every source call failed or returned nothing
	Stale     []string // requested symbols without a usable quote at now
	Err       error
}

// Fresh returns the quote for symbol when it is present and not stale.
func (r Result) Fresh(symbol string) (Quote, bool) {
	for _, s := range r.Stale {
		if s == symbol {
			return Quote{}, false
		}
	}
	q, ok := r.Quotes[symbol]
	return q, ok
}

func (r Result) IsStale(symbol string) bool {
	_, ok := r.Fresh(symbol)
	return !ok
}

type FetcherOptions struct {
	Timeout   time.Duration // bound on each source call
	BatchSize int           // symbols per call, 0 means one call
	MaxAge    time.Duration // staleness bound
}

// Fetcher fans symbol batches out to a QuoteSource, joins the answers and
// falls back to the last good snapshot when the feed is down.
type Fetcher struct {
	src   QuoteSource
	cache *QuoteStore
	opt   FetcherOptions
}

func NewFetcher(src QuoteSource, cache *QuoteStore, opt FetcherOptions) *Fetcher {
	if cache == nil {
		cache = NewQuoteStore()
	}
	return &Fetcher{src: src, cache: cache, opt: opt}
}

func (f *Fetcher) Cache() *QuoteStore { return f.cache }

func (f *Fetcher) MaxAge() time.Duration { return f.opt.MaxAge }

func (f *Fetcher) batches(symbols []string) [][]string {
	n := f.opt.BatchSize
	if n <= 0 || n >= len(symbols) {
		return [][]string{symbols}
	}
	var out [][]string
	for i := 0; i < len(symbols); i += n {
		end := i + n
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[i:end])
	}
	return out
}

// Fetch never fails outright: on total feed failure it returns the cached
// snapshot with FromCache set and Err describing the outage.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string, now time.Time) Result {
	res := Result{Quotes: make(map[string]Quote, len(symbols))}
	if len(symbols) == 0 {
		return res
	}

	var (
		mu       sync.Mutex
		fetched  = make(map[string]Quote, len(symbols))
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range f.batches(symbols) {
		batch := batch
		g.Go(func() error {
			cctx := gctx
			if f.opt.Timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, f.opt.Timeout)
				defer cancel()
			}
			quotes, err := f.src.GetQuotes(cctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One bad batch must not cancel its siblings.
				failures = append(failures, fmt.Errorf("batch %v: %w", batch, err))
				return nil
			}
			for sym, q := range quotes {
				if q.Symbol == "" {
					q.Symbol = sym
				}
				if !q.Valid() {
					continue
				}
				fetched[sym] = q
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(fetched) == 0 {
		res.FromCache = true
		res.Err = errors.Join(failures...)
		if res.Err == nil {
			res.Err = errors.New("market: feed returned no quotes")
		}
		logs.Warnf("quote feed unavailable, using cached snapshot: %v", res.Err)
	} else if len(failures) > 0 {
		res.Err = errors.Join(failures...)
		logs.Warnf("partial quote feed failure: %v", res.Err)
	}

	for _, q := range fetched {
		f.cache.Set(q)
	}
	for sym, q := range f.cache.Lookup(symbols) {
		if fq, ok := fetched[sym]; ok {
			q = fq
		}
		res.Quotes[sym] = q
	}

	for _, sym := range symbols {
		q, ok := res.Quotes[sym]
		if !ok || q.IsStale(now, f.opt.MaxAge) {
			res.Stale = append(res.Stale, sym)
		}
	}
	sort.Strings(res.Stale)
	return res
}
