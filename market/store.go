package market

import (
	"errors"
	"sort"
	"sync"
)

var ErrNoQuote = errors.New("market: quote not found")

// QuoteStore keeps the last good quote per symbol.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

// Set stores q unless a strictly newer quote is already held. A quote with
// the same timestamp replaces the held one.
func (s *QuoteStore) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.quotes[q.Symbol]; ok && cur.Time.After(q.Time) {
		return
	}
	s.quotes[q.Symbol] = q
}

func (s *QuoteStore) Get(symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

// Lookup returns the cached quotes for symbols; unknown symbols are skipped.
func (s *QuoteStore) Lookup(symbols []string) map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := s.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out
}

func (s *QuoteStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
