package market

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)

type sourceFunc func(ctx context.Context, symbols []string) (map[string]Quote, error)

func (f sourceFunc) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return f(ctx, symbols)
}

func quote(sym string, last float64, at time.Time) Quote {
	return Quote{Symbol: sym, Bid: last - 0.01, Ask: last + 0.01, Last: last, Time: at}
}

func TestQuoteValidityAndPrices(t *testing.T) {
	t.Parallel()

	q := quote("AAPL", 100, t0)
	assert.True(t, q.Valid())
	assert.InDelta(t, 100.0, q.Price(), 1e-9)
	assert.InDelta(t, 100.01, q.BuyPrice(), 1e-9)
	assert.InDelta(t, 99.99, q.SellPrice(), 1e-9)
	assert.InDelta(t, 0.02, q.Spread(), 1e-9)

	assert.False(t, Quote{Symbol: "X", Last: 10}.Valid(), "no timestamp")
	assert.False(t, Quote{Symbol: "X", Time: t0}.Valid(), "no price")

	lastOnly := Quote{Symbol: "X", Last: 10, Time: t0}
	assert.Equal(t, 10.0, lastOnly.BuyPrice())
	assert.Equal(t, 10.0, lastOnly.SellPrice())
}

func TestQuoteIsStale(t *testing.T) {
	t.Parallel()

	q := quote("AAPL", 100, t0)
	assert.False(t, q.IsStale(t0.Add(60*time.Second), time.Minute))
	assert.True(t, q.IsStale(t0.Add(61*time.Second), time.Minute))
	assert.False(t, q.IsStale(t0.Add(time.Hour), 0))
}

func TestQuoteStoreKeepsNewest(t *testing.T) {
	t.Parallel()

	s := NewQuoteStore()
	s.Set(quote("AAPL", 101, t0.Add(time.Second)))
	s.Set(quote("AAPL", 100, t0))

	got, err := s.Get("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.Last)

	_, err = s.Get("MSFT")
	assert.ErrorIs(t, err, ErrNoQuote)
	assert.Equal(t, []string{"AAPL"}, s.Symbols())
}

func TestQuoteStoreSameTimestampReplaces(t *testing.T) {
	t.Parallel()

	s := NewQuoteStore()
	s.Set(quote("AAPL", 100, t0))
	s.Set(quote("AAPL", 100.5, t0))

	got, err := s.Get("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.5, got.Last, "a correction stamped in the same instant wins")

	s.Set(quote("AAPL", 99, t0.Add(-time.Nanosecond)))
	got, _ = s.Get("AAPL")
	assert.Equal(t, 100.5, got.Last, "an older quote never wins")
}

func TestFetcherFansOutBatches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	src := sourceFunc(func(_ context.Context, symbols []string) (map[string]Quote, error) {
		calls.Add(1)
		out := map[string]Quote{}
		for _, s := range symbols {
			out[s] = quote(s, 50, t0)
		}
		return out, nil
	})

	f := NewFetcher(src, nil, FetcherOptions{BatchSize: 2, MaxAge: time.Minute})
	res := f.Fetch(context.Background(), []string{"A", "B", "C", "D", "E"}, t0.Add(time.Second))

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, res.Quotes, 5)
	assert.False(t, res.FromCache)
	assert.Empty(t, res.Stale)
	assert.NoError(t, res.Err)
}

func TestFetcherFallsBackToCache(t *testing.T) {
	t.Parallel()

	fail := false
	src := sourceFunc(func(_ context.Context, symbols []string) (map[string]Quote, error) {
		if fail {
			return nil, errors.New("feed down")
		}
		return map[string]Quote{"AAPL": quote("AAPL", 100, t0)}, nil
	})

	f := NewFetcher(src, nil, FetcherOptions{MaxAge: 30 * time.Second})
	res := f.Fetch(context.Background(), []string{"AAPL"}, t0)
	require.False(t, res.FromCache)

	fail = true
	res = f.Fetch(context.Background(), []string{"AAPL"}, t0.Add(10*time.Second))
	assert.True(t, res.FromCache)
	assert.Error(t, res.Err)
	assert.Equal(t, 100.0, res.Quotes["AAPL"].Last)
	assert.Empty(t, res.Stale, "cached quote still within bound")

	res = f.Fetch(context.Background(), []string{"AAPL"}, t0.Add(time.Minute))
	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"AAPL"}, res.Stale)
	assert.True(t, res.IsStale("AAPL"))
}

func TestFetcherEmptyAnswerCountsAsOutage(t *testing.T) {
	t.Parallel()

	src := sourceFunc(func(context.Context, []string) (map[string]Quote, error) {
		return map[string]Quote{}, nil
	})
	f := NewFetcher(src, nil, FetcherOptions{MaxAge: time.Minute})
	res := f.Fetch(context.Background(), []string{"AAPL"}, t0)

	assert.True(t, res.FromCache)
	assert.Equal(t, []string{"AAPL"}, res.Stale)
}

func TestFetcherDropsInvalidQuotes(t *testing.T) {
	t.Parallel()

	src := sourceFunc(func(context.Context, []string) (map[string]Quote, error) {
		return map[string]Quote{
			"AAPL": quote("AAPL", 100, t0),
			"MSFT": {Symbol: "MSFT", Last: 300}, // no timestamp
		}, nil
	})
	f := NewFetcher(src, nil, FetcherOptions{MaxAge: time.Minute})
	res := f.Fetch(context.Background(), []string{"AAPL", "MSFT"}, t0)

	assert.False(t, res.FromCache)
	assert.Equal(t, []string{"MSFT"}, res.Stale)
	_, ok := res.Fresh("AAPL")
	assert.True(t, ok)
}

func TestFetcherTimesOutSlowCalls(t *testing.T) {
	t.Parallel()

	src := sourceFunc(func(ctx context.Context, _ []string) (map[string]Quote, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := NewFetcher(src, nil, FetcherOptions{Timeout: 10 * time.Millisecond})
	res := f.Fetch(context.Background(), []string{"AAPL"}, t0)

	assert.True(t, res.FromCache)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestSessionWindow(t *testing.T) {
	t.Parallel()

	s := Session{
		Location:    time.UTC,
		Open:        TimeOfDay{Hour: 9, Minute: 30},
		Close:       TimeOfDay{Hour: 16},
		WindowStart: TimeOfDay{Hour: 9, Minute: 35},
		WindowEnd:   TimeOfDay{Hour: 15, Minute: 55},
	}
	require.NoError(t, s.Validate())

	day := func(h, m int) time.Time { return time.Date(2025, 3, 4, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		at       time.Time
		open     bool
		inWindow bool
	}{
		{"pre-market", day(9, 0), false, false},
		{"open bell", day(9, 30), true, false},
		{"window start", day(9, 35), true, true},
		{"midday", day(12, 0), true, true},
		{"window end", day(15, 55), true, false},
		{"close", day(16, 0), false, false},
		{"saturday", time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, s.IsOpen(tt.at))
			assert.Equal(t, tt.inWindow, s.InWindow(tt.at))
		})
	}

	assert.Equal(t, "2025-03-04", s.Day(day(10, 0)))
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tod, err := ParseTimeOfDay("09:35")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 9, Minute: 35}, tod)
	assert.Equal(t, "09:35", tod.String())

	_, err = ParseTimeOfDay("9.35")
	assert.Error(t, err)
}

func TestReplaySource(t *testing.T) {
	t.Parallel()

	tape := `time,symbol,bid,ask,last,volume
2025-03-04T14:00:00Z,aapl,99.9,100.1,100,1000
2025-03-04T14:00:10Z,AAPL,100.9,101.1,101,1200
2025-03-04T14:00:05Z,MSFT,,,300,10
`
	quotes, err := ReadQuotesCSV(strings.NewReader(tape))
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	c := clock.NewFake(t0.Add(-time.Second))
	src := NewReplaySource(c, quotes)

	got, err := src.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Empty(t, got)

	c.Set(t0.Add(7 * time.Second))
	got, err = src.GetQuotes(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got["AAPL"].Last)
	assert.Equal(t, 300.0, got["MSFT"].Last)
	assert.True(t, got["MSFT"].Valid())

	c.Set(t0.Add(time.Minute))
	got, _ = src.GetQuotes(context.Background(), []string{"AAPL"})
	assert.Equal(t, 101.0, got["AAPL"].Last)
}
