package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/internal/clock"
)

// ReplaySource serves recorded quotes as of the clock's current time. It
// lets paper sessions run against a captured tape.
type ReplaySource struct {
	clock clock.Clock
	tape  map[string][]Quote // sorted by time per symbol
}

func NewReplaySource(c clock.Clock, quotes []Quote) *ReplaySource {
	tape := make(map[string][]Quote)
	for _, q := range quotes {
		tape[q.Symbol] = append(tape[q.Symbol], q)
	}
	for sym := range tape {
		qs := tape[sym]
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Time.Before(qs[j].Time) })
	}
	return &ReplaySource{clock: c, tape: tape}
}

// LoadReplayCSV reads a tape with the header
// time,symbol,bid,ask,last,volume (time in RFC3339).
func LoadReplayCSV(path string, c clock.Clock) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	quotes, err := ReadQuotesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplaySource(c, quotes), nil
}

func ReadQuotesCSV(r io.Reader) ([]Quote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true

	var out []Quote
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], "time") {
			continue
		}

		q, err := parseQuoteRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, q)
	}
	return out, nil
}

func parseQuoteRecord(rec []string) (Quote, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return Quote{}, err
	}
	nums := make([]float64, 3)
	for i := range nums {
		if rec[i+2] == "" {
			continue
		}
		nums[i], err = strconv.ParseFloat(rec[i+2], 64)
		if err != nil {
			return Quote{}, err
		}
	}
	var vol int64
	if rec[5] != "" {
		vol, err = strconv.ParseInt(rec[5], 10, 64)
		if err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Symbol: strings.ToUpper(rec[1]),
		Time:   ts,
		Bid:    nums[0],
		Ask:    nums[1],
		Last:   nums[2],
		Volume: vol,
	}, nil
}

func (s *ReplaySource) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		qs := s.tape[sym]
		i := sort.Search(len(qs), func(i int) bool { return qs[i].Time.After(now) })
		if i == 0 {
			continue
		}
		out[sym] = qs[i-1]
	}
	return out, nil
}
