package journal

import (
	"context"
	"errors"
)

// Mirror is a Repository that also appends closed trades and equity points
// to a CSVJournal. The CSV write happens after the repository write
// succeeds.
type Mirror struct {
	Repository
	CSV *CSVJournal
}

func (m Mirror) AppendTradeHistory(ctx context.Context, t TradeRecord) error {
	if err := m.Repository.AppendTradeHistory(ctx, t); err != nil {
		return err
	}
	return m.CSV.RecordTrade(t)
}

func (m Mirror) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	if err := m.Repository.RecordEquity(ctx, e); err != nil {
		return err
	}
	return m.CSV.RecordEquity(e)
}

func (m Mirror) Close() error {
	return errors.Join(m.Repository.Close(), m.CSV.Close())
}

// History exposes the read side of the wrapped repository, if it has one.
func (m Mirror) History() (History, bool) {
	h, ok := m.Repository.(History)
	return h, ok
}
