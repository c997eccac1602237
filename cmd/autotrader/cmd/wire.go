package cmd

import (
	"context"
	"fmt"

	"github.com/yanun0323/logs"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/rest"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/market/httpfeed"
	"github.com/rustyeddy/autotrader/notify"
	"github.com/rustyeddy/autotrader/order"
)

// openRepository opens the configured journal, wrapped in a CSV mirror
// when export files are set.
func openRepository(cfg *config.Config) (journal.Repository, error) {
	var (
		repo journal.Repository
		err  error
	)
	switch cfg.Journal.Type {
	case "sqlite":
		repo, err = journal.NewSQLite(cfg.Journal.DBPath)
	case "postgres":
		repo, err = journal.NewPostgres(journal.PostgresOption{ConnString: cfg.Journal.DSN})
	case "memory":
		logs.Warnf("journal type memory: state will not survive a restart")
		repo = journal.NewMemory()
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Journal.TradesFile == "" {
		return repo, nil
	}
	c, err := journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("csv mirror: %w", err)
	}
	return journal.Mirror{Repository: repo, CSV: c}, nil
}

func history(repo journal.Repository) (journal.History, error) {
	if m, ok := repo.(journal.Mirror); ok {
		if h, ok := m.History(); ok {
			return h, nil
		}
	}
	h, ok := repo.(journal.History)
	if !ok {
		return nil, fmt.Errorf("journal %T cannot query trades", repo)
	}
	return h, nil
}

func buildFeed(cfg *config.Config, clk clock.Clock) (market.QuoteSource, error) {
	switch cfg.Feed.Type {
	case "http":
		return httpfeed.NewClient(cfg.Feed.URL, cfg.Feed.Token), nil
	case "replay":
		src, err := market.LoadReplayCSV(cfg.Feed.ReplayFile, clk)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown feed type %q", cfg.Feed.Type)
}

// simFeed forwards every quote it sees to an in-process broker so resting
// orders there are worked on the same prices the executor sees.
type simFeed struct {
	market.QuoteSource
	broker *sim.Broker
}

func (f simFeed) GetQuotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	qs, err := f.QuoteSource.GetQuotes(ctx, symbols)
	for _, q := range qs {
		f.broker.UpdateQuote(q)
	}
	return qs, err
}

// buildBroker returns the live-mode broker and the quote source to use
// with it.
func buildBroker(cfg *config.Config, clk clock.Clock, src market.QuoteSource) (broker.OrderBroker, market.QuoteSource, error) {
	switch cfg.Broker.Type {
	case "rest":
		return rest.NewClient(cfg.Broker.URL, cfg.Broker.Token, cfg.Broker.RefreshToken), src, nil
	case "sim":
		b := sim.New(cfg.Account.StartingCash, order.NewSimulator(cfg.Simulation), clk)
		return b, simFeed{QuoteSource: src, broker: b}, nil
	}
	return nil, nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
}

func buildNotifier(cfg *config.Config) (*notify.Dispatcher, error) {
	level, err := notify.ParseSeverity(cfg.Alerts.MinSeverity)
	if err != nil {
		return nil, err
	}
	d := notify.NewDispatcher(notify.Options{
		SendTimeout: cfg.Alerts.SendTimeout.D(),
		PerHour:     cfg.Alerts.PerHour,
	})
	if cfg.Alerts.Log {
		d.Add(notify.Log{}, notify.Info)
	}
	if cfg.Alerts.DiscordURL != "" {
		d.Add(notify.NewDiscord(cfg.Alerts.DiscordURL), level)
	}
	if cfg.Alerts.WebhookURL != "" {
		d.Add(notify.NewWebhook(cfg.Alerts.WebhookURL), level)
	}
	return d, nil
}

// pyroLogger routes profiler messages through the application logger.
type pyroLogger struct{}

func (pyroLogger) Infof(format string, args ...interface{})  { logs.Debugf(format, args...) }
func (pyroLogger) Debugf(format string, args ...interface{}) { logs.Debugf(format, args...) }
func (pyroLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
