package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/executor"
	"github.com/rustyeddy/autotrader/internal/clock"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading executor",
	Long: `Run the trading loop using settings from a configuration file.

The executor restores open positions from the journal (and, in live mode,
reconciles them against the broker) before the first cycle. SIGINT or
SIGTERM liquidates every position and stops the loop. SIGUSR1 resumes
trading after a circuit breaker halt.

Examples:
  autotrader run --config autotrader.yaml
  autotrader run --config autotrader.yaml --mode live`,
	RunE: runRun,
}

var (
	runConfigPath string
	runMode       string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "override mode: paper or live")
	runCmd.MarkFlagRequired("config")
}

func loadConfig(path, mode string) (*config.Config, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if mode != "" {
		cfg.Mode = mode
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runConfigPath, runMode)
	if err != nil {
		return err
	}

	ecfg, err := cfg.ExecutorConfig()
	if err != nil {
		return err
	}
	session, err := cfg.Session()
	if err != nil {
		return err
	}

	fmt.Printf("Running executor with config: %s\n", runConfigPath)
	fmt.Printf("  Mode: %s  Interval: %s  Universe: %v\n", ecfg.Mode, ecfg.Interval, ecfg.Universe)
	fmt.Printf("  Risk: max %d positions, daily loss %.1f%%, drawdown %.1f%%\n",
		cfg.Risk.MaxOpenPositions, cfg.Risk.MaxDailyLossPct*100, cfg.Risk.MaxDrawdownPct*100)
	fmt.Println()

	clk := clock.Real{}

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer repo.Close()

	src, err := buildFeed(cfg, clk)
	if err != nil {
		return fmt.Errorf("quote feed: %w", err)
	}

	deps := executor.Deps{
		Signals:  &signal.FileSource{Path: cfg.Signals.Path, MaxAge: cfg.Signals.MaxAge.D()},
		Repo:     repo,
		Session:  session,
		Clock:    clk,
		Limits:   cfg.RiskLimits(),
		Cooldown: cfg.CooldownConfig(),
		Retry:    cfg.RetryPolicy(),
	}
	if ecfg.Mode == executor.Live {
		var b broker.OrderBroker
		b, src, err = buildBroker(cfg, clk, src)
		if err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		deps.Broker = b
	} else {
		deps.Simulator = order.NewSimulator(cfg.Simulation)
	}
	deps.Quotes = market.NewFetcher(src, nil, market.FetcherOptions{
		Timeout:   cfg.Feed.Timeout.D(),
		BatchSize: cfg.Feed.BatchSize,
		MaxAge:    cfg.Feed.MaxQuoteAge.D(),
	})

	alerts, err := buildNotifier(cfg)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	defer alerts.Close()
	deps.Notifier = alerts

	var (
		pubs status.Multi
		hub  *status.Hub
	)
	if cfg.Status.File != "" {
		pubs = append(pubs, status.FileWriter{Path: cfg.Status.File})
	}
	if cfg.Status.Listen != "" {
		hub = status.NewHub()
		pubs = append(pubs, hub)
	}
	if len(pubs) > 0 {
		deps.Publisher = pubs
	}

	ex, err := executor.New(ecfg, deps)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags: map[string]string{
				"mode":    string(ecfg.Mode),
				"session": ex.SessionID(),
			},
			Logger: pyroLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumeCh := make(chan os.Signal, 1)
	ossignal.Notify(resumeCh, syscall.SIGUSR1)
	defer ossignal.Stop(resumeCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-resumeCh:
				logs.Infof("resume requested")
				ex.Resume()
			}
		}
	}()

	if err := ex.Start(ctx); err != nil {
		if errors.Is(err, executor.ErrReconciliationMismatch) {
			fmt.Println("✗ Journal and broker disagree; run `autotrader reconcile` for details")
		}
		return fmt.Errorf("start: %w", err)
	}
	fmt.Printf("✓ Executor started (session %s)\n", ex.SessionID())

	g, gctx := errgroup.WithContext(ctx)
	hubCtx, stopHub := context.WithCancel(gctx)
	defer stopHub()

	g.Go(func() error {
		defer stopHub()
		return ex.Run(gctx)
	})
	if hub != nil {
		g.Go(func() error {
			return hub.Serve(hubCtx, cfg.Status.Listen)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	final := ex.Status()
	fmt.Printf("\n✓ Executor stopped after %d cycles\n", final.Cycle)
	fmt.Printf("  Equity: $%.2f  Cash: $%.2f  Realized P/L: $%.2f\n", final.Equity, final.Cash, final.RealizedPL)
	fmt.Printf("  Open positions: %d\n", final.OpenPositions)
	return nil
}
