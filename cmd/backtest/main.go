package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"NiftyQuant/internal/di"
	"NiftyQuant/internal/domain/models"
	internalrepo "NiftyQuant/internal/repository"
	"NiftyQuant/internal/usecase"
	"NiftyQuant/pkg/config"
	"NiftyQuant/pkg/logger"
	"NiftyQuant/pkg/metrics"
)

type options struct {
	configPath    string
	source        string
	csvPath       string
	symbol        string
	capital       float64
	states        int
	tradeCounting string
	out           string
	logLevel      string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the regime/backtest pipeline once and write the results",
		Long: `Run indicators, regime detection and the EMA crossover simulation over one
series, write every processed row to CSV and print the performance summary.

Examples:
  backtest --source csv --csv data/nifty_5m.csv
  backtest --source yahoo --symbol ^NSEI --capital 250000 --states 2
  backtest --config config/config.yaml --out results/run.csv`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "config file path (defaults only when empty)")
	f.StringVar(&o.source, "source", "", "series source: csv or yahoo")
	f.StringVar(&o.csvPath, "csv", "", "input csv path for the csv source")
	f.StringVar(&o.symbol, "symbol", "", "instrument symbol")
	f.Float64Var(&o.capital, "capital", 0, "initial capital")
	f.IntVar(&o.states, "states", 0, "number of hidden regimes")
	f.StringVar(&o.tradeCounting, "trade-counting", "", "trade counting policy: legs or events")
	f.StringVar(&o.out, "out", "results/backtest_results.csv", "results csv path")
	f.StringVar(&o.logLevel, "log-level", "warn", "log level")
	return cmd
}

func loadConfig(o options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadWithEnv(o.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if o.source != "" {
		cfg.Source.Type = o.source
	}
	if o.csvPath != "" {
		cfg.Source.CSVPath = o.csvPath
		if o.source == "" {
			cfg.Source.Type = "csv"
		}
	}
	if o.symbol != "" {
		cfg.Source.Symbol = o.symbol
	}
	if o.capital != 0 {
		cfg.Pipeline.InitialCapital = o.capital
	}
	if o.states != 0 {
		cfg.Pipeline.NStates = o.states
	}
	if o.tradeCounting != "" {
		cfg.Pipeline.TradeCounting = o.tradeCounting
	}
	cfg.Log.Level = o.logLevel
	cfg.Log.Format = "console"
	cfg.Log.Output = "stderr"
	// a one-shot run keeps everything in process
	cfg.Store.Results = "memory"
	cfg.Store.Models = "memory"
	cfg.Kafka.Enabled = false
	if cfg.Source.Type == "clickhouse" {
		return nil, fmt.Errorf("backtest supports csv and yahoo sources, got %q", cfg.Source.Type)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	l, err := di.ProvideLogger(cfg)
	if err != nil {
		return err
	}
	source, err := di.ProvideSeriesSource(cfg, nil, l)
	if err != nil {
		return err
	}

	uc := usecase.NewPipelineUseCase(
		di.PipelineConfig(cfg),
		source,
		di.ProvideFeatureEngine(cfg, l),
		di.ProvideRegimeDetector(cfg, l),
		di.ProvideSimulator(cfg, l),
		internalrepo.NewMemoryResultStore(),
		internalrepo.NewMemoryModelStore(),
		internalrepo.NoopPublisher{},
		metrics.New(prometheus.NewRegistry()),
	)
	uc.SetLogger(l.Component("pipeline"))

	res, err := uc.Run(ctx, usecase.RunParams{})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := writeResults(o.out, res.Rows); err != nil {
		return err
	}
	l.Info("results written", logger.String("path", o.out), logger.Int("rows", len(res.Rows)))
	return printSummary(cmd.OutOrStdout(), res, o.out)
}

func writeResults(path string, rows []models.SimulationRow) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results: %w", err)
	}
	if err := internalrepo.WriteResultsCSV(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write results: %w", err)
	}
	return f.Close()
}

func printSummary(w io.Writer, res *models.PipelineResult, out string) error {
	m := res.Metrics
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Symbol\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Rows\t%d (warmup dropped %d)\n", len(res.Rows), res.WarmupDropped)
	fmt.Fprintf(tw, "Initial capital\t%s\n", internalrepo.Money(m.InitialCapital))
	fmt.Fprintf(tw, "Final equity\t%s\n", internalrepo.Money(m.FinalEquity))
	fmt.Fprintf(tw, "Total return\t%s (%s%%)\n", internalrepo.Money(m.TotalReturn), internalrepo.Money(m.ReturnPct))
	fmt.Fprintf(tw, "Trades\t%d (%s)\n", m.NumTrades, m.TradeCounting)
	fmt.Fprintf(tw, "Max drawdown\t%s%%\n", internalrepo.Money(m.MaxDrawdownPct))
	fmt.Fprintf(tw, "Win rate\t%.2f\n", m.WinRate)
	if res.Regime != nil {
		fmt.Fprintf(tw, "Regimes\t%d (converged=%t, iterations=%d)\n", len(res.Regime.States), res.Regime.Converged, res.Regime.Iterations)
		for _, s := range res.Regime.States {
			fmt.Fprintf(tw, "  state %d\tshare %.3f, means %.4f\n", s.Index, s.Share, s.Means)
		}
	}
	fmt.Fprintf(tw, "Anomalies\t%d\n", len(res.Anomalies))
	fmt.Fprintf(tw, "Results\t%s\n", out)
	return tw.Flush()
}
