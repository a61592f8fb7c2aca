// Package config loads the orchestrator's configuration via viper,
// the way the teacher repository declares (but never calls) viper in
// its go.mod; this is the first caller.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/paper-orchestrator/pkg/types"
)

// RoutingConfig holds the classifier/router thresholds from §routing.*.
type RoutingConfig struct {
	PennyThreshold    decimal.Decimal
	HighVolThreshold  decimal.Decimal
	LargeCapThreshold decimal.Decimal
	MinStopBuffer     decimal.Decimal
	ETFSymbols        map[string]bool
	MomentumSectors   map[string]bool
}

// ValidatorConfig holds entry-validator thresholds from §validator.*.
type ValidatorConfig struct {
	MinConfidence types.ConfidenceLevel
	MaxDataAge    time.Duration
	WaitTolerance decimal.Decimal
}

// ExecutionConfig holds executor risk-gate and circuit-breaker thresholds.
type ExecutionConfig struct {
	MaxPositions           int
	MaxDailyTrades         int
	MaxStrategyAllocation  decimal.Decimal
	CircuitDailyLoss       decimal.Decimal
	CircuitConsecutiveLoss int
	CircuitPauseDuration   time.Duration
	StrategyWinRateFloor   decimal.Decimal
	StrategyWinRateLookback int
	PositionDrawdownForceExit decimal.Decimal
}

// RSIEngineConfig holds §4.5.1 parameters.
type RSIEngineConfig struct {
	Oversold      decimal.Decimal
	Overbought    decimal.Decimal
	PositionFrac  decimal.Decimal
	MinStopBuffer decimal.Decimal
	ProfitTarget  decimal.Decimal
	MaxHoldDays   int
}

// MomentumEngineConfig holds §4.5.2 parameters.
type MomentumEngineConfig struct {
	BreakoutPeriod  int
	BreakoutBuffer  decimal.Decimal
	VolumeMultiple  decimal.Decimal
	PositionFrac    decimal.Decimal
	StopLoss        decimal.Decimal
	TrailingStop    decimal.Decimal
	ProfitTarget    decimal.Decimal
	MaxHoldDays     int
}

// BollingerEngineConfig holds §4.5.3 parameters.
type BollingerEngineConfig struct {
	Period        int
	StdevMult     decimal.Decimal
	PositionFrac  decimal.Decimal
	StopLoss      decimal.Decimal
	ProfitTarget  decimal.Decimal
	ExitAtMiddle  bool
	MaxHoldDays   int
}

// EnginesConfig groups per-engine parameter blocks.
type EnginesConfig struct {
	RSI       RSIEngineConfig
	Momentum  MomentumEngineConfig
	Bollinger BollingerEngineConfig
}

// MonitorConfig and ScreenerConfig hold §5 scheduling cadences.
type MonitorConfig struct {
	Interval time.Duration
}

type ScreenerConfig struct {
	FilePath       string
	PollInterval   time.Duration
	CandidateQueue int
	Cooldown       time.Duration
	Enabled        bool
}

// ServerConfig is ambient wiring for the /healthz and /metrics surface.
type ServerConfig struct {
	Host string
	Port int
}

// Config is the fully-loaded, read-only-at-runtime configuration tree.
type Config struct {
	Routing   RoutingConfig
	Validator ValidatorConfig
	Execution ExecutionConfig
	Engines   EnginesConfig
	Monitor   MonitorConfig
	Screener  ScreenerConfig
	Server    ServerConfig
	DataDir   string
	WorkerPoolSize int
	LogLevel  string
	StartingCash decimal.Decimal
}

// Load reads configuration from an optional file plus environment
// variables (prefix PAPERORCH_), filling every default enumerated in
// §6 of the specification. A malformed config file is ConfigInvalid —
// fatal at startup, per §7.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, types.NewDispositionError(types.ErrKindConfigInvalid, "", "failed to read config file", err)
		}
	}

	cfg := &Config{
		Routing: RoutingConfig{
			PennyThreshold:    decimal.NewFromFloat(v.GetFloat64("routing.penny_threshold")),
			HighVolThreshold:  decimal.NewFromFloat(v.GetFloat64("routing.high_vol_threshold")),
			LargeCapThreshold: decimal.NewFromFloat(v.GetFloat64("routing.large_cap_threshold")),
			MinStopBuffer:     decimal.NewFromFloat(v.GetFloat64("routing.min_stop_buffer")),
			ETFSymbols:        toSet(v.GetStringSlice("routing.etf_symbols")),
			MomentumSectors:   toSet(v.GetStringSlice("routing.momentum_sectors")),
		},
		Validator: ValidatorConfig{
			MinConfidence: types.ParseConfidenceLevel(v.GetString("validator.min_confidence")),
			MaxDataAge:    v.GetDuration("validator.max_data_age"),
			WaitTolerance: decimal.NewFromFloat(v.GetFloat64("validator.wait_tolerance")),
		},
		Execution: ExecutionConfig{
			MaxPositions:              v.GetInt("execution.max_positions"),
			MaxDailyTrades:            v.GetInt("execution.max_daily_trades"),
			MaxStrategyAllocation:     decimal.NewFromFloat(v.GetFloat64("execution.max_strategy_allocation")),
			CircuitDailyLoss:          decimal.NewFromFloat(v.GetFloat64("execution.circuit.daily_loss")),
			CircuitConsecutiveLoss:    v.GetInt("execution.circuit.consecutive_losses"),
			CircuitPauseDuration:      v.GetDuration("execution.circuit.pause_duration"),
			StrategyWinRateFloor:      decimal.NewFromFloat(v.GetFloat64("execution.circuit.strategy_win_rate_floor")),
			StrategyWinRateLookback:   v.GetInt("execution.circuit.strategy_win_rate_lookback"),
			PositionDrawdownForceExit: decimal.NewFromFloat(v.GetFloat64("execution.circuit.position_drawdown_force_exit")),
		},
		Engines: EnginesConfig{
			RSI: RSIEngineConfig{
				Oversold:      decimal.NewFromFloat(v.GetFloat64("engines.rsi.oversold")),
				Overbought:    decimal.NewFromFloat(v.GetFloat64("engines.rsi.overbought")),
				PositionFrac:  decimal.NewFromFloat(v.GetFloat64("engines.rsi.position_fraction")),
				MinStopBuffer: decimal.NewFromFloat(v.GetFloat64("engines.rsi.min_stop_buffer")),
				ProfitTarget:  decimal.NewFromFloat(v.GetFloat64("engines.rsi.profit_target")),
				MaxHoldDays:   v.GetInt("engines.rsi.max_hold_days"),
			},
			Momentum: MomentumEngineConfig{
				BreakoutPeriod: v.GetInt("engines.momentum.breakout_period"),
				BreakoutBuffer: decimal.NewFromFloat(v.GetFloat64("engines.momentum.breakout_buffer")),
				VolumeMultiple: decimal.NewFromFloat(v.GetFloat64("engines.momentum.volume_multiple")),
				PositionFrac:   decimal.NewFromFloat(v.GetFloat64("engines.momentum.position_fraction")),
				StopLoss:       decimal.NewFromFloat(v.GetFloat64("engines.momentum.stop_loss")),
				TrailingStop:   decimal.NewFromFloat(v.GetFloat64("engines.momentum.trailing_stop")),
				ProfitTarget:   decimal.NewFromFloat(v.GetFloat64("engines.momentum.profit_target")),
				MaxHoldDays:    v.GetInt("engines.momentum.max_hold_days"),
			},
			Bollinger: BollingerEngineConfig{
				Period:       v.GetInt("engines.bollinger.period"),
				StdevMult:    decimal.NewFromFloat(v.GetFloat64("engines.bollinger.stdev_multiple")),
				PositionFrac: decimal.NewFromFloat(v.GetFloat64("engines.bollinger.position_fraction")),
				StopLoss:     decimal.NewFromFloat(v.GetFloat64("engines.bollinger.stop_loss")),
				ProfitTarget: decimal.NewFromFloat(v.GetFloat64("engines.bollinger.profit_target")),
				ExitAtMiddle: v.GetBool("engines.bollinger.exit_at_middle"),
				MaxHoldDays:  v.GetInt("engines.bollinger.max_hold_days"),
			},
		},
		Monitor:  MonitorConfig{Interval: v.GetDuration("monitor.interval")},
		Screener: ScreenerConfig{
			FilePath:       v.GetString("screener.file"),
			PollInterval:   v.GetDuration("screener.poll_interval"),
			CandidateQueue: v.GetInt("screener.candidate_queue_size"),
			Cooldown:       v.GetDuration("screener.cooldown"),
			Enabled:        v.GetBool("screener.enabled"),
		},
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		DataDir:        v.GetString("data.dir"),
		WorkerPoolSize: v.GetInt("execution.worker_pool_size"),
		LogLevel:       v.GetString("log.level"),
		StartingCash:   decimal.NewFromFloat(v.GetFloat64("execution.starting_cash")),
	}

	if err := cfg.validate(); err != nil {
		return nil, types.NewDispositionError(types.ErrKindConfigInvalid, "", "invalid configuration", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Execution.MaxPositions <= 0 {
		return fmt.Errorf("execution.max_positions must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("execution.worker_pool_size must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	return nil
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("routing.penny_threshold", 5.0)
	v.SetDefault("routing.high_vol_threshold", 0.30)
	v.SetDefault("routing.large_cap_threshold", 100e9)
	v.SetDefault("routing.min_stop_buffer", 0.05)
	v.SetDefault("routing.etf_symbols", []string{"SPY", "QQQ", "IWM", "DIA"})
	v.SetDefault("routing.momentum_sectors", []string{"Semiconductors"})

	v.SetDefault("validator.min_confidence", "MEDIUM")
	v.SetDefault("validator.max_data_age", 24*time.Hour)
	v.SetDefault("validator.wait_tolerance", 0.01)

	v.SetDefault("execution.max_positions", 10)
	v.SetDefault("execution.max_daily_trades", 20)
	v.SetDefault("execution.max_strategy_allocation", 0.50)
	v.SetDefault("execution.circuit.daily_loss", 0.05)
	v.SetDefault("execution.circuit.consecutive_losses", 5)
	v.SetDefault("execution.circuit.pause_duration", 30*time.Minute)
	v.SetDefault("execution.circuit.strategy_win_rate_floor", 0.30)
	v.SetDefault("execution.circuit.strategy_win_rate_lookback", 20)
	v.SetDefault("execution.circuit.position_drawdown_force_exit", 0.20)
	v.SetDefault("execution.worker_pool_size", 4)
	v.SetDefault("execution.starting_cash", 100000.0)

	v.SetDefault("engines.rsi.oversold", 45.0)
	v.SetDefault("engines.rsi.overbought", 55.0)
	v.SetDefault("engines.rsi.position_fraction", 0.25)
	v.SetDefault("engines.rsi.min_stop_buffer", 0.05)
	v.SetDefault("engines.rsi.profit_target", 0.025)
	v.SetDefault("engines.rsi.max_hold_days", 12)

	v.SetDefault("engines.momentum.breakout_period", 20)
	v.SetDefault("engines.momentum.breakout_buffer", 0.001)
	v.SetDefault("engines.momentum.volume_multiple", 1.5)
	v.SetDefault("engines.momentum.position_fraction", 0.20)
	v.SetDefault("engines.momentum.stop_loss", 0.08)
	v.SetDefault("engines.momentum.trailing_stop", 0.10)
	v.SetDefault("engines.momentum.profit_target", 0.08)
	v.SetDefault("engines.momentum.max_hold_days", 20)

	v.SetDefault("engines.bollinger.period", 20)
	v.SetDefault("engines.bollinger.stdev_multiple", 2.0)
	v.SetDefault("engines.bollinger.position_fraction", 0.25)
	v.SetDefault("engines.bollinger.stop_loss", 0.03)
	v.SetDefault("engines.bollinger.profit_target", 0.04)
	v.SetDefault("engines.bollinger.exit_at_middle", true)
	v.SetDefault("engines.bollinger.max_hold_days", 15)

	v.SetDefault("monitor.interval", 60*time.Second)
	v.SetDefault("screener.file", "./data/screener.json")
	v.SetDefault("screener.enabled", true)
	v.SetDefault("screener.poll_interval", 5*time.Minute)
	v.SetDefault("screener.candidate_queue_size", 500)
	v.SetDefault("screener.cooldown", 15*time.Minute)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("log.level", "info")
}
