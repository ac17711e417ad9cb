package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/newthinker/marketsim/internal/core"
)

type Config struct {
	Game     GameConfig     `mapstructure:"game"`
	Market   MarketConfig   `mapstructure:"market"`
	Momentum MomentumConfig `mapstructure:"momentum"`
	Phase    PhaseConfig    `mapstructure:"phase"`
	Maker    MakerConfig    `mapstructure:"maker"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Orders   OrdersConfig   `mapstructure:"orders"`
	Credit   CreditConfig   `mapstructure:"credit"`
	Short    ShortConfig    `mapstructure:"short"`
	Server   ServerConfig   `mapstructure:"server"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// GameConfig controls the cycle scheduler and overall game shape.
type GameConfig struct {
	// BaseInterval is the wall-clock time of one cycle at speed 1.
	BaseInterval time.Duration `mapstructure:"base_interval"`
	// Speeds are the allowed interval divisors, indexed by speed level 1..N.
	Speeds []int `mapstructure:"speeds"`
	// DurationCycles ends the game when the cycle counter reaches it; 0 = endless.
	DurationCycles int `mapstructure:"duration_cycles"`
	// CountdownPoll is the granularity of the displayable countdown.
	CountdownPoll time.Duration `mapstructure:"countdown_poll"`
	StartingCash  float64       `mapstructure:"starting_cash"`
	Seed          int64         `mapstructure:"seed"`
}

// StockConfig seeds one symbol at game start.
type StockConfig struct {
	Symbol    string      `mapstructure:"symbol"`
	Name      string      `mapstructure:"name"`
	Sector    core.Sector `mapstructure:"sector"`
	BasePrice float64     `mapstructure:"base_price"`
	Shares    int64       `mapstructure:"shares"`
}

type MarketConfig struct {
	Stocks     []StockConfig `mapstructure:"stocks"`
	MaxHistory int           `mapstructure:"max_history"`
	// BaseVolatility is the per-cycle log-return standard deviation before
	// phase multipliers.
	BaseVolatility float64 `mapstructure:"base_volatility"`
	// WickRange bounds the random wick extension beyond the candle body.
	WickRange float64 `mapstructure:"wick_range"`
	MinPrice  float64 `mapstructure:"min_price"`
	// SplitCeiling triggers a stock split when price exceeds it.
	SplitCeiling float64 `mapstructure:"split_ceiling"`
	SplitFactor  int64   `mapstructure:"split_factor"`
	// SpreadImpact scales the price impact of market-maker spread on
	// symbols traded in the current cycle.
	SpreadImpact float64 `mapstructure:"spread_impact"`
}

type MomentumConfig struct {
	// Decay pulls momentum toward neutral each cycle; (0,1).
	Decay float64 `mapstructure:"decay"`
	// Gain weighs the newest per-sector performance sample.
	Gain float64 `mapstructure:"gain"`
	// InfluenceScale maps momentum to a price-generation bias.
	InfluenceScale float64 `mapstructure:"influence_scale"`
	MaxInfluence   float64 `mapstructure:"max_influence"`
	// Lookback is the number of candles used for realized performance.
	Lookback int `mapstructure:"lookback"`
}

type PhaseConfig struct {
	// MinCycles must elapse in a phase before a normal transition.
	MinCycles int `mapstructure:"min_cycles"`
	// UpThreshold/DownThreshold are momentum levels driving transitions.
	UpThreshold   float64 `mapstructure:"up_threshold"`
	DownThreshold float64 `mapstructure:"down_threshold"`
	// OverheatThreshold on sector momentum starts the overheat counter.
	OverheatThreshold float64 `mapstructure:"overheat_threshold"`
	// CrashBaseChance + CrashChanceGrowth*overheatCycles is the per-cycle
	// crash probability while overheated.
	CrashBaseChance   float64 `mapstructure:"crash_base_chance"`
	CrashChanceGrowth float64 `mapstructure:"crash_chance_growth"`
	// Volatility multipliers per phase.
	Volatility map[core.Phase]float64 `mapstructure:"volatility"`
}

type MakerConfig struct {
	// BaseInventory is the per-symbol target inventory.
	BaseInventory int64 `mapstructure:"base_inventory"`
	// LowRatio/HighRatio are the clamp knees of the spread curve.
	LowRatio  float64 `mapstructure:"low_ratio"`
	HighRatio float64 `mapstructure:"high_ratio"`
	// MaxSpread applies at/below LowRatio, MinSpread at/above HighRatio.
	MaxSpread float64 `mapstructure:"max_spread"`
	MinSpread float64 `mapstructure:"min_spread"`
	// RebalanceFraction of the distance back to base is recovered per cycle.
	RebalanceFraction float64 `mapstructure:"rebalance_fraction"`
}

type AgentsConfig struct {
	Count        int     `mapstructure:"count"`
	StartingCash float64 `mapstructure:"starting_cash"`
	// TradeChance is the per-cycle probability an agent acts at all.
	TradeChance float64 `mapstructure:"trade_chance"`
	// MaxPositionFraction caps a single buy at this fraction of cash.
	MaxPositionFraction float64 `mapstructure:"max_position_fraction"`
	// TxBuffer bounds each agent's transaction ring buffer.
	TxBuffer int `mapstructure:"tx_buffer"`
	// WarmupCycles run before visible play to seed history and liquidity.
	WarmupCycles int `mapstructure:"warmup_cycles"`
	// MinWarmupTrades per symbol; the final third of warm-up biases toward
	// symbols below it and any still-untraded symbol gets a forced trade.
	MinWarmupTrades int `mapstructure:"min_warmup_trades"`
}

type OrdersConfig struct {
	// ExpiryCycles is the age at which a resting order expires.
	ExpiryCycles int `mapstructure:"expiry_cycles"`
}

type CreditConfig struct {
	MaxLoans int `mapstructure:"max_loans"`
	// FeeRate is deducted up front from the disbursed principal.
	FeeRate float64 `mapstructure:"fee_rate"`
	// InterestRate is charged every InterestCadence cycles.
	InterestRate    float64 `mapstructure:"interest_rate"`
	InterestCadence int     `mapstructure:"interest_cadence"`
	DurationCycles  int     `mapstructure:"duration_cycles"`
	// WarnCycles triggers the one-shot due-soon warning.
	WarnCycles int     `mapstructure:"warn_cycles"`
	MaxAmount  float64 `mapstructure:"max_amount"`
}

type ShortConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// InitialMargin is the collateral fraction locked at open.
	InitialMargin float64 `mapstructure:"initial_margin"`
	// MaintenanceMargin is the equity ratio below which a margin call opens.
	MaintenanceMargin float64 `mapstructure:"maintenance_margin"`
	BorrowFeeRate     float64 `mapstructure:"borrow_fee_rate"`
	// HardToBorrowThreshold on shortInterest/float applies the surcharge.
	HardToBorrowThreshold float64 `mapstructure:"hard_to_borrow_threshold"`
	HardToBorrowSurcharge float64 `mapstructure:"hard_to_borrow_surcharge"`
	GraceCycles           int     `mapstructure:"grace_cycles"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
	// APIKey protects the command endpoints; empty disables auth.
	APIKey string `mapstructure:"api_key"`
	// StreamBuffer is the per-client frame buffer of the WebSocket stream.
	StreamBuffer int `mapstructure:"stream_buffer"`
}

// ArchiveConfig mirrors save games to cold storage. Empty backend disables it.
type ArchiveConfig struct {
	// Backend is "", "local" or "s3".
	Backend string `mapstructure:"backend"`
	// Dir is the local backend's directory.
	Dir string `mapstructure:"dir"`
	// S3 settings; Endpoint overrides for MinIO-compatible stores.
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// Load reads configuration from file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults for a playable market.
func Defaults() *Config {
	return &Config{
		Game: GameConfig{
			BaseInterval:   10 * time.Second,
			Speeds:         []int{1, 2, 3},
			DurationCycles: 0,
			CountdownPoll:  250 * time.Millisecond,
			StartingCash:   100_000,
		},
		Market: MarketConfig{
			Stocks:         defaultStocks(),
			MaxHistory:     240,
			BaseVolatility: 0.02,
			WickRange:      0.01,
			MinPrice:       0.01,
			SplitCeiling:   1_000,
			SplitFactor:    2,
			SpreadImpact:   0.004,
		},
		Momentum: MomentumConfig{
			Decay:          0.85,
			Gain:           0.5,
			InfluenceScale: 0.6,
			MaxInfluence:   0.015,
			Lookback:       5,
		},
		Phase: PhaseConfig{
			MinCycles:         8,
			UpThreshold:       0.01,
			DownThreshold:     -0.01,
			OverheatThreshold: 0.025,
			CrashBaseChance:   0.05,
			CrashChanceGrowth: 0.03,
			Volatility: map[core.Phase]float64{
				core.PhaseProsperity:    1.0,
				core.PhaseBoom:          1.4,
				core.PhaseConsolidation: 0.8,
				core.PhasePanic:         2.2,
				core.PhaseRecession:     1.2,
				core.PhaseRecovery:      1.0,
			},
		},
		Maker: MakerConfig{
			BaseInventory:     10_000,
			LowRatio:          0.25,
			HighRatio:         2.0,
			MaxSpread:         2.0,
			MinSpread:         0.5,
			RebalanceFraction: 0.1,
		},
		Agents: AgentsConfig{
			Count:               12,
			StartingCash:        100_000,
			TradeChance:         0.55,
			MaxPositionFraction: 0.25,
			TxBuffer:            50,
			WarmupCycles:        60,
			MinWarmupTrades:     2,
		},
		Orders: OrdersConfig{
			ExpiryCycles: 20,
		},
		Credit: CreditConfig{
			MaxLoans:        3,
			FeeRate:         0.02,
			InterestRate:    0.05,
			InterestCadence: 10,
			DurationCycles:  50,
			WarnCycles:      5,
			MaxAmount:       200_000,
		},
		Short: ShortConfig{
			Enabled:               true,
			InitialMargin:         0.5,
			MaintenanceMargin:     0.25,
			BorrowFeeRate:         0.001,
			HardToBorrowThreshold: 0.2,
			HardToBorrowSurcharge: 3.0,
			GraceCycles:           5,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MetricsPath:  "/metrics",
			StreamBuffer: 32,
		},
	}
}

func defaultStocks() []StockConfig {
	return []StockConfig{
		{Symbol: "NIMB", Name: "Nimbus Systems", Sector: core.SectorTech, BasePrice: 120, Shares: 2_000_000},
		{Symbol: "QNTA", Name: "Quanta Labs", Sector: core.SectorTech, BasePrice: 64, Shares: 3_500_000},
		{Symbol: "ARGX", Name: "Argent Exchange", Sector: core.SectorFinance, BasePrice: 88, Shares: 2_800_000},
		{Symbol: "MERC", Name: "Mercantile Trust", Sector: core.SectorFinance, BasePrice: 45, Shares: 5_000_000},
		{Symbol: "HELI", Name: "Helios Power", Sector: core.SectorEnergy, BasePrice: 73, Shares: 3_000_000},
		{Symbol: "PETR", Name: "Petrova Drilling", Sector: core.SectorEnergy, BasePrice: 31, Shares: 6_000_000},
		{Symbol: "VITA", Name: "Vitalis Biotech", Sector: core.SectorHealthcare, BasePrice: 150, Shares: 1_500_000},
		{Symbol: "CURA", Name: "Curanta Health", Sector: core.SectorHealthcare, BasePrice: 52, Shares: 4_000_000},
		{Symbol: "LUXE", Name: "Luxemart Retail", Sector: core.SectorConsumer, BasePrice: 27, Shares: 7_000_000},
		{Symbol: "GRAN", Name: "Granary Foods", Sector: core.SectorConsumer, BasePrice: 39, Shares: 5_500_000},
		{Symbol: "FERA", Name: "Ferralloy Works", Sector: core.SectorIndustrial, BasePrice: 58, Shares: 3_200_000},
		{Symbol: "ORBT", Name: "Orbital Freight", Sector: core.SectorIndustrial, BasePrice: 95, Shares: 2_400_000},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Game.BaseInterval <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("base_interval must be positive, got %v", c.Game.BaseInterval))
	}
	if len(c.Game.Speeds) == 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("at least one speed level required"))
	}
	for _, s := range c.Game.Speeds {
		if s < 1 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("speed divisors must be >= 1, got %d", s))
		}
	}
	if len(c.Market.Stocks) == 0 {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("market.stocks must not be empty"))
	}
	seen := make(map[string]bool, len(c.Market.Stocks))
	for _, s := range c.Market.Stocks {
		if s.Symbol == "" || s.BasePrice <= 0 || s.Shares <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("stock %q needs a symbol, positive base_price and shares", s.Symbol))
		}
		if seen[s.Symbol] {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("duplicate stock symbol %q", s.Symbol))
		}
		seen[s.Symbol] = true
	}
	if c.Momentum.Decay <= 0 || c.Momentum.Decay >= 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("momentum.decay must be in (0,1), got %f", c.Momentum.Decay))
	}
	if c.Momentum.MaxInfluence < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("momentum.max_influence cannot be negative"))
	}
	if c.Maker.LowRatio >= 1 && c.Maker.LowRatio >= c.Maker.HighRatio {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("maker.low_ratio must be below maker.high_ratio"))
	}
	if c.Maker.MinSpread > 1 || c.Maker.MaxSpread < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("maker spread clamps must bracket 1.0"))
	}
	if c.Maker.RebalanceFraction < 0 || c.Maker.RebalanceFraction > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("maker.rebalance_fraction must be in [0,1]"))
	}
	if c.Credit.InterestCadence < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("credit.interest_cadence must be >= 1"))
	}
	if c.Short.MaintenanceMargin <= 0 || c.Short.MaintenanceMargin >= c.Short.InitialMargin {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("short.maintenance_margin must be positive and below initial_margin"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}
	switch c.Archive.Backend {
	case "", "local", "s3":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("archive.backend must be local or s3, got %q", c.Archive.Backend))
	}
	return nil
}

// SpeedDivisor returns the interval divisor for a 1-based speed level,
// clamped to the configured range.
func (c *Config) SpeedDivisor(level int) int {
	if len(c.Game.Speeds) == 0 {
		return 1
	}
	if level < 1 {
		level = 1
	}
	if level > len(c.Game.Speeds) {
		level = len(c.Game.Speeds)
	}
	return c.Game.Speeds[level-1]
}
