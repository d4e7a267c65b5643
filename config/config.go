package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/oibacktest/internal/application/engine/backtest"
	"github.com/alejandrodnm/oibacktest/internal/application/exits"
	"github.com/alejandrodnm/oibacktest/internal/application/risk"
	"github.com/alejandrodnm/oibacktest/internal/application/signal"
	"github.com/alejandrodnm/oibacktest/internal/domain"
)

// ErrInvalid envuelve cualquier error de validación de la configuración.
var ErrInvalid = errors.New("invalid config")

// Fuentes de precios soportadas.
const (
	PriceSourceSQLite  = "sqlite"
	PriceSourceBinance = "binance"
	PriceSourceInflux  = "influx"
)

// Config es la configuración completa del backtester.
// Todos los porcentajes van en unidades de porcentaje: 2.5 significa 2.5%.
type Config struct {
	Backtest   BacktestSection  `yaml:"backtest"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	TakeProfit TakeProfitConfig `yaml:"take_profit"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Storage    StorageConfig    `yaml:"storage"`
	Binance    BinanceConfig    `yaml:"binance"`
	Influx     InfluxConfig     `yaml:"influx"`
	Log        LogConfig        `yaml:"log"`
}

// BacktestSection controla el rango y la simulación de ejecución.
type BacktestSection struct {
	Start                  string   `yaml:"start"` // 2006-01-02 o RFC3339
	End                    string   `yaml:"end"`
	InitialBalance         float64  `yaml:"initial_balance"`
	SlippagePct            float64  `yaml:"slippage_pct"`
	CommissionPct          float64  `yaml:"commission_pct"`
	MaxHoldingMinutes      int      `yaml:"max_holding_minutes"`
	AllowedDirections      []string `yaml:"allowed_directions"`
	DuplicateWindowSeconds int      `yaml:"duplicate_window_seconds"`
	PriceSource            string   `yaml:"price_source"` // sqlite | binance | influx
}

// StrategyConfig agrupa los umbrales del generador de señales y del filtro.
type StrategyConfig struct {
	MinTotalScore    float64 `yaml:"min_total_score"`
	StrongScore      float64 `yaml:"strong_score"`
	MediumScore      float64 `yaml:"medium_score"`
	MinOIChangePct   float64 `yaml:"min_oi_change_pct"`
	MinPriceMovePct  float64 `yaml:"min_price_move_pct"`
	NeutralSentiment float64 `yaml:"neutral_sentiment"`
	FundingScore     float64 `yaml:"funding_score"`
	MinConfidence    float64 `yaml:"min_confidence"`
	MinStrength      string  `yaml:"min_strength"`

	Veto VetoConfig `yaml:"veto"`
}

// VetoConfig son los umbrales de la cadena de vetos.
type VetoConfig struct {
	MaxMoveFromExtremePct float64 `yaml:"max_move_from_extreme_pct"`
	MaxOIChangePct        float64 `yaml:"max_oi_change_pct"`
	MaxPriceChangePct     float64 `yaml:"max_price_change_pct"`
	DivergenceOIPct       float64 `yaml:"divergence_oi_pct"`
	DivergencePricePct    float64 `yaml:"divergence_price_pct"`
	TopTraderMinLong      float64 `yaml:"top_trader_min_long"`
	TopTraderMaxShort     float64 `yaml:"top_trader_max_short"`
}

// RiskConfig controla admisión, tamaño y apalancamiento.
type RiskConfig struct {
	MaxOpenPositions      int            `yaml:"max_open_positions"`
	MaxPositionsPerSymbol int            `yaml:"max_positions_per_symbol"`
	BasePositionPct       float64        `yaml:"base_position_pct"`
	DailyLossLimitPct     float64        `yaml:"daily_loss_limit_pct"`
	ConsecutiveLossLimit  int            `yaml:"consecutive_loss_limit"`
	PauseAfterLossLimit   bool           `yaml:"pause_after_loss_limit"`
	MaxLeverage           int            `yaml:"max_leverage"`
	LeverageByStrength    map[string]int `yaml:"leverage_by_strength"`
	StopLossPct           float64        `yaml:"stop_loss_pct"`
	TakeProfitPct         float64        `yaml:"take_profit_pct"`
}

// TakeProfitConfig es el plan de take-profit dinámico por lotes.
type TakeProfitConfig struct {
	Enabled                bool           `yaml:"enabled"`
	Targets                []TargetConfig `yaml:"targets"`
	TrailingStartProfitPct float64        `yaml:"trailing_start_profit_pct"`
}

// TargetConfig es un lote fijo o el lote trailing.
type TargetConfig struct {
	AllocationPct       float64 `yaml:"allocation_pct"`
	TargetProfitPct     float64 `yaml:"target_profit_pct"`
	Trailing            bool    `yaml:"trailing"`
	TrailingCallbackPct float64 `yaml:"trailing_callback_pct"`
}

// SweepConfig define las variantes a ejecutar en paralelo.
type SweepConfig struct {
	Workers  int             `yaml:"workers"`
	Variants []VariantConfig `yaml:"variants"`
}

// VariantConfig sobreescribe solo los campos presentes.
type VariantConfig struct {
	Name              string   `yaml:"name"`
	MinTotalScore     *float64 `yaml:"min_total_score"`
	MinConfidence     *float64 `yaml:"min_confidence"`
	StopLossPct       *float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     *float64 `yaml:"take_profit_pct"`
	BasePositionPct   *float64 `yaml:"base_position_pct"`
	MaxHoldingMinutes *int     `yaml:"max_holding_minutes"`
	AllowedDirections []string `yaml:"allowed_directions"`
	DynamicTakeProfit *bool    `yaml:"dynamic_take_profit"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// BinanceConfig configura el import de klines.
type BinanceConfig struct {
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Testnet           bool    `yaml:"testnet"`
	Interval          string  `yaml:"interval"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        uint64  `yaml:"max_retries"`
}

// InfluxConfig configura la fuente de precios alternativa.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default devuelve la configuración de producción sin rango de fechas.
func Default() Config {
	bt := backtest.DefaultConfig()
	sig := bt.Signal
	rk := bt.Risk

	lev := make(map[string]int, len(rk.LeverageByStrength))
	for s, l := range rk.LeverageByStrength {
		lev[string(s)] = l
	}

	return Config{
		Backtest: BacktestSection{
			InitialBalance:         bt.InitialBalance,
			SlippagePct:            bt.SlippagePct,
			CommissionPct:          bt.CommissionPct,
			MaxHoldingMinutes:      int(bt.MaxHoldingTime / time.Minute),
			DuplicateWindowSeconds: int(bt.DuplicateWindow / time.Second),
			PriceSource:            PriceSourceSQLite,
		},
		Strategy: StrategyConfig{
			MinTotalScore:    sig.MinTotalScore,
			StrongScore:      sig.StrongScore,
			MediumScore:      sig.MediumScore,
			MinOIChangePct:   sig.MinOIChangePct,
			MinPriceMovePct:  sig.MinPriceMovePct,
			NeutralSentiment: sig.NeutralSentiment,
			FundingScore:     sig.FundingScore,
			Veto: VetoConfig{
				MaxMoveFromExtremePct: sig.Veto.MaxMoveFromExtremePct,
				MaxOIChangePct:        sig.Veto.MaxOIChangePct,
				MaxPriceChangePct:     sig.Veto.MaxPriceChangePct,
				DivergenceOIPct:       sig.Veto.DivergenceOIPct,
				DivergencePricePct:    sig.Veto.DivergencePricePct,
				TopTraderMinLong:      sig.Veto.TopTraderMinLong,
				TopTraderMaxShort:     sig.Veto.TopTraderMaxShort,
			},
		},
		Risk: RiskConfig{
			MaxOpenPositions:      rk.MaxOpenPositions,
			MaxPositionsPerSymbol: rk.MaxPositionsPerSymbol,
			BasePositionPct:       rk.BasePositionPct,
			DailyLossLimitPct:     rk.DailyLossLimitPct,
			ConsecutiveLossLimit:  rk.ConsecutiveLossLimit,
			PauseAfterLossLimit:   rk.PauseAfterLossLimit,
			MaxLeverage:           rk.MaxLeverage,
			LeverageByStrength:    lev,
			StopLossPct:           rk.StopLossPct,
			TakeProfitPct:         rk.TakeProfitPct,
		},
		Sweep:   SweepConfig{Workers: 4},
		Storage: StorageConfig{DSN: "oibacktest.db"},
		Binance: BinanceConfig{Interval: "1m", RequestsPerSecond: 2, MaxRetries: 3},
		Influx:  InfluxConfig{Measurement: "prices"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las claves ausentes en el YAML conservan el valor de Default; las variables
// de entorno sobreescriben ambos.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"STORAGE_DSN", &cfg.Storage.DSN},
		{"BINANCE_API_KEY", &cfg.Binance.APIKey},
		{"BINANCE_API_SECRET", &cfg.Binance.APISecret},
		{"INFLUX_TOKEN", &cfg.Influx.Token},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// setDefaults rellena lo que un YAML puede haber vaciado explícitamente.
func setDefaults(cfg *Config) {
	if cfg.Backtest.PriceSource == "" {
		cfg.Backtest.PriceSource = PriceSourceSQLite
	}
	if cfg.Sweep.Workers <= 0 {
		cfg.Sweep.Workers = 4
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "oibacktest.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	cfg.Backtest.PriceSource = strings.ToLower(cfg.Backtest.PriceSource)
}

// Validate comprueba lo que el YAML no puede expresar por tipo.
// El resto lo valida backtest.Config.Validate al convertir.
func (c *Config) Validate() error {
	switch c.Backtest.PriceSource {
	case PriceSourceSQLite, PriceSourceBinance:
	case PriceSourceInflux:
		if c.Influx.URL == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx price source needs url and bucket: %w", ErrInvalid)
		}
	default:
		return fmt.Errorf("price_source %q: %w", c.Backtest.PriceSource, ErrInvalid)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q: %w", c.Log.Level, ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Sweep.Variants))
	for i, v := range c.Sweep.Variants {
		if v.Name == "" {
			return fmt.Errorf("sweep variant #%d has no name: %w", i+1, ErrInvalid)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate sweep variant %q: %w", v.Name, ErrInvalid)
		}
		seen[v.Name] = true
	}

	if _, err := c.BacktestConfig(); err != nil {
		return err
	}
	return nil
}

// BacktestConfig convierte la representación del archivo al config del engine.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	bt := backtest.DefaultConfig()

	var err error
	if bt.Start, err = parseDate(c.Backtest.Start); err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.start: %w", err)
	}
	if bt.End, err = parseDate(c.Backtest.End); err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.end: %w", err)
	}
	bt.InitialBalance = c.Backtest.InitialBalance
	bt.SlippagePct = c.Backtest.SlippagePct
	bt.CommissionPct = c.Backtest.CommissionPct
	bt.MaxHoldingTime = time.Duration(c.Backtest.MaxHoldingMinutes) * time.Minute
	bt.DuplicateWindow = time.Duration(c.Backtest.DuplicateWindowSeconds) * time.Second
	if bt.AllowedDirections, err = parseDirections(c.Backtest.AllowedDirections); err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.allowed_directions: %w", err)
	}

	s := c.Strategy
	bt.Signal = signal.Config{
		MinTotalScore:    s.MinTotalScore,
		StrongScore:      s.StrongScore,
		MediumScore:      s.MediumScore,
		MinOIChangePct:   s.MinOIChangePct,
		MinPriceMovePct:  s.MinPriceMovePct,
		NeutralSentiment: s.NeutralSentiment,
		FundingScore:     s.FundingScore,
		Veto: signal.VetoConfig{
			MaxMoveFromExtremePct: s.Veto.MaxMoveFromExtremePct,
			MaxOIChangePct:        s.Veto.MaxOIChangePct,
			MaxPriceChangePct:     s.Veto.MaxPriceChangePct,
			DivergenceOIPct:       s.Veto.DivergenceOIPct,
			DivergencePricePct:    s.Veto.DivergencePricePct,
			TopTraderMinLong:      s.Veto.TopTraderMinLong,
			TopTraderMaxShort:     s.Veto.TopTraderMaxShort,
		},
	}
	bt.Filter = backtest.ThresholdFilter{MinConfidence: s.MinConfidence}
	if s.MinStrength != "" {
		if bt.Filter.MinStrength, err = domain.ParseStrength(s.MinStrength); err != nil {
			return backtest.Config{}, fmt.Errorf("strategy.min_strength: %w: %w", ErrInvalid, err)
		}
	}

	r := c.Risk
	lev := make(map[domain.Strength]int, len(r.LeverageByStrength))
	for k, v := range r.LeverageByStrength {
		st, err := domain.ParseStrength(k)
		if err != nil {
			return backtest.Config{}, fmt.Errorf("risk.leverage_by_strength: %w: %w", ErrInvalid, err)
		}
		lev[st] = v
	}
	bt.Risk = risk.Config{
		MaxOpenPositions:      r.MaxOpenPositions,
		MaxPositionsPerSymbol: r.MaxPositionsPerSymbol,
		BasePositionPct:       r.BasePositionPct,
		DailyLossLimitPct:     r.DailyLossLimitPct,
		ConsecutiveLossLimit:  r.ConsecutiveLossLimit,
		PauseAfterLossLimit:   r.PauseAfterLossLimit,
		MaxLeverage:           r.MaxLeverage,
		LeverageByStrength:    lev,
		StopLossPct:           r.StopLossPct,
		TakeProfitPct:         r.TakeProfitPct,
	}

	bt.TakeProfit = c.TakeProfit.exitsConfig()

	if err := bt.Validate(); err != nil {
		return backtest.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return bt, nil
}

func (t TakeProfitConfig) exitsConfig() exits.Config {
	if !t.Enabled {
		return exits.Config{}
	}
	cfg := exits.Config{TrailingStartProfitPct: t.TrailingStartProfitPct}
	for _, tc := range t.Targets {
		cfg.Targets = append(cfg.Targets, exits.Target{
			AllocationPct:       tc.AllocationPct,
			TargetProfitPct:     tc.TargetProfitPct,
			Trailing:            tc.Trailing,
			TrailingCallbackPct: tc.TrailingCallbackPct,
		})
	}
	return cfg
}

// SweepVariants traduce las variantes del YAML a mutaciones del config base.
func (c *Config) SweepVariants() ([]backtest.Variant, error) {
	variants := make([]backtest.Variant, 0, len(c.Sweep.Variants))
	for _, vc := range c.Sweep.Variants {
		dirs, err := parseDirections(vc.AllowedDirections)
		if err != nil {
			return nil, fmt.Errorf("sweep variant %q: %w", vc.Name, err)
		}
		tp := c.TakeProfit
		variants = append(variants, backtest.Variant{
			Name: vc.Name,
			Apply: func(bt *backtest.Config) {
				if vc.MinTotalScore != nil {
					bt.Signal.MinTotalScore = *vc.MinTotalScore
				}
				if vc.MinConfidence != nil {
					bt.Filter.MinConfidence = *vc.MinConfidence
				}
				if vc.StopLossPct != nil {
					bt.Risk.StopLossPct = *vc.StopLossPct
				}
				if vc.TakeProfitPct != nil {
					bt.Risk.TakeProfitPct = *vc.TakeProfitPct
				}
				if vc.BasePositionPct != nil {
					bt.Risk.BasePositionPct = *vc.BasePositionPct
				}
				if vc.MaxHoldingMinutes != nil {
					bt.MaxHoldingTime = time.Duration(*vc.MaxHoldingMinutes) * time.Minute
				}
				if len(dirs) > 0 {
					bt.AllowedDirections = dirs
				}
				if vc.DynamicTakeProfit != nil {
					plan := tp
					plan.Enabled = *vc.DynamicTakeProfit
					bt.TakeProfit = plan.exitsConfig()
				}
			},
		})
	}
	return variants, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither 2006-01-02 nor RFC3339: %w", s, ErrInvalid)
	}
	return t.UTC(), nil
}

func parseDirections(in []string) ([]domain.Direction, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.Direction, 0, len(in))
	for _, s := range in {
		d, err := domain.ParseDirection(s)
		if err != nil || d == domain.DirectionNeutral {
			return nil, fmt.Errorf("direction %q: %w", s, ErrInvalid)
		}
		out = append(out, d)
	}
	return out, nil
}
