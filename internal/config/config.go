package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ExecutionModeNormal = "normal"
	ExecutionModeTurbo  = "turbo"

	PriceSourceOnchain     = "onchain"
	PriceSourceDexScreener = "dexscreener"
)

// ScanIntervals is the enumerated set accepted for orders.scan_interval.
var ScanIntervals = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	ChainID        int64
	RPCURLs        string
	GasPreset      string
	Turbo          bool
	SlippageBps    int64
	LogLevel       string
	Timeout        string
	NoCache        bool
	NoStale        bool
	MaxStale       string
	KeySource      string
}

type AutoSellRule struct {
	Kind           string          `yaml:"kind" json:"kind"`
	TriggerPercent decimal.Decimal `yaml:"trigger_percent" json:"trigger_percent"`
	SellPercent    decimal.Decimal `yaml:"sell_percent" json:"sell_percent"`
}

type TrailingConfig struct {
	CallbackPercent decimal.Decimal `yaml:"callback_percent" json:"callback_percent"`
	Activation      string          `yaml:"activation" json:"activation"`
}

type AutoSellConfig struct {
	Enabled  bool            `yaml:"enabled" json:"enabled"`
	Rules    []AutoSellRule  `yaml:"rules" json:"rules"`
	Trailing *TrailingConfig `yaml:"trailing" json:"trailing,omitempty"`
}

type Settings struct {
	ConfigPath     string
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	LogLevel       string

	ChainID         int64
	RPCEndpoints    []string
	RelayURL        string
	RelayEnabled    bool
	RPCCallTimeout  time.Duration
	RPCRateLimit    float64
	RPCRateBurst    int
	SlippageBps     int64
	GasPresets      map[string]string
	GasPreset       string
	ExecutionMode   string
	GasMultiplier   float64
	FixedGasLimit   uint64
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
	V2Factories     []string
	V3FeeTiers      []uint32
	PreferredFee    uint32
	BridgePreferred map[string]string
	PriceSource     string
	PriceAPIURL     string

	ScanInterval   time.Duration
	CancelGrace    time.Duration
	OrderStorePath string
	OrderLockPath  string
	AutoSell       AutoSellConfig

	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	TokenTTL        time.Duration
	MaxStale        time.Duration
	NoStale         bool
	KeySource       string
	JournalPath     string
	JournalLockPath string
	MetricsAddr     string
	HTTPTimeout     time.Duration
	HTTPRetries     int
}

type fileConfig struct {
	Output         string   `yaml:"output"`
	LogLevel       string   `yaml:"log_level"`
	ChainID        *int64   `yaml:"chain_id"`
	RPCEndpoints   []string `yaml:"rpc_endpoints"`
	RPCCallTimeout string   `yaml:"rpc_call_timeout"`
	RPCRateLimit   *float64 `yaml:"rpc_rate_limit"`
	RPCRateBurst   *int     `yaml:"rpc_rate_burst"`
	PrivateRelay   struct {
		URL     string `yaml:"url"`
		Enabled *bool  `yaml:"enabled"`
	} `yaml:"private_relay"`
	SlippageBps    *int64            `yaml:"slippage_bps"`
	GasPresets     map[string]string `yaml:"gas_presets"`
	GasPreset      string            `yaml:"gas_preset"`
	ExecutionMode  string            `yaml:"execution_mode"`
	GasMultiplier  *float64          `yaml:"gas_multiplier"`
	FixedGasLimit  *uint64           `yaml:"fixed_gas_limit"`
	ReceiptTimeout string            `yaml:"receipt_timeout"`
	Quote          struct {
		V2Factories      []string `yaml:"v2_factories"`
		V3FeeTiers       []uint32 `yaml:"v3_fee_tiers"`
		PreferredFeeTier *uint32  `yaml:"preferred_fee_tier"`
	} `yaml:"quote"`
	BridgeVenuePreference map[string]string `yaml:"bridge_venue_preference"`
	PriceSource           string            `yaml:"price_source"`
	PriceAPIURL           string            `yaml:"price_api_url"`
	Orders                struct {
		ScanInterval string `yaml:"scan_interval"`
		CancelGrace  string `yaml:"cancel_grace"`
		StorePath    string `yaml:"store_path"`
		LockPath     string `yaml:"lock_path"`
	} `yaml:"orders"`
	AutoSell *AutoSellConfig `yaml:"auto_sell"`
	Cache    struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		TokenTTL string `yaml:"token_ttl"`
		MaxStale string `yaml:"max_stale"`
	} `yaml:"cache"`
	KeySource string `yaml:"key_source"`
	Journal   struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	settings.ConfigPath = cfgPath

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if err := validate(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:     "json",
		LogLevel:       "warn",
		ChainID:        56,
		RPCCallTimeout: 8 * time.Second,
		RPCRateBurst:   10,
		SlippageBps:    500,
		GasPresets: map[string]string{
			"slow":   "1",
			"normal": "1",
			"fast":   "3",
			"turbo":  "5",
		},
		GasPreset:       "normal",
		ExecutionMode:   ExecutionModeNormal,
		GasMultiplier:   1.2,
		FixedGasLimit:   800_000,
		ReceiptTimeout:  2 * time.Minute,
		ReceiptPoll:     2 * time.Second,
		V3FeeTiers:      []uint32{100, 500, 2500, 10000},
		BridgePreferred: map[string]string{},
		PriceSource:     PriceSourceOnchain,
		PriceAPIURL:     "https://api.dexscreener.com",
		ScanInterval:    5 * time.Second,
		CancelGrace:     3 * time.Second,
		OrderStorePath:  filepath.Join(dataDir, "orders.db"),
		OrderLockPath:   filepath.Join(dataDir, "orders.lock"),
		CacheEnabled:    true,
		CachePath:       filepath.Join(dataDir, "cache.db"),
		CacheLockPath:   filepath.Join(dataDir, "cache.lock"),
		TokenTTL:        10 * time.Minute,
		MaxStale:        time.Minute,
		KeySource:       "auto",
		JournalPath:     filepath.Join(dataDir, "journal.db"),
		JournalLockPath: filepath.Join(dataDir, "journal.lock"),
		HTTPTimeout:     8 * time.Second,
		HTTPRetries:     1,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "bsctrade", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "bsctrade"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return mergeFileConfig(cfg, settings)
}

func mergeFileConfig(cfg fileConfig, settings *Settings) error {
	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if len(cfg.RPCEndpoints) > 0 {
		settings.RPCEndpoints = trimAll(cfg.RPCEndpoints)
	}
	if cfg.RPCCallTimeout != "" {
		d, err := time.ParseDuration(cfg.RPCCallTimeout)
		if err != nil {
			return fmt.Errorf("config rpc_call_timeout: %w", err)
		}
		settings.RPCCallTimeout = d
	}
	if cfg.RPCRateLimit != nil {
		settings.RPCRateLimit = *cfg.RPCRateLimit
	}
	if cfg.RPCRateBurst != nil {
		settings.RPCRateBurst = *cfg.RPCRateBurst
	}
	if cfg.PrivateRelay.URL != "" {
		settings.RelayURL = strings.TrimSpace(cfg.PrivateRelay.URL)
		settings.RelayEnabled = true
	}
	if cfg.PrivateRelay.Enabled != nil {
		settings.RelayEnabled = *cfg.PrivateRelay.Enabled
	}
	if cfg.SlippageBps != nil {
		settings.SlippageBps = *cfg.SlippageBps
	}
	for preset, gwei := range cfg.GasPresets {
		settings.GasPresets[strings.ToLower(preset)] = strings.TrimSpace(gwei)
	}
	if cfg.GasPreset != "" {
		settings.GasPreset = strings.ToLower(cfg.GasPreset)
	}
	if cfg.ExecutionMode != "" {
		settings.ExecutionMode = strings.ToLower(cfg.ExecutionMode)
	}
	if cfg.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.GasMultiplier
	}
	if cfg.FixedGasLimit != nil {
		settings.FixedGasLimit = *cfg.FixedGasLimit
	}
	if cfg.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if len(cfg.Quote.V2Factories) > 0 {
		settings.V2Factories = trimAll(cfg.Quote.V2Factories)
	}
	if len(cfg.Quote.V3FeeTiers) > 0 {
		settings.V3FeeTiers = append([]uint32(nil), cfg.Quote.V3FeeTiers...)
	}
	if cfg.Quote.PreferredFeeTier != nil {
		settings.PreferredFee = *cfg.Quote.PreferredFeeTier
	}
	for token, venue := range cfg.BridgeVenuePreference {
		settings.BridgePreferred[strings.ToLower(strings.TrimSpace(token))] = strings.ToLower(strings.TrimSpace(venue))
	}
	if cfg.PriceSource != "" {
		settings.PriceSource = strings.ToLower(cfg.PriceSource)
	}
	if cfg.PriceAPIURL != "" {
		settings.PriceAPIURL = strings.TrimRight(strings.TrimSpace(cfg.PriceAPIURL), "/")
	}
	if cfg.Orders.ScanInterval != "" {
		d, err := time.ParseDuration(cfg.Orders.ScanInterval)
		if err != nil {
			return fmt.Errorf("config orders.scan_interval: %w", err)
		}
		settings.ScanInterval = d
	}
	if cfg.Orders.CancelGrace != "" {
		d, err := time.ParseDuration(cfg.Orders.CancelGrace)
		if err != nil {
			return fmt.Errorf("config orders.cancel_grace: %w", err)
		}
		settings.CancelGrace = d
	}
	if cfg.Orders.StorePath != "" {
		settings.OrderStorePath = cfg.Orders.StorePath
	}
	if cfg.Orders.LockPath != "" {
		settings.OrderLockPath = cfg.Orders.LockPath
	}
	if cfg.AutoSell != nil {
		settings.AutoSell = *cfg.AutoSell
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.TokenTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TokenTTL)
		if err != nil {
			return fmt.Errorf("config cache.token_ttl: %w", err)
		}
		settings.TokenTTL = d
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.KeySource != "" {
		settings.KeySource = strings.ToLower(strings.TrimSpace(cfg.KeySource))
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	if cfg.MetricsAddr != "" {
		settings.MetricsAddr = cfg.MetricsAddr
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("BSCTRADE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("BSCTRADE_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("BSCTRADE_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("BSCTRADE_RPC_ENDPOINTS"); v != "" {
		settings.RPCEndpoints = splitCSV(v)
	}
	if v := os.Getenv("BSCTRADE_RPC_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.RPCCallTimeout = d
		}
	}
	if v := os.Getenv("BSCTRADE_RELAY_URL"); v != "" {
		settings.RelayURL = strings.TrimSpace(v)
		settings.RelayEnabled = true
	}
	if v := os.Getenv("BSCTRADE_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("BSCTRADE_GAS_PRESET"); v != "" {
		settings.GasPreset = strings.ToLower(v)
	}
	if v := os.Getenv("BSCTRADE_EXECUTION_MODE"); v != "" {
		settings.ExecutionMode = strings.ToLower(v)
	}
	if v := os.Getenv("BSCTRADE_GAS_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.GasMultiplier = f
		}
	}
	if v := os.Getenv("BSCTRADE_PRICE_SOURCE"); v != "" {
		settings.PriceSource = strings.ToLower(v)
	}
	if v := os.Getenv("BSCTRADE_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ScanInterval = d
		}
	}
	if v := os.Getenv("BSCTRADE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("BSCTRADE_ORDERS_PATH"); v != "" {
		settings.OrderStorePath = v
	}
	if v := os.Getenv("BSCTRADE_ORDERS_LOCK_PATH"); v != "" {
		settings.OrderLockPath = v
	}
	if v := os.Getenv("BSCTRADE_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("BSCTRADE_KEY_SOURCE"); v != "" {
		settings.KeySource = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("BSCTRADE_METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURLs) != "" {
		settings.RPCEndpoints = splitCSV(flags.RPCURLs)
	}
	if flags.GasPreset != "" {
		settings.GasPreset = strings.ToLower(flags.GasPreset)
	}
	if flags.Turbo {
		settings.ExecutionMode = ExecutionModeTurbo
	}
	if flags.SlippageBps > 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.RPCCallTimeout = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.KeySource != "" {
		settings.KeySource = strings.ToLower(strings.TrimSpace(flags.KeySource))
	}
	return nil
}

func validate(settings *Settings) error {
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.SlippageBps < 0 || settings.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage_bps must be in [0, 10000)")
	}
	if settings.GasMultiplier <= 1 {
		return fmt.Errorf("gas_multiplier must be > 1")
	}
	if settings.ExecutionMode != ExecutionModeNormal && settings.ExecutionMode != ExecutionModeTurbo {
		return fmt.Errorf("execution_mode must be normal or turbo")
	}
	if _, ok := settings.GasPresets[settings.GasPreset]; !ok {
		return fmt.Errorf("unknown gas_preset %q", settings.GasPreset)
	}
	if settings.PriceSource != PriceSourceOnchain && settings.PriceSource != PriceSourceDexScreener {
		return fmt.Errorf("price_source must be onchain or dexscreener")
	}
	if !ValidScanInterval(settings.ScanInterval) {
		return fmt.Errorf("orders.scan_interval must be one of 1s,3s,5s,10s,30s,60s,120s")
	}
	if settings.RPCCallTimeout <= 0 {
		settings.RPCCallTimeout = 8 * time.Second
	}
	if settings.CancelGrace < 0 {
		settings.CancelGrace = 0
	}
	for token, venue := range settings.BridgePreferred {
		if venue != "v2" && venue != "v3" {
			return fmt.Errorf("bridge_venue_preference[%s] must be v2 or v3", token)
		}
	}
	return nil
}

// ValidScanInterval reports whether d is one of ScanIntervals.
func ValidScanInterval(d time.Duration) bool {
	for _, allowed := range ScanIntervals {
		if d == allowed {
			return true
		}
	}
	return false
}

// Turbo reports whether the fast execution path is active.
func (s Settings) Turbo() bool {
	return s.ExecutionMode == ExecutionModeTurbo
}

// Update applies a partial yaml document on top of the config file at s.ConfigPath,
// writes the merged file back and returns the reloaded settings.
func Update(s Settings, partial []byte) (Settings, error) {
	var patch map[string]any
	if err := yaml.Unmarshal(partial, &patch); err != nil {
		return Settings{}, fmt.Errorf("parse config patch: %w", err)
	}
	if len(patch) == 0 {
		return s, nil
	}
	var patchCfg fileConfig
	if err := yaml.Unmarshal(partial, &patchCfg); err != nil {
		return Settings{}, fmt.Errorf("parse config patch: %w", err)
	}
	current := map[string]any{}
	buf, err := os.ReadFile(s.ConfigPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if len(buf) > 0 {
		if err := yaml.Unmarshal(buf, &current); err != nil {
			return Settings{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	mergeMaps(current, patch)

	updated := s
	updated.GasPresets = copyMap(s.GasPresets)
	updated.BridgePreferred = copyMap(s.BridgePreferred)
	if err := mergeFileConfig(patchCfg, &updated); err != nil {
		return Settings{}, err
	}
	if err := validate(&updated); err != nil {
		return Settings{}, err
	}

	out, err := yaml.Marshal(current)
	if err != nil {
		return Settings{}, fmt.Errorf("encode config yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.ConfigPath), 0o755); err != nil {
		return Settings{}, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(s.ConfigPath, out, 0o600); err != nil {
		return Settings{}, fmt.Errorf("write config: %w", err)
	}
	return updated, nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		srcChild, srcIsMap := v.(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstChild, srcChild)
			continue
		}
		dst[k] = v
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func splitCSV(v string) []string {
	return trimAll(strings.Split(v, ","))
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
