package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/betbot/pairbot/pkg/logger"
	"github.com/betbot/pairbot/pkg/marketspec"
	"github.com/betbot/pairbot/pkg/secretstore"
)

// WalletConfig 钱包配置（私钥或助记词二选一）
type WalletConfig struct {
	PrivateKey     string `yaml:"private_key" json:"private_key"`
	Mnemonic       string `yaml:"mnemonic" json:"mnemonic"`
	DerivationPath string `yaml:"derivation_path" json:"derivation_path"`
	FunderAddress  string `yaml:"funder_address" json:"funder_address"` // 代理钱包地址（signature_type=1/2 时必填）
	SignatureType  int    `yaml:"signature_type" json:"signature_type"` // 0=EOA 1=POLY_PROXY 2=GNOSIS_SAFE
}

// ExchangeConfig CLOB / Gamma 接入配置
type ExchangeConfig struct {
	ClobHost      string  `yaml:"clob_host" json:"clob_host"`
	GammaHost     string  `yaml:"gamma_host" json:"gamma_host"`
	WSHost        string  `yaml:"ws_host" json:"ws_host"`
	ChainID       int64   `yaml:"chain_id" json:"chain_id"`
	NegRisk       bool    `yaml:"neg_risk" json:"neg_risk"`
	APIKey        string  `yaml:"api_key" json:"api_key"`
	APISecret     string  `yaml:"api_secret" json:"api_secret"`
	APIPassphrase string  `yaml:"api_passphrase" json:"api_passphrase"`
	RatePerSec    float64 `yaml:"rate_per_sec" json:"rate_per_sec"`
	TimeoutSec    int     `yaml:"timeout_sec" json:"timeout_sec"`
}

// LedgerConfig 账本存储配置
type LedgerConfig struct {
	Backend       string `yaml:"backend" json:"backend"` // file | badger | redis
	Dir           string `yaml:"dir" json:"dir"`
	Universe      string `yaml:"universe" json:"universe"`
	SessionID     string `yaml:"session_id" json:"session_id"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"` // badger 加密 key（hex，32 字节）
}

// SecretsConfig 加密密钥库（badger）；配置后钱包和 API 凭证可以不落在 .env 里
type SecretsConfig struct {
	Path   string `yaml:"path" json:"path"`
	Prefix string `yaml:"prefix" json:"prefix"`
	// 32 字节 hex/base64 key 只从环境变量 PAIRBOT_SECRET_KEY 读取
}

// MarketSlot 一个轮动槽位
type MarketSlot struct {
	Instrument marketspec.Instrument `yaml:"instrument" json:"instrument"`
	Timeframe  marketspec.Timeframe  `yaml:"timeframe" json:"timeframe"`
}

// InstrumentProfile 每个标的的风险参数（显式字段，不做字符串匹配）
type InstrumentProfile struct {
	MarketRiskFraction float64 `yaml:"market_risk_fraction" json:"market_risk_fraction"` // 单市场最大资金占余额比例
	ClipSize           float64 `yaml:"clip_size" json:"clip_size"`                       // 单次买入份额
	MinOrderSize       float64 `yaml:"min_order_size" json:"min_order_size"`             // 交易所最小下单份额
	RiskPerClip        float64 `yaml:"risk_per_clip" json:"risk_per_clip"`               // 单次买入最多占余额比例
	DipThreshold       float64 `yaml:"dip_threshold" json:"dip_threshold"`
	SumTarget          float64 `yaml:"sum_target" json:"sum_target"`
	TickSize           float64 `yaml:"tick_size" json:"tick_size"`
}

// defaultProfiles 内置默认表；配置文件只需覆盖想改的字段
var defaultProfiles = map[marketspec.Instrument]InstrumentProfile{
	marketspec.InstrumentBTC: {MarketRiskFraction: 0.10, ClipSize: 10, MinOrderSize: 5, RiskPerClip: 0.05, DipThreshold: 0.15, SumTarget: 0.95, TickSize: 0.01},
	marketspec.InstrumentETH: {MarketRiskFraction: 0.08, ClipSize: 10, MinOrderSize: 5, RiskPerClip: 0.05, DipThreshold: 0.15, SumTarget: 0.95, TickSize: 0.01},
	marketspec.InstrumentSOL: {MarketRiskFraction: 0.05, ClipSize: 8, MinOrderSize: 5, RiskPerClip: 0.04, DipThreshold: 0.18, SumTarget: 0.94, TickSize: 0.01},
	marketspec.InstrumentXRP: {MarketRiskFraction: 0.05, ClipSize: 8, MinOrderSize: 5, RiskPerClip: 0.04, DipThreshold: 0.18, SumTarget: 0.94, TickSize: 0.01},
}

// Config 应用配置
type Config struct {
	Wallet   WalletConfig   `yaml:"wallet" json:"wallet"`
	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Log      logger.Config  `yaml:"log" json:"log"`
	Secrets  SecretsConfig  `yaml:"secrets" json:"secrets"`

	Markets  []MarketSlot                                `yaml:"markets" json:"markets"`
	Profiles map[marketspec.Instrument]InstrumentProfile `yaml:"profiles" json:"profiles"`

	DryRun          bool    `yaml:"dry_run" json:"dry_run"`
	PaperBalance    float64 `yaml:"paper_balance" json:"paper_balance"`
	DrawdownLimit   float64 `yaml:"drawdown_limit" json:"drawdown_limit"`
	TimerInterval   int     `yaml:"timer_interval_sec" json:"timer_interval_sec"`
	JournalPath     string  `yaml:"journal_path" json:"journal_path"`
	MetricsAddr     string  `yaml:"metrics_addr" json:"metrics_addr"`
	ControlAddr     string  `yaml:"control_addr" json:"control_addr"`
	ShutdownTimeout int     `yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`

	// 断路器：连续失败次数 / 冷却秒数（<=0 关闭）
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	BreakerCooldown      int `yaml:"breaker_cooldown_sec" json:"breaker_cooldown_sec"`

	// Strategy 原样保留 pairhedge 段，由策略包自己解码
	Strategy yaml.Node `yaml:"pairhedge" json:"-"`
}

// LoadFromFile 加载配置（优先级：环境变量 > 配置文件 > 默认值）
func LoadFromFile(filePath string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	cfg := &Config{}
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	if err := cfg.applySecrets(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", filePath)
	}
	return nil
}

// secretFields 可以来自环境变量或密钥库的字段
func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"WALLET_PRIVATE_KEY":    &c.Wallet.PrivateKey,
		"WALLET_MNEMONIC":       &c.Wallet.Mnemonic,
		"WALLET_FUNDER_ADDRESS": &c.Wallet.FunderAddress,
		"CLOB_API_KEY":          &c.Exchange.APIKey,
		"CLOB_API_SECRET":       &c.Exchange.APISecret,
		"CLOB_API_PASSPHRASE":   &c.Exchange.APIPassphrase,
	}
}

// applySecrets 从加密密钥库读取凭证（环境变量仍然优先）
func (c *Config) applySecrets() error {
	c.Secrets.Path = getEnv("PAIRBOT_SECRET_DB", c.Secrets.Path)
	if c.Secrets.Path == "" {
		return nil
	}
	key, err := secretstore.ParseKey(os.Getenv("PAIRBOT_SECRET_KEY"))
	if err != nil {
		return fmt.Errorf("PAIRBOT_SECRET_KEY 无效: %w", err)
	}
	if key == nil {
		return fmt.Errorf("配置了 secrets.path 但 PAIRBOT_SECRET_KEY 为空")
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          c.Secrets.Path,
		EncryptionKey: key,
		ReadOnly:      true,
		Prefix:        c.Secrets.Prefix,
	})
	if err != nil {
		return err
	}
	defer ss.Close()
	for name, field := range c.secretFields() {
		v, ok, err := ss.Get(name)
		if err != nil {
			return fmt.Errorf("读取密钥 %s 失败: %w", name, err)
		}
		if ok && v != "" {
			*field = v
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	for name, field := range c.secretFields() {
		*field = getEnv(name, *field)
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.DryRun = parseBoolEnv("DRY_RUN", c.DryRun)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Ledger.RedisAddr = addr
		if c.Ledger.Backend == "" {
			c.Ledger.Backend = "redis"
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.ClobHost == "" {
		c.Exchange.ClobHost = "https://clob.polymarket.com"
	}
	if c.Exchange.GammaHost == "" {
		c.Exchange.GammaHost = "https://gamma-api.polymarket.com"
	}
	if c.Exchange.WSHost == "" {
		c.Exchange.WSHost = "wss://ws-subscriptions-clob.polymarket.com"
	}
	if c.Exchange.ChainID == 0 {
		c.Exchange.ChainID = 137
	}
	if c.Exchange.RatePerSec <= 0 {
		c.Exchange.RatePerSec = 10
	}
	if c.Exchange.TimeoutSec <= 0 {
		c.Exchange.TimeoutSec = 10
	}
	if c.Wallet.DerivationPath == "" {
		c.Wallet.DerivationPath = "m/44'/60'/0'/0/0"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Dir == "" {
		c.Ledger.Dir = "data"
	}
	if c.Ledger.Universe == "" {
		c.Ledger.Universe = "default"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Markets) == 0 {
		c.Markets = []MarketSlot{{Instrument: marketspec.InstrumentBTC, Timeframe: marketspec.Timeframe15m}}
	}
	for i := range c.Markets {
		if c.Markets[i].Timeframe == "" {
			c.Markets[i].Timeframe = marketspec.Timeframe15m
		}
	}
	if c.PaperBalance <= 0 {
		c.PaperBalance = 100
	}
	if c.DrawdownLimit <= 0 {
		c.DrawdownLimit = 0.10
	}
	if c.TimerInterval <= 0 {
		c.TimerInterval = 5
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(c.Ledger.Dir, "journal.db")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 60
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.DryRun && c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY 或 WALLET_MNEMONIC 未配置（或开启 dry_run）")
	}
	if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
		return fmt.Errorf("signature_type 只能是 0/1/2")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" && !c.DryRun {
		return fmt.Errorf("signature_type=%d 时 WALLET_FUNDER_ADDRESS 必填", c.Wallet.SignatureType)
	}
	switch c.Ledger.Backend {
	case "file", "badger":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.backend=redis 但 redis_addr 为空")
		}
	default:
		return fmt.Errorf("未知的账本存储: %s（支持 file/badger/redis）", c.Ledger.Backend)
	}
	if c.DrawdownLimit <= 0 || c.DrawdownLimit >= 1 {
		return fmt.Errorf("drawdown_limit 必须在 0 到 1 之间")
	}
	seen := make(map[MarketSlot]bool, len(c.Markets))
	for _, m := range c.Markets {
		if _, err := marketspec.ParseInstrument(string(m.Instrument)); err != nil {
			return err
		}
		if _, err := marketspec.ParseTimeframe(string(m.Timeframe)); err != nil {
			return err
		}
		if seen[m] {
			return fmt.Errorf("重复的市场槽位: %s/%s", m.Instrument, m.Timeframe)
		}
		seen[m] = true
	}
	for inst, p := range c.Profiles {
		if _, err := marketspec.ParseInstrument(string(inst)); err != nil {
			return err
		}
		if p.MarketRiskFraction < 0 || p.MarketRiskFraction > 1 {
			return fmt.Errorf("%s.market_risk_fraction 必须在 0 到 1 之间", inst)
		}
		if p.RiskPerClip < 0 || p.RiskPerClip > 1 {
			return fmt.Errorf("%s.risk_per_clip 必须在 0 到 1 之间", inst)
		}
		if p.SumTarget < 0 || p.SumTarget >= 1 {
			return fmt.Errorf("%s.sum_target 必须小于 1", inst)
		}
	}
	return nil
}

// Profile 按标的取风险参数：配置覆盖 > 内置默认
func (c *Config) Profile(inst marketspec.Instrument) InstrumentProfile {
	p, ok := defaultProfiles[inst]
	if !ok {
		p = defaultProfiles[marketspec.InstrumentBTC]
	}
	o, ok := c.Profiles[inst]
	if !ok {
		return p
	}
	if o.MarketRiskFraction > 0 {
		p.MarketRiskFraction = o.MarketRiskFraction
	}
	if o.ClipSize > 0 {
		p.ClipSize = o.ClipSize
	}
	if o.MinOrderSize > 0 {
		p.MinOrderSize = o.MinOrderSize
	}
	if o.RiskPerClip > 0 {
		p.RiskPerClip = o.RiskPerClip
	}
	if o.DipThreshold > 0 {
		p.DipThreshold = o.DipThreshold
	}
	if o.SumTarget > 0 {
		p.SumTarget = o.SumTarget
	}
	if o.TickSize > 0 {
		p.TickSize = o.TickSize
	}
	return p
}

// Timer 定时器间隔
func (c *Config) Timer() time.Duration {
	return time.Duration(c.TimerInterval) * time.Second
}

// DecodeStrategy 解码 pairhedge 段（没有配置时 out 保持不变）
func (c *Config) DecodeStrategy(out interface{}) error {
	if c.Strategy.Kind == 0 {
		return nil
	}
	if err := c.Strategy.Decode(out); err != nil {
		return fmt.Errorf("解析 pairhedge 配置失败: %w", err)
	}
	return nil
}

// LoadStrategyFile 用单独的策略文件覆盖 pairhedge 段（文件顶层需包含 pairhedge:）
func (c *Config) LoadStrategyFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取策略文件失败: %w", err)
	}
	var sf struct {
		Strategy yaml.Node `yaml:"pairhedge"`
	}
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("解析策略文件失败 %s: %w", filePath, err)
	}
	if sf.Strategy.Kind == 0 {
		return fmt.Errorf("策略文件缺少 pairhedge 段: %s", filePath)
	}
	c.Strategy = sf.Strategy
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
