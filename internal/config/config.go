// Package config loads process configuration: defaults, then an optional
// YAML file, then .env and KDEX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Error reports an invalid setting
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrRequired = errors.New("value is required")
	ErrInvalid  = errors.New("invalid value")
)

type Server struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaticDir       string        `yaml:"static_dir"`
}

type Database struct {
	// URL is a PostgreSQL connection string. Empty disables the journal.
	URL string `yaml:"url"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Exchange struct {
	Address           string `yaml:"address"`
	FeeAccount        string `yaml:"fee_account"`
	FeePercent        uint64 `yaml:"fee_percent"`
	AllowPartialFills bool   `yaml:"allow_partial_fills"`
}

type Store struct {
	Path             string        `yaml:"path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type Kafka struct {
	// Brokers empty disables publishing
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Token describes an asset created at startup. Supply is in whole units
// and is minted to the treasury.
type Token struct {
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
	Supply   string `yaml:"supply"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Auth     Auth     `yaml:"auth"`
	Exchange Exchange `yaml:"exchange"`
	Store    Store    `yaml:"store"`
	Kafka    Kafka    `yaml:"kafka"`
	Logging  Logging  `yaml:"logging"`
	Tokens   []Token  `yaml:"tokens"`
	// Treasury holds every token's initial supply
	Treasury string `yaml:"treasury"`
}

// Default returns a configuration for a local devnet. The addresses are the
// first accounts of the standard Hardhat mnemonic.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: Auth{
			TokenTTL: 24 * time.Hour,
		},
		Exchange: Exchange{
			Address:           "0x5FC8d32690cc91D4c39d9d3abcBD16989F875707",
			FeeAccount:        "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			FeePercent:        1,
			AllowPartialFills: true,
		},
		Store: Store{
			Path:             "data/kdex",
			SnapshotInterval: 30 * time.Second,
		},
		Kafka: Kafka{
			Topic: "kdex.events",
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Tokens: []Token{
			{Address: "0x5FbDB2315678afecb367f032d93F642f64180aa3", Name: "Kempaf Decentralized Exchange", Symbol: "KDEX", Decimals: 18, Supply: "1000000000"},
			{Address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", Name: "Mock Tether USD", Symbol: "mUSDT", Decimals: 18, Supply: "10000000"},
			{Address: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0", Name: "Mock USD Coin", Symbol: "mUSDC", Decimals: 18, Supply: "10000000"},
			{Address: "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9", Name: "Mock Ether", Symbol: "mETH", Decimals: 18, Supply: "1000000"},
		},
		Treasury: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.overrideWithEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) overrideWithEnv() error {
	strs := map[string]*string{
		"KDEX_SERVER_ADDR":      &c.Server.Addr,
		"KDEX_DATABASE_URL":     &c.Database.URL,
		"KDEX_JWT_SECRET":       &c.Auth.JWTSecret,
		"KDEX_EXCHANGE_ADDRESS": &c.Exchange.Address,
		"KDEX_FEE_ACCOUNT":      &c.Exchange.FeeAccount,
		"KDEX_STORE_PATH":       &c.Store.Path,
		"KDEX_KAFKA_TOPIC":      &c.Kafka.Topic,
		"KDEX_LOG_LEVEL":        &c.Logging.Level,
		"KDEX_LOG_FILE":         &c.Logging.File,
		"KDEX_TREASURY":         &c.Treasury,
		"KDEX_STATIC_DIR":       &c.Server.StaticDir,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("KDEX_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("KDEX_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("KDEX_FEE_PERCENT"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return &Error{Field: "KDEX_FEE_PERCENT", Err: err}
		}
		c.Exchange.FeePercent = n
	}
	if v, ok := os.LookupEnv("KDEX_ALLOW_PARTIAL_FILLS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "KDEX_ALLOW_PARTIAL_FILLS", Err: err}
		}
		c.Exchange.AllowPartialFills = b
	}
	durations := map[string]*time.Duration{
		"KDEX_TOKEN_TTL":         &c.Auth.TokenTTL,
		"KDEX_SNAPSHOT_INTERVAL": &c.Store.SnapshotInterval,
		"KDEX_SHUTDOWN_TIMEOUT":  &c.Server.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return &Error{Field: key, Err: err}
			}
			*dst = d
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every section and returns the first problem as *Error
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &Error{Field: "server.addr", Err: ErrRequired}
	}
	if c.Auth.JWTSecret == "" {
		return &Error{Field: "auth.jwt_secret", Err: ErrRequired}
	}
	if c.Auth.TokenTTL <= 0 {
		return &Error{Field: "auth.token_ttl", Err: fmt.Errorf("%w: must be positive", ErrInvalid)}
	}
	if err := checkAddress("exchange.address", c.Exchange.Address); err != nil {
		return err
	}
	if err := checkAddress("exchange.fee_account", c.Exchange.FeeAccount); err != nil {
		return err
	}
	if c.Exchange.FeePercent > 100 {
		return &Error{Field: "exchange.fee_percent", Err: fmt.Errorf("%w: %d exceeds 100", ErrInvalid, c.Exchange.FeePercent)}
	}
	if c.Store.Path == "" {
		return &Error{Field: "store.path", Err: ErrRequired}
	}
	if c.Store.SnapshotInterval < 0 {
		return &Error{Field: "store.snapshot_interval", Err: fmt.Errorf("%w: negative", ErrInvalid)}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return &Error{Field: "kafka.topic", Err: ErrRequired}
	}
	if err := checkAddress("treasury", c.Treasury); err != nil {
		return err
	}

	seenAddr := make(map[common.Address]bool)
	seenSymbol := make(map[string]bool)
	for i, t := range c.Tokens {
		field := fmt.Sprintf("tokens[%d]", i)
		if err := checkAddress(field+".address", t.Address); err != nil {
			return err
		}
		addr := common.HexToAddress(t.Address)
		if seenAddr[addr] {
			return &Error{Field: field + ".address", Err: fmt.Errorf("%w: duplicate %s", ErrInvalid, t.Address)}
		}
		seenAddr[addr] = true
		if t.Symbol == "" {
			return &Error{Field: field + ".symbol", Err: ErrRequired}
		}
		if seenSymbol[t.Symbol] {
			return &Error{Field: field + ".symbol", Err: fmt.Errorf("%w: duplicate %s", ErrInvalid, t.Symbol)}
		}
		seenSymbol[t.Symbol] = true
		if t.Decimals < 0 || t.Decimals > 77 {
			return &Error{Field: field + ".decimals", Err: fmt.Errorf("%w: %d", ErrInvalid, t.Decimals)}
		}
	}
	return nil
}

func checkAddress(field, s string) error {
	if s == "" {
		return &Error{Field: field, Err: ErrRequired}
	}
	if !common.IsHexAddress(s) {
		return &Error{Field: field, Err: fmt.Errorf("%w: %q is not an address", ErrInvalid, s)}
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return &Error{Field: field, Err: fmt.Errorf("%w: zero address", ErrInvalid)}
	}
	return nil
}

// ExchangeAddress returns the parsed custody address. Call after Validate.
func (c *Config) ExchangeAddress() common.Address {
	return common.HexToAddress(c.Exchange.Address)
}

// FeeAccountAddress returns the parsed fee account. Call after Validate.
func (c *Config) FeeAccountAddress() common.Address {
	return common.HexToAddress(c.Exchange.FeeAccount)
}

// TreasuryAddress returns the parsed treasury. Call after Validate.
func (c *Config) TreasuryAddress() common.Address {
	return common.HexToAddress(c.Treasury)
}
