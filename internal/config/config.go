// Package config loads service configuration from the environment and flags.
package config

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/selection"
)

// Defaults.
const (
	DefaultHTTPAddr       = ":3000"
	DefaultSettleDelay    = 10 * time.Second
	DefaultScheduleOffset = 5 * time.Second
	DefaultRPCRateLimit   = 10.0

	heliusRPCURL = "https://mainnet.helius-rpc.com/?api-key=%s"
	heliusWSURL  = "wss://mainnet.helius-rpc.com/?api-key=%s"
)

// Config holds all service settings.
type Config struct {
	RPCEndpoint      string
	WSEndpoint       string
	HeliusAPIKey     string
	PumpPortalAPIKey string
	WalletSecret     string
	TokenMint        string // blank runs the service in no-op mode
	DevWallet        string // excluded from selection

	PostgresDSN   string
	ClickhouseDSN string // blank disables the holder snapshot archive
	UseMemory     bool

	SentryDSN         string
	SentryEnvironment string

	CyclePeriod    time.Duration
	SettleDelay    time.Duration
	PoolPolicy     string
	RPCRateLimit   float64
	HTTPAddr       string
	AllowedOrigins []string

	Schedule       bool // run the in-process scheduler
	ScheduleOffset time.Duration
	Verbose        bool
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads envFile (if present) into the process environment, then builds a
// Config from it. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup.
func FromEnv(lookup LookupFunc) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		RPCEndpoint:       get("SOLANA_RPC_ENDPOINT"),
		WSEndpoint:        get("SOLANA_WS_ENDPOINT"),
		HeliusAPIKey:      get("HELIUS_API_KEY"),
		PumpPortalAPIKey:  get("PUMPPORTAL_API_KEY"),
		WalletSecret:      get("WALLET_SECRET"),
		TokenMint:         get("TOKEN_MINT"),
		DevWallet:         get("DEV_WALLET"),
		PostgresDSN:       get("POSTGRES_DSN"),
		ClickhouseDSN:     get("CLICKHOUSE_DSN"),
		SentryDSN:         get("SENTRY_DSN"),
		SentryEnvironment: get("SENTRY_ENVIRONMENT"),
		PoolPolicy:        get("POOL_POLICY"),
		HTTPAddr:          get("HTTP_ADDR"),
		CyclePeriod:       cycle.DefaultPeriod,
		SettleDelay:       DefaultSettleDelay,
		ScheduleOffset:    DefaultScheduleOffset,
		RPCRateLimit:      DefaultRPCRateLimit,
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	var errs []error
	parseDuration := func(key string, dst *time.Duration) {
		if v := get(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	parseBool := func(key string, dst *bool) {
		if v := get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	parseDuration("CYCLE_PERIOD", &cfg.CyclePeriod)
	parseDuration("SETTLE_DELAY", &cfg.SettleDelay)
	parseDuration("SCHEDULE_OFFSET", &cfg.ScheduleOffset)
	parseBool("SCHEDULE", &cfg.Schedule)
	parseBool("USE_MEMORY", &cfg.UseMemory)
	parseBool("VERBOSE", &cfg.Verbose)

	if v := get("RPC_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RPC_RATE_LIMIT: %w", err))
		} else {
			cfg.RPCRateLimit = f
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags registers flags that override cfg. Call before fs.Parse.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RPCEndpoint, "rpc-endpoint", c.RPCEndpoint, "Solana RPC HTTP endpoint (or SOLANA_RPC_ENDPOINT / HELIUS_API_KEY)")
	fs.StringVar(&c.WSEndpoint, "ws-endpoint", c.WSEndpoint, "Solana WebSocket endpoint (or SOLANA_WS_ENDPOINT)")
	fs.StringVar(&c.TokenMint, "token-mint", c.TokenMint, "SPL token mint whose holders receive fees (or TOKEN_MINT)")
	fs.StringVar(&c.DevWallet, "dev-wallet", c.DevWallet, "wallet excluded from selection (or DEV_WALLET)")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "PostgreSQL connection string (or POSTGRES_DSN)")
	fs.StringVar(&c.ClickhouseDSN, "clickhouse-dsn", c.ClickhouseDSN, "ClickHouse connection string for holder snapshots (or CLICKHOUSE_DSN)")
	fs.BoolVar(&c.UseMemory, "use-memory", c.UseMemory, "use in-memory storage instead of PostgreSQL (or USE_MEMORY)")
	fs.DurationVar(&c.CyclePeriod, "cycle-period", c.CyclePeriod, "distribution period (or CYCLE_PERIOD)")
	fs.DurationVar(&c.SettleDelay, "settle-delay", c.SettleDelay, "wait between claim and balance re-read (or SETTLE_DELAY)")
	fs.StringVar(&c.PoolPolicy, "pool-policy", c.PoolPolicy, "liquidity pool exclusion: largest, off-curve, none (or POOL_POLICY)")
	fs.Float64Var(&c.RPCRateLimit, "rpc-rate-limit", c.RPCRateLimit, "RPC requests per second, 0 disables (or RPC_RATE_LIMIT)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address (or HTTP_ADDR)")
	fs.StringSliceVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "CORS origins, empty allows any (or ALLOWED_ORIGINS)")
	fs.BoolVar(&c.Schedule, "schedule", c.Schedule, "trigger each cycle in-process (or SCHEDULE)")
	fs.DurationVar(&c.ScheduleOffset, "schedule-offset", c.ScheduleOffset, "delay after each cycle boundary (or SCHEDULE_OFFSET)")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "enable verbose (debug) logging (or VERBOSE)")
}

// RPCURL returns the RPC endpoint, derived from the Helius key if unset.
func (c *Config) RPCURL() string {
	if c.RPCEndpoint == "" && c.HeliusAPIKey != "" {
		return fmt.Sprintf(heliusRPCURL, c.HeliusAPIKey)
	}
	return c.RPCEndpoint
}

// WSURL returns the websocket endpoint, derived from the Helius key if unset.
// Empty means confirmations use status polling only.
func (c *Config) WSURL() string {
	if c.WSEndpoint == "" && c.HeliusAPIKey != "" {
		return fmt.Sprintf(heliusWSURL, c.HeliusAPIKey)
	}
	return c.WSEndpoint
}

// MintEmpty reports whether the service runs in no-op mode.
func (c *Config) MintEmpty() bool {
	return strings.TrimSpace(c.TokenMint) == ""
}

// Validate reports every missing or malformed setting.
func (c *Config) Validate() error {
	var errs []error
	if c.RPCURL() == "" {
		errs = append(errs, errors.New("SOLANA_RPC_ENDPOINT or HELIUS_API_KEY is required"))
	}
	if c.PumpPortalAPIKey == "" {
		errs = append(errs, errors.New("PUMPPORTAL_API_KEY is required"))
	}
	if c.WalletSecret == "" {
		errs = append(errs, errors.New("WALLET_SECRET is required"))
	} else if _, err := ParseWalletSecret(c.WalletSecret); err != nil {
		errs = append(errs, fmt.Errorf("WALLET_SECRET: %w", err))
	}
	if !c.MintEmpty() {
		if _, err := solanago.PublicKeyFromBase58(c.TokenMint); err != nil {
			errs = append(errs, fmt.Errorf("TOKEN_MINT: %w", err))
		}
	}
	if c.DevWallet != "" {
		if _, err := solanago.PublicKeyFromBase58(c.DevWallet); err != nil {
			errs = append(errs, fmt.Errorf("DEV_WALLET: %w", err))
		}
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required (or set USE_MEMORY=true)"))
	}
	if c.CyclePeriod < time.Minute {
		errs = append(errs, fmt.Errorf("CYCLE_PERIOD must be at least 1m, got %s", c.CyclePeriod))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY must not be negative, got %s", c.SettleDelay))
	}
	if c.SettleDelay >= c.CyclePeriod {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY %s must be shorter than CYCLE_PERIOD %s", c.SettleDelay, c.CyclePeriod))
	}
	if _, err := selection.ParsePoolPolicy(c.PoolPolicy); err != nil {
		errs = append(errs, fmt.Errorf("POOL_POLICY: %w", err))
	}
	if c.RPCRateLimit < 0 {
		errs = append(errs, errors.New("RPC_RATE_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}

// SigningKey parses WalletSecret.
func (c *Config) SigningKey() (solanago.PrivateKey, error) {
	return ParseWalletSecret(c.WalletSecret)
}

// DevWalletKey parses DevWallet. A blank value yields the zero key, which excludes nobody.
func (c *Config) DevWalletKey() (solanago.PublicKey, error) {
	if c.DevWallet == "" {
		return solanago.PublicKey{}, nil
	}
	return solanago.PublicKeyFromBase58(c.DevWallet)
}

// ParseWalletSecret accepts a base58 encoded 64-byte secret key or the
// JSON byte array written by solana-keygen.
func ParseWalletSecret(secret string) (solanago.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if strings.HasPrefix(secret, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("parse key array: %w", err)
		}
		for _, n := range ints {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("key array value %d out of range", n)
			}
			raw = append(raw, byte(n))
		}
		return checkKey(solanago.PrivateKey(raw))
	}

	key, err := solanago.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("decode base58 key: %w", err)
	}
	return checkKey(key)
}

func checkKey(key solanago.PrivateKey) (solanago.PrivateKey, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(key))
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, errors.New("secret key does not match its public half")
	}
	return key, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
