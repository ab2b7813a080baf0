package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/layer-3/tollgate/core"
	"github.com/shopspring/decimal"
)

const (
	DefaultListenAddr    = ":9000"
	DefaultPaymentAmount = "0.1"
	DefaultBaseRPC       = "https://mainnet.base.org"
	DefaultSolanaRPC     = "https://api.mainnet-beta.solana.com"
	DefaultBaseUSDC      = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultSolanaUSDC    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	DefaultGeneratorURL  = "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"
)

// Config is the process configuration, read once at startup
type Config struct {
	ListenAddr string `validate:"required"`
	LogLevel   string `validate:"oneof=debug info warn error"`

	// Recipients may be empty; challenges then fail with a configuration error
	BaseRecipient   string
	SolanaRecipient string
	PaymentAmount   decimal.Decimal

	BaseRPCURL     string `validate:"required,url"`
	BaseUSDC       string `validate:"required"`
	SolanaRPCURL   string `validate:"required,url"`
	SolanaUSDCMint string `validate:"required"`

	LicenseSecret string `validate:"required,min=16"`
	LicenseFormat string `validate:"oneof=compact jwt"`

	LicenseTTL   time.Duration `validate:"gt=0"`
	ChallengeTTL time.Duration `validate:"gt=0"`
	RPCTimeout   time.Duration `validate:"gt=0"`

	LedgerBackend string `validate:"oneof=memory redis postgres"`
	RedisURL      string `validate:"required_if=LedgerBackend redis,required_if=EventsBackend redis"`
	DatabaseURL   string `validate:"required_if=LedgerBackend postgres"`
	EventsBackend string `validate:"oneof=none gochannel redis"`

	GeneratorURL   string `validate:"omitempty,url"`
	GeneratorToken string
}

// Load reads .env when present, then the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup and validates it
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	env := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	or := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}

	amount, err := decimal.NewFromString(or(env("PAYMENT_AMOUNT", "NEXT_PUBLIC_PAYMENT_AMOUNT"), DefaultPaymentAmount))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_AMOUNT: %w", err)
	}
	if err := core.ValidateAmount(amount.String()); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_AMOUNT: %w", err)
	}

	cfg := &Config{
		ListenAddr:      or(env("LISTEN_ADDR"), DefaultListenAddr),
		LogLevel:        strings.ToLower(or(env("LOG_LEVEL"), "info")),
		BaseRecipient:   env("RECIPIENT_ADDRESS"),
		SolanaRecipient: env("SOLANA_RECIPIENT_ADDRESS"),
		PaymentAmount:   amount,
		BaseRPCURL:      or(env("RPC_URL", "NEXT_PUBLIC_RPC_URL"), DefaultBaseRPC),
		BaseUSDC:        or(env("USDC_ADDRESS", "NEXT_PUBLIC_USDC_ADDRESS"), DefaultBaseUSDC),
		SolanaRPCURL:    or(env("SOLANA_RPC_URL", "NEXT_PUBLIC_SOLANA_RPC_URL"), DefaultSolanaRPC),
		SolanaUSDCMint:  or(env("SOLANA_USDC_MINT", "NEXT_PUBLIC_SOLANA_USDC_MINT"), DefaultSolanaUSDC),
		LicenseSecret:   env("LICENSE_SECRET", "JWT_SECRET"),
		LicenseFormat:   strings.ToLower(or(env("LICENSE_FORMAT"), "compact")),
		LedgerBackend:   strings.ToLower(or(env("LEDGER_BACKEND"), "memory")),
		RedisURL:        env("REDIS_URL"),
		DatabaseURL:     env("DATABASE_URL"),
		EventsBackend:   strings.ToLower(or(env("EVENTS_BACKEND"), "none")),
		GeneratorToken:  env("GENERATOR_TOKEN", "HUGGINGFACE_API_TOKEN"),
		GeneratorURL:    env("GENERATOR_URL"),
	}
	if cfg.GeneratorToken == "your_token_here" {
		cfg.GeneratorToken = ""
	}
	if cfg.GeneratorToken != "" && cfg.GeneratorURL == "" {
		cfg.GeneratorURL = DefaultGeneratorURL
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"LICENSE_TTL", &cfg.LicenseTTL, 300 * time.Second},
		{"CHALLENGE_TTL", &cfg.ChallengeTTL, 300 * time.Second},
		{"RPC_TIMEOUT", &cfg.RPCTimeout, 15 * time.Second},
	}
	for _, d := range durations {
		*d.dst = d.def
		if raw := env(d.key); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = v
		}
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// PaymentOptions returns the payment options in the order they are offered
func (c *Config) PaymentOptions() []core.PaymentOption {
	amount := c.PaymentAmount.String()
	return []core.PaymentOption{
		{
			Chain:     core.ChainBase,
			Token:     core.TokenUSDC,
			Recipient: c.BaseRecipient,
			Amount:    amount,
			Asset:     c.BaseUSDC,
			Decimals:  core.USDCDecimals,
		},
		{
			Chain:     core.ChainSolana,
			Token:     core.TokenUSDC,
			Recipient: c.SolanaRecipient,
			Amount:    amount,
			Asset:     c.SolanaUSDCMint,
			Decimals:  core.USDCDecimals,
		},
	}
}

// String omits secrets so the config can be logged
func (c *Config) String() string {
	return fmt.Sprintf("listen=%s ledger=%s events=%s license=%s amount=%s generator=%t",
		c.ListenAddr, c.LedgerBackend, c.EventsBackend, c.LicenseFormat, c.PaymentAmount, c.GeneratorURL != "")
}
