package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"swapDesk/internal/model"
)

// Defaults describe the Westend Asset Hub deployment of the KSM/USDT pair.
const (
	DefaultRPC            = "https://westend-asset-hub-eth-rpc.polkadot.io"
	DefaultPair           = "0x935E7f86531335c02A458253f220F7D412172D2D"
	DefaultTokenA         = "0x4FB451440e632eB25B0bBc5e40DF0aE88CCd33fd"
	DefaultTokenB         = "0x369c6E27533c5bC20277a24aB32C43358EE949A3"
	DefaultChainID        = "0x190f1b45"
	DefaultChainName      = "Westend Asset Hub"
	DefaultCurrencyName   = "Westend"
	DefaultCurrencySymbol = "WND"
	DefaultExplorerURL    = "https://westend.subscan.io"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL string
	Pair   common.Address
	TokenA common.Address
	TokenB common.Address

	ChainID          uint64
	ChainName        string
	CurrencyName     string
	CurrencySymbol   string
	CurrencyDecimals uint8
	ExplorerURL      string

	WalletURL  string
	PrivateKey string
	WalletRPC  string

	ConfirmTimeout       time.Duration
	ReceiptPoll          time.Duration
	SkipCoveredApprovals bool

	ReadRate        float64
	ReadBurst       int
	ReadRetries     int
	ReadBackoff     time.Duration
	BreakerFailures uint32

	Reconnect bool
	LogLevel  string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SWAPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc", DefaultRPC)
	v.SetDefault("pair", DefaultPair)
	v.SetDefault("token-a", DefaultTokenA)
	v.SetDefault("token-b", DefaultTokenB)
	v.SetDefault("chain-id", DefaultChainID)
	v.SetDefault("chain-name", DefaultChainName)
	v.SetDefault("currency-name", DefaultCurrencyName)
	v.SetDefault("currency-symbol", DefaultCurrencySymbol)
	v.SetDefault("currency-decimals", 18)
	v.SetDefault("explorer-url", DefaultExplorerURL)
	v.SetDefault("confirm-timeout", time.Duration(0))
	v.SetDefault("receipt-poll", 2*time.Second)
	v.SetDefault("skip-covered-approvals", false)
	v.SetDefault("read-rate", 10.0)
	v.SetDefault("read-burst", 20)
	v.SetDefault("read-retries", 2)
	v.SetDefault("read-backoff", 200*time.Millisecond)
	v.SetDefault("breaker-failures", 5)
	v.SetDefault("reconnect", false)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:               strings.TrimSpace(v.GetString("rpc")),
		ChainName:            v.GetString("chain-name"),
		CurrencyName:         v.GetString("currency-name"),
		CurrencySymbol:       v.GetString("currency-symbol"),
		ExplorerURL:          v.GetString("explorer-url"),
		WalletURL:            strings.TrimSpace(v.GetString("wallet-url")),
		PrivateKey:           strings.TrimSpace(v.GetString("private-key")),
		WalletRPC:            strings.TrimSpace(v.GetString("wallet-rpc")),
		ConfirmTimeout:       v.GetDuration("confirm-timeout"),
		ReceiptPoll:          v.GetDuration("receipt-poll"),
		SkipCoveredApprovals: v.GetBool("skip-covered-approvals"),
		ReadRate:             v.GetFloat64("read-rate"),
		ReadBurst:            v.GetInt("read-burst"),
		ReadRetries:          v.GetInt("read-retries"),
		ReadBackoff:          v.GetDuration("read-backoff"),
		BreakerFailures:      v.GetUint32("breaker-failures"),
		Reconnect:            v.GetBool("reconnect"),
		LogLevel:             v.GetString("log-level"),
	}

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc url is required")
	}

	var err error
	if cfg.Pair, err = ParseAddress("pair", v.GetString("pair")); err != nil {
		return Config{}, err
	}
	if cfg.TokenA, err = ParseAddress("token-a", v.GetString("token-a")); err != nil {
		return Config{}, err
	}
	if cfg.TokenB, err = ParseAddress("token-b", v.GetString("token-b")); err != nil {
		return Config{}, err
	}
	if cfg.TokenA == cfg.TokenB {
		return Config{}, fmt.Errorf("token-a and token-b must differ")
	}
	if cfg.ChainID, err = ParseChainID(v.GetString("chain-id")); err != nil {
		return Config{}, err
	}

	decimals := v.GetInt("currency-decimals")
	if decimals < 0 || decimals > 255 {
		return Config{}, fmt.Errorf("invalid currency-decimals: %d", decimals)
	}
	cfg.CurrencyDecimals = uint8(decimals)

	return cfg, nil
}

// NetworkTarget returns the network the session must run on.
func (c Config) NetworkTarget() model.NetworkTarget {
	return model.NetworkTarget{
		ChainID:     c.ChainID,
		RPCURL:      c.RPCURL,
		DisplayName: c.ChainName,
		NativeCurrency: model.NativeCurrency{
			Name:     c.CurrencyName,
			Symbol:   c.CurrencySymbol,
			Decimals: c.CurrencyDecimals,
		},
		ExplorerURL: c.ExplorerURL,
	}
}

// ParseAddress converts a configured hex string into an address.
func ParseAddress(key, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %q", key, input)
	}
	return common.HexToAddress(input), nil
}

// ParseChainID accepts a 0x-prefixed hex or a decimal chain id.
func ParseChainID(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	var (
		id  uint64
		err error
	)
	if strings.HasPrefix(input, "0x") || strings.HasPrefix(input, "0X") {
		id, err = hexutil.DecodeUint64(strings.ToLower(input))
	} else {
		id, err = strconv.ParseUint(input, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid chain-id %q: %w", input, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("chain-id must be non-zero")
	}
	return id, nil
}
