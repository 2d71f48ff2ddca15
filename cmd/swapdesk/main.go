package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swapDesk/internal/model"
)

func main() {
	root := &cobra.Command{
		Use:           "swapdesk",
		Short:         "Provide liquidity to and swap against a constant-product pair",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("rpc", "", "chain RPC URL")
	flags.String("pair", "", "pair contract address")
	flags.String("token-a", "", "first asset address")
	flags.String("token-b", "", "second asset address")
	flags.String("chain-id", "", "target chain id (hex or decimal)")
	flags.String("chain-name", "", "target network display name")
	flags.String("explorer-url", "", "block explorer URL")
	flags.String("wallet-url", "", "external wallet JSON-RPC endpoint")
	flags.String("private-key", "", "hex private key for the built-in wallet")
	flags.String("wallet-rpc", "", "RPC the built-in wallet starts on (defaults to --rpc)")
	flags.Duration("confirm-timeout", 0, "per-step confirmation timeout, 0 waits indefinitely")
	flags.Duration("receipt-poll", 2*time.Second, "receipt polling interval")
	flags.Bool("skip-covered-approvals", false, "skip approve steps already covered by allowance")
	flags.Float64("read-rate", 10, "pair reads per second")
	flags.Int("read-retries", 2, "retries per pair read")
	flags.Bool("reconnect", false, "reconnect after the wallet changes network")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	reservesCmd := &cobra.Command{
		Use:   "reserves",
		Short: "Show pair reserves and the pool share of an account",
		Args:  cobra.NoArgs,
		RunE:  runReserves,
	}
	reservesCmd.Flags().String("account", "", "account whose pool share to show (defaults to the wallet account)")
	root.AddCommand(reservesCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote <asset> <amount>",
		Short: "Quote a swap locally from current reserves",
		Args:  cobra.ExactArgs(2),
		RunE:  runQuote,
	}
	root.AddCommand(quoteCmd)

	addCmd := &cobra.Command{
		Use:   "add-liquidity <amount-a> <amount-b>",
		Short: "Approve, transfer both assets and mint pool shares",
		Args:  cobra.ExactArgs(2),
		RunE:  runAddLiquidity,
	}
	addCmd.Flags().String("journal", "", "append step progress to this JSONL file")
	root.AddCommand(addCmd)

	swapCmd := &cobra.Command{
		Use:   "swap <asset> <amount>",
		Short: "Sell an amount of one asset for the other",
		Args:  cobra.ExactArgs(2),
		RunE:  runSwap,
	}
	swapCmd.Flags().String("journal", "", "append step progress to this JSONL file")
	root.AddCommand(swapCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow reserves and wallet events",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().Duration("interval", 10*time.Second, "reserve refresh interval")
	watchCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	watchCmd.Flags().String("account", "", "account whose pool share to show (defaults to the wallet account)")
	root.AddCommand(watchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, model.Message(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
