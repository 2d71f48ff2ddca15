package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"swapDesk/internal/market"
	"swapDesk/internal/model"
	"swapDesk/internal/units"
)

func runReserves(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	account, err := a.account(ctx, cmd)
	if err != nil {
		return err
	}

	view, err := a.reader.Refresh(ctx, account)
	if err != nil {
		return err
	}
	return a.printView(ctx, cmd.OutOrStdout(), view)
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	asset, meta, err := a.resolveAsset(args[0])
	if err != nil {
		return err
	}
	amountIn, err := units.ParseUnits(args[1], meta.Decimals)
	if err != nil {
		return model.NewError(model.KindInvalidInput, "amount", err)
	}

	q, err := a.orch.Quote(ctx, asset, amountIn)
	if err != nil {
		return err
	}
	out := a.metaFor(q.OutputAsset)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s %s (estimate, no minimum enforced)\n",
		units.FormatUnits(q.InputAmount, meta.Decimals), meta.Label(),
		units.FormatUnits(q.OutputAmount, out.Decimals), out.Label(),
	)
	return nil
}

// printView renders reserves in the pair's own order, plus the account's share.
func (a *app) printView(ctx context.Context, w io.Writer, view market.View) error {
	token0, token1, err := a.reader.Tokens(ctx)
	if err != nil {
		return err
	}
	meta0, meta1 := a.metaFor(token0), a.metaFor(token1)

	suffix := ""
	if view.Stale {
		suffix = " (stale)"
	}
	fmt.Fprintf(w, "reserves%s: %s %s / %s %s\n", suffix,
		units.FormatUnits(view.Reserves.Reserve0, meta0.Decimals), meta0.Label(),
		units.FormatUnits(view.Reserves.Reserve1, meta1.Decimals), meta1.Label(),
	)
	if view.Account != nil && view.Share != nil {
		fmt.Fprintf(w, "pool share of %s: %s\n", view.Account.Hex(), units.FormatUnits(view.Share, 18))
	}
	return nil
}
