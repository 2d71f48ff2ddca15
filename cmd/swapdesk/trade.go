package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapDesk/internal/model"
	"swapDesk/internal/pipeline"
	"swapDesk/internal/storage"
	"swapDesk/internal/units"
)

func runAddLiquidity(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd, func(ctx context.Context, a *app) (*pipeline.Pipeline, error) {
		amountA, err := units.ParseUnits(args[0], a.metaA.Decimals)
		if err != nil {
			return nil, model.NewError(model.KindInvalidInput, "amount-a", err)
		}
		amountB, err := units.ParseUnits(args[1], a.metaB.Decimals)
		if err != nil {
			return nil, model.NewError(model.KindInvalidInput, "amount-b", err)
		}
		return a.orch.AddLiquidity(ctx, amountA, amountB)
	})
}

func runSwap(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd, func(ctx context.Context, a *app) (*pipeline.Pipeline, error) {
		asset, meta, err := a.resolveAsset(args[0])
		if err != nil {
			return nil, err
		}
		amountIn, err := units.ParseUnits(args[1], meta.Decimals)
		if err != nil {
			return nil, model.NewError(model.KindInvalidInput, "amount", err)
		}
		return a.orch.Swap(ctx, asset, amountIn)
	})
}

// runPipeline connects the wallet and runs one pipeline. Wallet listeners stay
// registered for the whole run, so a lock or account switch halts the next
// step. The first interrupt abandons the pipeline but still waits for the
// outstanding confirmation; a second one exits.
func runPipeline(cmd *cobra.Command, start func(context.Context, *app) (*pipeline.Pipeline, error)) error {
	setupCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := newApp(setupCtx, cmd)
	if err != nil {
		stop()
		return err
	}
	defer a.close()

	a.session.Start()
	if _, err := a.session.Connect(setupCtx); err != nil {
		stop()
		return err
	}
	stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, a.session.Status())
	a.session.OnChange(func(model.Session) {
		fmt.Fprintln(out, a.session.Status())
	})

	var journal storage.Journal
	if path, _ := cmd.Flags().GetString("journal"); path != "" {
		j, err := storage.OpenJsonlJournal(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				a.logger.Warn("journal close failed", zap.Error(err))
			}
		}()
		journal = j
	}
	a.orch.OnProgress(func(s pipeline.Snapshot) {
		printProgress(out, s)
		if journal == nil {
			return
		}
		if err := journal.Append(s.Record(time.Now())); err != nil {
			a.logger.Warn("journal write failed", zap.Error(err))
		}
	})
	a.orch.OnSuccess(func(ctx context.Context, account common.Address) {
		view, err := a.reader.Refresh(ctx, &account)
		if err != nil {
			a.logger.Warn("refresh after pipeline failed", zap.Error(err))
		}
		if err := a.printView(ctx, out, view); err != nil {
			a.logger.Warn("print view failed", zap.Error(err))
		}
	})

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-signals:
		case <-done:
			return
		}
		fmt.Fprintln(out, "Abandoning, waiting for the submitted transaction to resolve...")
		a.orch.Abandon()
		select {
		case <-signals:
			os.Exit(130)
		case <-done:
		}
	}()

	_, err = start(context.Background(), a)
	return err
}

// printProgress prints one line per step transition. Failures are reported
// once, by the command's error.
func printProgress(w io.Writer, s pipeline.Snapshot) {
	if s.State.Status != pipeline.StatusRunning {
		return
	}
	step := s.Steps[s.State.StepIndex]
	switch {
	case step.Confirmed && step.Skipped:
		fmt.Fprintf(w, "%s (allowance already set)\n", step.DoneText())
	case step.Confirmed:
		fmt.Fprintln(w, step.DoneText())
	case step.TxHash != nil:
		fmt.Fprintf(w, "%s: submitted %s\n", step.Label, step.TxHash.Hex())
	default:
		fmt.Fprintf(w, "%s: waiting for wallet\n", step.Label)
	}
}
