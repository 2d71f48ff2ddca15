package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapDesk/internal/config"
	"swapDesk/internal/model"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return model.Errorf(model.KindInvalidInput, "interval", "must be positive")
	}

	var explicit *common.Address
	if raw, _ := cmd.Flags().GetString("account"); raw != "" {
		addr, err := config.ParseAddress("account", raw)
		if err != nil {
			return model.NewError(model.KindInvalidInput, "account", err)
		}
		explicit = &addr
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := serveMetrics(addr, a.logger)
		defer stopServer(srv, 5*time.Second, a.logger)
	}

	out := cmd.OutOrStdout()
	a.session.OnChange(func(model.Session) {
		fmt.Fprintln(out, a.session.Status())
	})
	a.session.Start()

	if a.wallet != nil && explicit == nil {
		if _, err := a.session.Connect(ctx); err != nil {
			fmt.Fprintln(out, model.Message(err))
		}
	}

	refresh := func() {
		account := explicit
		if account == nil {
			account = a.session.Session().Account
		}
		view, err := a.reader.Refresh(ctx, account)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintln(out, model.Message(err))
			if view.Reserves.IsZero() {
				return
			}
		}
		if err := a.printView(ctx, out, view); err != nil && ctx.Err() == nil {
			fmt.Fprintln(out, model.Message(err))
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch stopped")
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server start", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// stopServer gives srv timeout to drain and logs a failed shutdown.
func stopServer(srv shutdowner, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
