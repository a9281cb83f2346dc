package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/topup-systems/topup/internal/api"
	"github.com/topup-systems/topup/internal/app/issuer"
	"github.com/topup-systems/topup/internal/app/lifecycle"
	"github.com/topup-systems/topup/internal/app/notify"
	"github.com/topup-systems/topup/internal/app/reconciler"
	"github.com/topup-systems/topup/internal/daemon"
	"github.com/topup-systems/topup/internal/domain"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storefront API and webhook server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	iss := issuer.New(store)
	mgr := lifecycle.New(store, iss, lifecycle.Config{
		UnitPrice:      decimal.NewFromFloat(cfg.Pricing.UnitPrice),
		CreditsPerUnit: cfg.Pricing.CreditsPerUnit,
		MinQuantity:    cfg.Pricing.MinQuantity,
	})

	var sink domain.Notifier = notify.LogSink{}
	if cfg.Notify.RelayURL != "" {
		sink = notify.NewWebhookSink(cfg.Notify.RelayURL)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.QueueSize)
	defer dispatcher.Close()
	mgr.SetNotifier(dispatcher)

	rec := reconciler.New(mgr, store, []byte(cfg.Gateway.Secret), cfg.Operators.Allowed)

	srv := api.NewServer(mgr, iss, rec)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	httpSrv := &http.Server{
		Addr:    cfg.API.Addr(),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serving on %s (store driver %s)", cfg.API.Addr(), cfg.Store.Driver)
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
