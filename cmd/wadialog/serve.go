package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/wadialog/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Starts the HTTP server exposing the WhatsApp webhook, the Flow data
exchange endpoint, /healthz and (with metrics enabled) /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			p.Addr, _ = cmd.Flags().GetString("addr")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := build(ctx, p)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine.Validate(ctx)
		if err != nil {
			return err
		}
		for _, issue := range report.Errors {
			a.logger.Warn("Stage graph issue", "issue", issue)
		}

		opts := []httpAdapter.Option{
			httpAdapter.WithLogger(a.logger),
			httpAdapter.WithAsync(p.Async),
		}
		if a.registry != nil {
			opts = append(opts, httpAdapter.WithGatherer(a.registry))
		}
		handler := httpAdapter.NewServer(a.engine, opts...)

		srv := &http.Server{
			Addr:              p.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.Info("Starting server", "addr", srv.Addr, "stages", p.StageDir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), p.ShutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			// Let background turns finish before the session store closes.
			handler.Wait()
			return err
		})

		if err := g.Wait(); err != nil {
			return err
		}
		a.logger.Info("Server stopped gracefully")
		return nil
	},
}

func init() {
	addGraphFlags(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}
