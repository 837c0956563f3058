package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the batch API for the desktop UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _ := buildDispatcher()
		srv := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: server.New(d).Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serve: listening", zap.String("addr", cfg.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stopCh := make(chan os.Signal, 1)
		signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-stopCh:
		}

		zap.L().Info("serve: shutting down")
		d.CancelBatch()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
