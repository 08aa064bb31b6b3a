// Command broker runs a single-node topic-partition message broker: it
// bootstraps the on-disk layout, recovers the durable core from it, and
// serves the HTTP API over it until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dcrodman/tpcbroker/internal/bootstrap"
	"github.com/dcrodman/tpcbroker/internal/broker"
	"github.com/dcrodman/tpcbroker/internal/config"
	"github.com/dcrodman/tpcbroker/internal/httpapi"
	"github.com/dcrodman/tpcbroker/internal/logger"
)

func main() {
	log := logger.New(logger.LogLevelInfo)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Log(logger.LogLevelError, "failed to load configuration", "err", err)
		os.Exit(1)
	}

	layout, err := bootstrap.Prepare(cfg, log)
	if err != nil {
		log.Log(logger.LogLevelError, "failed to prepare data layout", "err", err)
		os.Exit(1)
	}

	b, err := broker.New(broker.Config{
		BrokerID:    cfg.BrokerID,
		DataRoot:    layout.DataRoot,
		Topics:      bootstrap.Specs(cfg.Topics),
		IngressWAL:  layout.IngressWAL,
		IngressMeta: layout.IngressMeta,
		TPCLogPath:  layout.TPCLog,
		Logger:      log,
	})
	if err != nil {
		log.Log(logger.LogLevelError, "failed to construct broker core", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go b.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.New(b, log),
	}

	go func() {
		log.Log(logger.LogLevelInfo, "http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Log(logger.LogLevelError, "http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Log(logger.LogLevelInfo, "shutdown signal received, draining http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Log(logger.LogLevelError, "http server shutdown error", "err", err)
	}
	log.Log(logger.LogLevelInfo, "broker stopped")
}
