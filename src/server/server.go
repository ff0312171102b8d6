package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"positionledger/src/handler"
	"positionledger/src/marketdata"
	"positionledger/src/repository"
)

func StartServer(port string) {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})

	positionRepo := repository.NewPositionRepository()
	instrumentRepo := repository.NewInstrumentRepository()

	// Mark-price cache for the unrealized-pnl overlay on open rows,
	// refreshed in the background for the cached instrument universe.
	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	prices := marketdata.NewPriceCache()
	refresher := marketdata.NewRefresher(prices, func(ctx context.Context) []string {
		symbols, err := instrumentRepo.ListSymbols(ctx)
		if err != nil {
			return nil
		}
		return symbols
	})
	go refresher.Run(refreshCtx)

	r.Get("/positions", handler.SearchPositionsHandler(positionRepo, prices))
	r.Get("/positions/summary", handler.SummaryHandler(positionRepo))

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	cancelRefresh()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
