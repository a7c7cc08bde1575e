package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/devserver"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	text := flag.String("transcript", "This is a test transcription of an audio chunk.", "Text returned for every uploaded chunk")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           devserver.New(logger, *text).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Development call server starting",
			slog.String("address", *addr),
			slog.String("login", "POST /auth/login"),
			slog.String("signaling", "GET /ws"),
			slog.String("transcribe", "POST /api/audio/transcribe"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}
}
