// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextcloud/go_speaker_client/internal/capture"
	"github.com/nextcloud/go_speaker_client/internal/client"
	"github.com/nextcloud/go_speaker_client/internal/config"
	"github.com/nextcloud/go_speaker_client/internal/handlers"
	"github.com/nextcloud/go_speaker_client/internal/media"
	"github.com/nextcloud/go_speaker_client/internal/server"
	"github.com/nextcloud/go_speaker_client/internal/transport"
	"github.com/nextcloud/go_speaker_client/internal/ui"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("SC_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting go_speaker_client",
		"server_url", cfg.ServerURL,
		"control_addr", cfg.ControlAddr,
		"task", cfg.InitialTask,
		"media", cfg.EnableMedia,
	)

	srvClient := server.NewClient(cfg)

	var negotiator client.Negotiator
	if cfg.EnableMedia {
		negotiator = media.NewNegotiator(srvClient, cfg.ICEServers)
	}

	coord := client.New(client.Options{
		Task:       cfg.InitialTask,
		Speaker:    cfg.InitialSpeaker,
		Source:     capture.Microphone{},
		Renderer:   ui.NewConsole(os.Stderr),
		Negotiator: negotiator,
		Wav:        srvClient,
	})
	channel := transport.NewChannel(cfg.WebSocketURL(), cfg.SkipCertVerify, coord)
	coord.Bind(channel)

	h := handlers.NewHandler(coord)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	skipAuth := map[string]bool{
		"/heartbeat": true,
	}
	authedHandler := handlers.AuthMiddleware(cfg.ControlToken, skipAuth, mux)

	srv := &http.Server{
		Handler:      authedHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		slog.Error("failed to listen on TCP", "addr", cfg.ControlAddr, "error", err)
		os.Exit(1)
	}
	slog.Info("control API listening on TCP", "addr", cfg.ControlAddr)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// A failed dial has already been reported through OnClose; the
	// control API stays up so the state remains inspectable.
	if err := channel.Open(ctx); err != nil {
		slog.Error("speaker server unreachable", "error", err)
	}

	if negotiator != nil {
		go func() {
			if err := coord.NegotiateMedia(ctx); err != nil {
				slog.Warn("continuing without media path", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	coord.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
