package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/int-arsh/codenest/internal/api"
	"github.com/int-arsh/codenest/internal/app"
	"github.com/int-arsh/codenest/internal/autosave"
	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/db"
	"github.com/int-arsh/codenest/internal/metrics"
	"github.com/int-arsh/codenest/internal/ratelimit"
	"github.com/int-arsh/codenest/internal/room"
	"github.com/int-arsh/codenest/internal/router"
	"github.com/int-arsh/codenest/internal/session"
	"github.com/int-arsh/codenest/internal/ws"
)

// Per-IP limits for the REST API
const (
	apiRequestsPerSecond = 20
	apiBurst             = 40
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	logger := app.NewLogger(cfg.Env)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("db.open", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	registry := room.NewRegistry(room.WithMaxMembers(cfg.MaxRoomMembers))

	hub := ws.NewHub(logger, ws.Options{
		SendBuffer:        cfg.SendBuffer,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		MaxMessageSize:    cfg.MaxMessageBytes,
	})
	go hub.Run(ctx)

	dispatcher := broadcast.New(registry, hub, logger)
	sessions := session.NewManager(registry, dispatcher, logger)
	events := router.New(sessions, dispatcher, logger)

	saver := autosave.New(registry, database, autosave.Config{
		Interval: cfg.AutosaveInterval,
		KeepAuto: cfg.AutosaveKeep,
		IdleTTL:  cfg.RoomIdleTTL,
	}, logger)
	saver.Start()
	defer saver.Stop()

	apiHandler := api.New(registry, hub, dispatcher, database, saver, logger)
	apiLimits := ratelimit.NewKeyedLimiters(apiRequestsPerSecond, apiBurst)
	defer apiLimits.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, events, w, r)
	})
	mux.HandleFunc("/", apiHandler.IndexHandler)
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.Handle("/metrics", metrics.Handler())

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	apiMux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	apiMux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)
	apiMux.HandleFunc("/api/versions", apiHandler.VersionsRouter)
	apiMux.HandleFunc("/api/versions/", apiHandler.VersionsRouter)
	apiMux.HandleFunc("/api/history", apiHandler.HistoryRouter)
	apiMux.HandleFunc("/api/history/", apiHandler.HistoryRouter)
	mux.Handle("/api/", apiLimits.Middleware(apiMux))

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.Addr(), "db", cfg.DBPath, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
