package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Deepesh-Tiwari/Rhythm/internal/api"
	"github.com/Deepesh-Tiwari/Rhythm/internal/config"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/audio"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/cache"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/resolve"
	"github.com/Deepesh-Tiwari/Rhythm/internal/service/room"
	http_transport "github.com/Deepesh-Tiwari/Rhythm/internal/transport/http"
	ws_transport "github.com/Deepesh-Tiwari/Rhythm/internal/transport/ws"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "rhythm",
	})

	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := resolve.OpenDB(cfg.Mapping.DBPath)
	if err != nil {
		logger.Fatal(err)
	}
	defer db.Close()

	mappingStore, err := resolve.NewStore(db)
	if err != nil {
		logger.Fatal(err)
	}

	audioService, err := audio.NewServiceAudio(cfg.Youtube.Token, cfg.Youtube.Limit, cfg.Youtube.RateLimit)
	if err != nil {
		logger.Fatal(err)
	}

	resolver := resolve.NewResolver(mappingStore, audioService, logger.WithPrefix("resolve"))
	go resolver.StartSweeper(ctx,
		time.Duration(cfg.Mapping.SweepInterval)*time.Minute,
		time.Duration(cfg.Mapping.TTLHours)*time.Hour)

	downloader := cache.NewYTDLPDownloader(logger.WithPrefix("ytdlp"))
	fileCache, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxFiles, downloader, logger.WithPrefix("cache"))
	if err != nil {
		logger.Fatal(err)
	}
	go fileCache.StartSweeper(ctx, time.Duration(cfg.Cache.SweepInterval)*time.Minute)

	roomService := room.NewService(resolver, fileCache, room.Options{
		Grace:        time.Duration(cfg.Room.GraceSeconds) * time.Second,
		EmptyRoomTTL: time.Duration(cfg.Room.EmptyTTLMinutes) * time.Minute,
	}, logger.WithPrefix("room"))
	go roomService.StartCleanupWorker(ctx, time.Duration(cfg.Room.CleanupMinutes)*time.Minute)

	httpHandler := http_transport.NewHandler(audioService, roomService, fileCache)
	wsHandler := ws_transport.NewWSHandler(roomService, logger.WithPrefix("ws"))

	a := api.NewAPI(api.Deps{
		HttpHandler: httpHandler,
		WsHandler:   wsHandler,
	})

	srv := &http.Server{
		Addr:              cfg.Rest.Address,
		Handler:           a,
		ReadTimeout:       time.Duration(cfg.Rest.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Rest.WriteTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Rest.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Rest.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	logger.Info("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
