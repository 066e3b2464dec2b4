package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/guildgallery/guildgallery_server/internal"
	"github.com/guildgallery/guildgallery_server/internal/feed"
	"github.com/guildgallery/guildgallery_server/internal/gallery"
	"github.com/guildgallery/guildgallery_server/internal/health"
	"github.com/guildgallery/guildgallery_server/internal/session"
	"github.com/guildgallery/guildgallery_server/internal/storage"
)

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}

	var galleryRepository gallery.Repository
	if config.Database.URL != "" {
		db, err := internal.NewDB(config.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
			return
		}
		defer db.Close()
		galleryRepository = gallery.NewSQLRepository(db)
	} else {
		log.Warn().Msg("No database configured, gallery records are kept in memory")
		galleryRepository = gallery.NewMemoryRepository()
	}

	backend, err := storage.NewBackend(config.Storage.BackendConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage backend")
		return
	}

	hub := feed.NewHub()
	go hub.Run()

	sessionStore := session.NewStore(config.Upload.SessionTTL)
	sessionStore.StartJanitor(config.Upload.JanitorInterval)

	sessionService := session.NewService(sessionStore, backend, galleryRepository, hub, config.Upload.MaxFileSize, config.Upload.ChunkSize)
	sessionEndpoints := session.NewEndpoints(sessionService)
	galleryEndpoints := gallery.NewEndpoints(galleryRepository)
	healthEndpoints := health.NewEndpoints("1.0.0")
	feedHandler := feed.NewHandler(hub)

	requestHandler := internal.NewRequestHandler(config, sessionEndpoints, galleryEndpoints, healthEndpoints, feedHandler)

	server := &fasthttp.Server{
		Handler:            requestHandler,
		MaxRequestBodySize: int(config.Upload.ChunkSize) + 1024*1024,
	}

	go func() {
		log.Info().Str("addr", config.Server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(config.Server.Addr); err != nil {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
	sessionStore.StopJanitor()
	hub.Stop()
}
