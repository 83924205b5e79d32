package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/photobooth-app/photobooth/acquisition"
	"github.com/photobooth-app/photobooth/collection"
	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/database"
	"github.com/photobooth-app/photobooth/handlers"
	"github.com/photobooth-app/photobooth/information"
	"github.com/photobooth-app/photobooth/processing"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/share"
	"github.com/photobooth-app/photobooth/sse"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}

	paths, err := config.LoadPaths()
	if err != nil {
		log.Fatalf("FATAL: Failed to resolve data directories: %v", err)
	}

	for _, p := range []string{paths.ConfigDir, paths.MediaDir, paths.LogDir, paths.UserdataDir} {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0o755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	cfg, err := config.Load(paths)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logFile, err := config.SetupLogging(paths, cfg.Common.LogsKeepDays)
	if err != nil {
		log.Printf("logging to file unavailable: %v", err)
	} else {
		defer logFile.Close()
	}

	db, err := database.InitDB(paths.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}

	mediaRepo := repository.NewGormMediaItemRepository(db)
	counterRepo := repository.NewGormUsageCounterRepository(db)

	bus := sse.NewBus()

	coll, err := collection.NewService(paths, cfg.Mediaprocessing, cfg.Collection, mediaRepo, bus)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media collection: %v", err)
	}
	if err := coll.Reconcile(); err != nil {
		log.Printf("collection reconciliation incomplete: %v", err)
	}

	supervisor, err := acquisition.NewSupervisor(cfg.Backends, cfg.Common, cfg.UISettings)
	if err != nil {
		log.Fatalf("FATAL: Failed to create camera backends: %v", err)
	}
	supervisor.Start()
	defer supervisor.Stop()

	procService := processing.NewService(&cfg, paths, supervisor, coll, counterRepo, bus)
	shareDispatcher := share.NewDispatcher(cfg.Share, counterRepo, bus)

	infoService := information.NewService(paths, cfg.Common, counterRepo, supervisor.Stats, shareDispatcher.LimitsCounter, bus)
	infoService.Start()
	defer infoService.Stop()

	log.Printf("Using database: %s", paths.DatabasePath)
	log.Printf("Storing media in: %s", paths.MediaDir)
	log.Printf("Main camera backend: %s", cfg.Backends.MainBackend)

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	actionsHandler := &handlers.ActionsHandler{Processing: procService}
	mediaHandler := &handlers.MediaHandler{Collection: coll}
	streamHandler := &handlers.StreamHandler{Supervisor: supervisor}
	infoHandler := &handlers.InformationHandler{Information: infoService}
	shareHandler := &handlers.ShareHandler{Dispatcher: shareDispatcher, Collection: coll}

	sseHandler := &sse.Handler{
		Bus: bus,
		OnSubscribe: func(sub *sse.Subscriber) {
			bus.DispatchTo(sub, infoService.OnetimeRecord())
			bus.DispatchTo(sub, infoService.IntervalRecord())
			bus.DispatchTo(sub, sse.EventProcessStateinfo{Job: jobOrNil(procService)})
		},
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/actions", func(r chi.Router) {
			r.Post("/{kind}/{index}", actionsHandler.TriggerAction)
			r.Post("/confirm", actionsHandler.ConfirmCapture)
			r.Post("/reject", actionsHandler.RejectCapture)
			r.Post("/abort", actionsHandler.AbortProcess)
			r.Post("/stop", actionsHandler.StopRecording)
		})

		r.Route("/media", func(r chi.Router) {
			r.Get("/", mediaHandler.ListItems)
			r.Delete("/", mediaHandler.DeleteAllItems)
			r.Get("/latest", mediaHandler.GetLatestItem)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", mediaHandler.GetItem)
				r.Delete("/", mediaHandler.DeleteItem)
				r.Patch("/filter", mediaHandler.ApplyFilter)
			})
		})

		r.Route("/share", func(r chi.Router) {
			r.Get("/", shareHandler.ListActions)
			r.Post("/limits/reset", shareHandler.ResetLimits)
			r.Post("/{index}/{id}", shareHandler.ShareItem)
		})

		r.Route("/information", func(r chi.Router) {
			r.Get("/stats", infoHandler.GetStats)
			r.Post("/stats/reset", infoHandler.ResetStats)
		})

		r.Get("/stream.mjpg", streamHandler.ServeMJPEG)
		r.Get("/sse", sseHandler.ServeHTTP)
	})

	r.Get("/media/{variant}/{id}", mediaHandler.ServeFile)

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("Shutting down...")
	if err := procService.AbortProcess(); err == nil {
		procService.WaitUntilJobFinished(10 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Printf("Shutdown complete")
}

// jobOrNil avoids a typed-nil interface value in the stateinfo replay.
func jobOrNil(p *processing.Service) interface{} {
	if info := p.CurrentJobInfo(); info != nil {
		return info
	}
	return nil
}
