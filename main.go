package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdullahwebtech/air-exchange/config"
	"github.com/abdullahwebtech/air-exchange/core"
	"github.com/abdullahwebtech/air-exchange/handlers/api/files"
	"github.com/abdullahwebtech/air-exchange/handlers/websocket"
	"github.com/abdullahwebtech/air-exchange/rooms"
	"github.com/abdullahwebtech/air-exchange/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(cfg *config.Config, registry *rooms.Registry, blobs core.BlobStore, broadcast core.Broadcaster) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "x-room-id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/upload", files.HandleUpload(registry, blobs, broadcast))
	r.Get("/download/{filename}", files.HandleDownload(blobs))
	r.Delete("/delete-file/{filename}", files.HandleDeleteFile(registry, blobs, broadcast))
	r.Delete("/delete-all", files.HandleDeleteAll(registry, blobs, broadcast))

	r.Get("/uploads/{filename}", files.HandleServeBlob(blobs))
	r.Get("/api/rooms", files.HandleListRooms(registry))

	r.Handle("/*", http.FileServer(http.Dir(cfg.PublicDir)))

	return r
}

func waitForShutdown(ioo *socketio.Server, stopSweeper context.CancelFunc) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	stopSweeper()
	ioo.Close(nil)
	fmt.Println("Shutting down...")
	os.Exit(0)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", cfg.ListenAddr, "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	blobs := stores.GetBlobStore(cfg.StorageType, cfg.UploadDir)
	registry := rooms.NewRegistry(cfg.DefaultExpiry)

	ioo, broadcast := websocket.SetupRelay(registry, blobs)

	r := setupRouter(cfg, registry, blobs, broadcast)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	sweeper := rooms.NewSweeper(registry, blobs, broadcast, cfg.SweepInterval)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, stopSweeper)
}
