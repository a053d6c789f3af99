package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boardserver/board"
	"boardserver/store"
	"boardserver/upload"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	dbPath := "whiteboard.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Error("failed to create tables", "error", err)
		os.Exit(1)
	}

	baseDir := "saved_boards"
	boards, err := store.NewBoardStore(baseDir)
	if err != nil {
		log.Error("failed to open board store", "error", err)
		os.Exit(1)
	}

	timelapses, err := store.NewTimelapseManager(baseDir, log)
	if err != nil {
		log.Error("failed to start timelapse manager", "error", err)
		os.Exit(1)
	}

	hub := board.NewHub(log)

	images, err := upload.NewPort(baseDir, hub.Registry.GetByName, hub)
	if err != nil {
		log.Error("failed to start image upload port", "error", err)
		os.Exit(1)
	}

	network := NewNetworkSurface(hub, images, log)
	go func() {
		if err := network.Serve(":8081"); err != nil {
			log.Error("network surface stopped", "error", err)
			os.Exit(1)
		}
	}()

	server := NewServer(db, hub, boards, timelapses, images)
	httpServer := &http.Server{
		Addr:    ":8080",
		Handler: server.RegisterRoutes(),
	}

	go func() {
		log.Info("control plane listening", "addr", httpServer.Addr)
		log.Info("network surface listening", "addr", ":8081")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control plane stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
