package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *DB
	var history *HistoryRecorder
	var sink RoundSink
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		history = NewHistoryRecorder(db)
		sink = history
		log.Printf("Round history stored in %s", cfg.DBPath)
	}

	admin, err := NewAdminAuth(db, cfg.AdminPass)
	if err != nil {
		log.Fatalf("admin: %v", err)
	}
	if !admin.Enabled() {
		log.Printf("Admin endpoints disabled (no admin password)")
	}

	perf := NewPerfMonitor()
	sessions := NewSessionManager(cfg, sink, perf)
	hub := NewHub(cfg, sessions, db, admin, perf)
	go hub.Run()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: cfg.Addr, Handler: SetupRoutes(hub)}

	go func() {
		log.Printf("Server starting on %s (tick %d/s, max %d players)", cfg.Addr, cfg.TickRate, cfg.MaxPlayers)
		if cfg.ClientDir != "" {
			log.Printf("Serving client files from %s", cfg.ClientDir)
		}
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	sessions.Shutdown("Server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Close()
	}
	if history != nil {
		history.Stop()
	}
	if db != nil {
		db.Close()
	}
}
