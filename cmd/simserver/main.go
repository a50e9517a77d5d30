package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hooksbot/client/internal/config"
	"github.com/hooksbot/client/internal/simserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	srv, err := simserver.New(cfg.Sim)
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down simulator...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Sim.Port
	log.Printf("Simulator listening on %s (outputs under %s)", addr, srv.DataDir())
	if err := srv.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
