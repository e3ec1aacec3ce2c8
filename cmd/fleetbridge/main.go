package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetbridge/config"
	"fleetbridge/engine"
	"fleetbridge/messaging"
	"fleetbridge/store"
	"fleetbridge/vendorapi"
	"fleetbridge/www"
)

var version = "dev"

// Exit codes consumed by the external supervisor: 0 is a clean shutdown,
// 2 means the health monitor tripped and a restart is wanted.
const (
	exitOK        = 0
	exitError     = 1
	exitUnhealthy = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "fleetbridge.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "diagnostics HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return exitError
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
		return exitError
	}
	if cfg.Messaging.MQTT.ClientID == "" {
		cfg.Messaging.MQTT.ClientID = cfg.ClientID()
	}
	if cfg.Messaging.Kafka.GroupID == "" {
		cfg.Messaging.Kafka.GroupID = cfg.ClientID()
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Printf("open database: %v", err)
		return exitError
	}
	defer db.Close()

	adapter, err := vendorapi.New(&cfg.Vendor)
	if err != nil {
		log.Printf("vendor adapter: %v", err)
		return exitError
	}

	msgClient := messaging.NewClient(&cfg.Messaging)
	defer msgClient.Close()
	if err := msgClient.Connect(); err != nil {
		// Publishes will fail until the broker answers; the health
		// monitor turns a sustained outage into an unhealthy exit.
		log.Printf("messaging connect: %v", err)
	}
	platform := messaging.NewPlatform(msgClient, cfg)

	coord := engine.New(engine.Deps{
		Config:   cfg,
		DB:       db,
		Adapter:  adapter,
		Sink:     platform,
		Reporter: platform,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	intake := messaging.NewIntake(msgClient, platform, coord, cfg)
	go func() {
		if err := intake.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("command intake: %v", err)
		}
	}()

	hb := messaging.NewHeartbeater(platform, cfg.RobotID, version, cfg.Vendor.Family,
		cfg.Health.HeartbeatInterval, coord.ConnectionStatus)
	hb.Start()
	defer hb.Stop()

	var server *http.Server
	if cfg.Web.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = &http.Server{Addr: addr, Handler: www.NewRouter(coord)}
		go func() {
			log.Printf("fleetbridge %s diagnostics on %s (robot=%s)", version, addr, cfg.RobotID)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server: %v", err)
			}
		}()
	}

	err = coord.Run(ctx)

	if server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if serr := server.Shutdown(sctx); serr != nil {
			log.Printf("http server shutdown: %v", serr)
		}
		cancel()
	}

	switch {
	case errors.Is(err, engine.ErrUnhealthy):
		log.Printf("exiting unhealthy: %v", err)
		return exitUnhealthy
	case err != nil && !errors.Is(err, context.Canceled):
		log.Printf("exiting: %v", err)
		return exitError
	}
	log.Println("shutdown complete")
	return exitOK
}
