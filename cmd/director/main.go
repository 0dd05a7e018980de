package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AaronLay10/SentientDirector/internal/api"
	"github.com/AaronLay10/SentientDirector/internal/clients"
	"github.com/AaronLay10/SentientDirector/internal/config"
	"github.com/AaronLay10/SentientDirector/internal/events"
	"github.com/AaronLay10/SentientDirector/internal/mqtt"
	"github.com/AaronLay10/SentientDirector/internal/orchestrator"
	"github.com/AaronLay10/SentientDirector/internal/safety"
	"github.com/AaronLay10/SentientDirector/internal/scene"
	"github.com/AaronLay10/SentientDirector/internal/storage/postgres"
	"github.com/AaronLay10/SentientDirector/internal/version"
)

func main() {
	cfgPath := flag.String("config", "engine.yaml", "path to engine.yaml")
	flag.Parse()

	cfg, err := config.LoadEngineConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load engine config: %v", err)
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "director starting", map[string]any{
		"service":  "director",
		"version":  version.Version,
		"hostname": hostname,
		"roomId":   cfg.Room.ID,
		"pid":      os.Getpid(),
	})

	// Postgres is optional at boot: events stay in the ring buffer and
	// device commands are refused until the store comes back.
	var store *postgres.Client
	if pg, err := postgres.New(cfg.Room.ID); err != nil {
		log.Printf("postgres unavailable: %v", err)
	} else {
		store = pg
		events.SetAppender(store)
		if err := store.EnsureSceneTable(); err != nil {
			log.Printf("failed to ensure scene table: %v", err)
		}
	}

	registry := scene.NewRegistry()

	pack, err := scene.LoadScenePack(cfg.Network.ScenePack)
	if err != nil {
		log.Printf("scene pack load failed: %v", err)
		if store != nil {
			configs, dbErr := store.GetScenesByRoom(cfg.Room.ID)
			if dbErr != nil {
				log.Fatalf("no scene source available: %v", dbErr)
			}
			registry.ReplaceAll(configs)
			log.Printf("loaded %d scenes from postgres", len(configs))
		} else {
			log.Fatalf("no scene source available")
		}
	} else {
		registry.ReplaceAll(pack.Scenes)
		log.Printf("loaded %d scenes from %s", len(pack.Scenes), cfg.Network.ScenePack)
		if store != nil {
			for _, sc := range pack.Scenes {
				if err := store.SaveScene(sc); err != nil {
					log.Printf("failed to persist scene %s: %v", sc.ID, err)
				}
			}
		}
	}

	var effects orchestrator.EffectsClient
	if cfg.Services.EffectsURL != "" {
		effects = clients.NewEffectsClient(cfg.Services.EffectsURL, 10*time.Second)
	}

	broker := mqtt.NewClient("sentient-director-"+cfg.Room.ID, cfg.MQTTURL())

	var routing orchestrator.RoutingLookup
	if store != nil {
		routing = store
	}
	engine := orchestrator.New(registry, routing, broker, effects, orchestrator.Config{
		WatchPollInterval:    time.Duration(cfg.Intervals.WatchPollMs) * time.Millisecond,
		TimelinePollInterval: time.Duration(cfg.Intervals.TimelinePollMs) * time.Millisecond,
		TimerResolution:      time.Duration(cfg.Intervals.TimerResolutionMs) * time.Millisecond,
		StrictJumps:          cfg.Policies.StrictJumps,
		Safety:               safety.Config{AllowManualChecks: cfg.AllowManualChecks()},
	})
	if cfg.Services.DeviceMonitorURL != "" {
		engine.SetDeviceMonitor(clients.NewDeviceMonitorClient(cfg.Services.DeviceMonitorURL, 10*time.Second))
	}
	engine.Run()

	if !broker.StartWithRetry("#", mqtt.IngestHandler(engine)) {
		log.Printf("mqtt unavailable; continuing without sensor ingest")
	}

	server := api.NewServer(engine)
	server.Start(cfg.APIPort())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	events.Emit("info", "system.shutdown", "director stopping", map[string]any{
		"service": "director",
	})
	engine.Shutdown()
	events.CloseAllSubscribers()
	broker.Disconnect()
	if store != nil {
		store.Close()
	}
}
