// MusicCast Bridge
//
// This is the main entry point for the MusicCast bridge daemon. The bridge
// sits between an MQTT command bus and Yamaha MusicCast devices on the LAN:
// controllers publish commands, the bridge drives the devices over their
// HTTP extended control API, and device state flows back as retained MQTT
// messages and a WebSocket stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/musiccast-bridge/internal/api"
	"github.com/nerrad567/musiccast-bridge/internal/discovery"
	"github.com/nerrad567/musiccast-bridge/internal/gateway"
	"github.com/nerrad567/musiccast-bridge/internal/infrastructure/config"
	"github.com/nerrad567/musiccast-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/musiccast-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/musiccast-bridge/internal/listener"
	"github.com/nerrad567/musiccast-bridge/internal/musiccast"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MusicCast bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load the static system topology (feed wiring, non-MusicCast devices)
	var topology *musiccast.Topology
	if cfg.Gateway.TopologyFile != "" {
		topology, err = musiccast.LoadTopology(cfg.Gateway.TopologyFile)
		if err != nil {
			return fmt.Errorf("loading topology: %w", err)
		}
		log.Info("topology loaded", "path", cfg.Gateway.TopologyFile)
	} else {
		log.Info("no topology file configured, feed resolution disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// SSDP discovery service
	disc := discovery.New(discovery.Config{
		Cycle: time.Duration(cfg.Discovery.CycleSeconds) * time.Second,
		MX:    cfg.Discovery.MX,
	})
	disc.SetLogger(log)

	// Gateway: command routing, device actors, state and health publishing
	gw, err := gateway.New(gateway.Options{
		GatewayID:  cfg.Gateway.ID,
		Version:    version,
		MQTT:       mqttClient,
		Discovery:  disc,
		Topology:   topology,
		Timing:     timingFromConfig(cfg.MusicCast),
		ListenPort: cfg.Listener.Port,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer func() {
		log.Info("stopping gateway")
		gw.Stop()
	}()

	// UDP event listener feeding unsolicited device events into their actors
	events, err := listener.New(listener.Config{
		Port:       cfg.Listener.Port,
		BufferSize: cfg.Listener.BufferSize,
	}, gw.EventSink())
	if err != nil {
		return fmt.Errorf("creating event listener: %w", err)
	}
	events.SetLogger(log)
	go func() {
		if runErr := events.Run(ctx); runErr != nil && ctx.Err() == nil {
			log.Error("event listener stopped", "error", runErr)
		}
	}()
	log.Info("event listener started", "port", cfg.Listener.Port)

	// Discovery runs its periodic search loop for the life of the process
	if cfg.Discovery.Enabled {
		go func() {
			if runErr := disc.Run(ctx); runErr != nil && ctx.Err() == nil {
				log.Error("discovery stopped", "error", runErr)
			}
		}()
		log.Info("discovery started",
			"cycle_seconds", cfg.Discovery.CycleSeconds,
			"mx", cfg.Discovery.MX,
		)
	} else {
		log.Info("discovery disabled")
	}

	// HTTP status API and WebSocket state stream
	if cfg.API.Enabled {
		apiServer, newErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Registry: gw.Registry(),
			MQTT:     mqttClient,
			Version:  version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("MusicCast bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MUSICCAST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MUSICCAST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// timingFromConfig converts configured protocol timing to the device layer's
// form. Zero values select the vendor-observed defaults.
func timingFromConfig(cfg config.MusicCastConfig) musiccast.Timing {
	return musiccast.Timing{
		RequestLag:      time.Duration(cfg.RequestLagMillis) * time.Millisecond,
		HTTPTimeout:     time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		BufferLag:       time.Duration(cfg.BufferLagSeconds) * time.Second,
		StaleConnection: time.Duration(cfg.StaleConnectionSeconds) * time.Second,
		QueueSize:       cfg.QueueSize,
	}
}
