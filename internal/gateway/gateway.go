// Package gateway bridges the MQTT command bus to MusicCast device actors.
//
// The gateway subscribes to the command topic tree, routes each command to
// the addressed device's task queue, and publishes acknowledgments, retained
// zone state, and periodic health reports. It also consumes discovery
// handles to create device actors and feeds unsolicited UDP events into
// the owning actor's queue.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/musiccast-bridge/internal/discovery"
	"github.com/nerrad567/musiccast-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/musiccast-bridge/internal/listener"
	"github.com/nerrad567/musiccast-bridge/internal/musiccast"
)

// Logger is the minimal logging interface the gateway needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the broker surface the gateway consumes.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DiscoverySource yields device lifecycle handles.
type DiscoverySource interface {
	Handles() <-chan discovery.Handle
	Trigger()
}

// Options configures a Gateway.
type Options struct {
	// GatewayID identifies this gateway in health reports.
	// Defaults to "musiccast-bridge".
	GatewayID string

	// Version is reported in health messages.
	Version string

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Discovery yields device create/delete handles. Required.
	Discovery DiscoverySource

	// Topology describes physically wired feeds between devices.
	// Optional; without it devices have no cross-device sources.
	Topology *musiccast.Topology

	// Timing tunes device pacing. Zero fields select defaults.
	Timing musiccast.Timing

	// ListenPort is the local UDP port advertised to devices for
	// their event streams. Required.
	ListenPort int

	// HealthInterval is the health report period. Zero selects the default.
	HealthInterval time.Duration

	// Logger receives gateway log output. Optional.
	Logger Logger
}

// Gateway owns the device registry and the MQTT-facing surfaces.
type Gateway struct {
	opts     Options
	mqtt     MQTTClient
	registry *musiccast.Registry
	topics   mqtt.Topics
	health   *HealthReporter
	logger   Logger

	// mu serializes device creation so feed resolution sees a
	// consistent registry.
	mu sync.Mutex

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates a gateway. It does not touch the broker until Start.
func New(opts Options) (*Gateway, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Discovery == nil {
		return nil, fmt.Errorf("discovery source is required")
	}
	if opts.ListenPort <= 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("listen port %d out of range", opts.ListenPort)
	}
	if opts.GatewayID == "" {
		opts.GatewayID = "musiccast-bridge"
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	g := &Gateway{
		opts:     opts,
		mqtt:     opts.MQTT,
		registry: musiccast.NewRegistry(),
		logger:   opts.Logger,
	}
	g.health = NewHealthReporter(
		opts.MQTT, g.topics.Health(),
		opts.GatewayID, opts.Version,
		opts.HealthInterval, opts.Logger,
	)
	return g, nil
}

// Registry exposes the device registry for read-only consumers (the API).
func (g *Gateway) Registry() *musiccast.Registry {
	return g.registry
}

// Start subscribes to the command tree and begins consuming discovery
// handles. It returns once the subscriptions are in place.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.ctxCancel = context.WithCancel(ctx)

	if err := g.mqtt.Subscribe(g.topics.AllCommands(), 1, g.handleCommand); err != nil {
		g.ctxCancel()
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	g.health.Start(g.ctx)

	g.wg.Add(1)
	go g.consumeHandles()

	g.opts.Discovery.Trigger()

	g.logger.Info("gateway started", "gateway", g.opts.GatewayID)
	return nil
}

// Stop tears the gateway down: discovery consumption halts, every device
// actor is asked to disable, and a final health report is published.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.logger.Info("gateway stopping")

		for _, dev := range g.registry.List() {
			if err := dev.Enqueue(musiccast.Task{Kind: musiccast.TaskDisable}); err != nil {
				g.logger.Warn("queueing disable", "device", dev.ID, "error", err)
			}
		}

		if g.ctxCancel != nil {
			g.ctxCancel()
		}
		g.wg.Wait()
		g.health.Stop()
	})
}

// EventSink returns the sink the UDP listener feeds. Events for unknown
// devices are dropped.
func (g *Gateway) EventSink() listener.Sink {
	return func(deviceID string, event map[string]any) {
		dev := g.registry.Get(deviceID)
		if dev == nil {
			g.logger.Debug("event for unknown device", "device", deviceID)
			return
		}
		task := musiccast.Task{Kind: musiccast.TaskProcessEvent, Event: event}
		if err := dev.Enqueue(task); err != nil {
			g.logger.Warn("dropping event", "device", deviceID, "error", err)
		}
	}
}

// handleCommand routes one bus command to the addressed device actor.
func (g *Gateway) handleCommand(topic string, payload []byte) error {
	deviceID := deviceIDFromTopic(topic)

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		g.logger.Warn("malformed command", "topic", topic, "error", err)
		return fmt.Errorf("decoding command: %w", err)
	}
	if msg.DeviceID == "" {
		msg.DeviceID = deviceID
	}
	if err := msg.Validate(); err != nil {
		g.ack(msg, AckRejected, err.Error(), nil)
		return nil
	}
	if !strings.EqualFold(msg.DeviceID, deviceID) {
		g.ack(msg, AckRejected, "device_id does not match topic", nil)
		return nil
	}

	dev := g.registry.Get(msg.DeviceID)
	if dev == nil || !dev.Operable() {
		g.ack(msg, AckRejected, "device unavailable", nil)
		return nil
	}

	task := musiccast.Task{
		Kind: musiccast.TaskProcessCommand,
		Command: musiccast.Command{
			ZoneID: msg.Zone,
			Action: musiccast.Action(msg.Action),
			Args:   musiccast.Arguments(msg.Arguments),
		},
		Respond: func(reply musiccast.Reply, err error) {
			if err != nil {
				g.ack(msg, AckRejected, err.Error(), nil)
				return
			}
			g.ack(msg, AckOK, reply.Reason, reply.Data)
		},
	}

	if err := dev.Enqueue(task); err != nil {
		if errors.Is(err, musiccast.ErrQueueFull) {
			g.ack(msg, AckDropped, "task queue full", nil)
			return nil
		}
		g.ack(msg, AckRejected, err.Error(), nil)
	}
	return nil
}

// ack publishes a command acknowledgment.
func (g *Gateway) ack(cmd CommandMessage, status AckStatus, reason string, data any) {
	msg := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Zone:      cmd.Zone,
		Status:    status,
		Reason:    reason,
		Data:      data,
	}
	payload, err := Marshal(msg)
	if err != nil {
		g.logger.Error("encoding ack", "command", cmd.ID, "error", err)
		return
	}
	if err := g.mqtt.Publish(g.topics.Ack(cmd.DeviceID), payload, 1, false); err != nil {
		g.logger.Warn("publishing ack", "command", cmd.ID, "error", err)
	}
}

// publishState publishes a retained zone state snapshot.
func (g *Gateway) publishState(state musiccast.ZoneState) {
	msg := newStateMessage(state)
	payload, err := Marshal(msg)
	if err != nil {
		g.logger.Error("encoding state", "device", state.DeviceID, "error", err)
		return
	}
	topic := g.topics.State(state.DeviceID, state.Zone)
	if err := g.mqtt.Publish(topic, payload, 1, true); err != nil {
		g.logger.Warn("publishing state", "device", state.DeviceID, "error", err)
	}
}

// consumeHandles turns discovery handles into device actor lifecycles.
func (g *Gateway) consumeHandles() {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case h, ok := <-g.opts.Discovery.Handles():
			if !ok {
				return
			}
			switch h.Op {
			case discovery.OpCreate:
				g.createDevice(h)
			case discovery.OpDelete:
				g.deleteDevice(h.DeviceID)
			}
		}
	}
}

// createDevice initializes and starts an actor for a discovered device.
// Handles for devices already under management are ignored.
func (g *Gateway) createDevice(h discovery.Handle) {
	if g.registry.Get(h.DeviceID) != nil {
		g.logger.Debug("device already managed", "device", h.DeviceID)
		return
	}

	dev := musiccast.NewDevice(musiccast.DeviceInfo{
		ID:      h.DeviceID,
		Host:    h.Host,
		APIPort: h.APIPort,
		Model:   h.Model,
		Name:    h.Name,
	}, musiccast.DeviceOptions{
		ListenPort: g.opts.ListenPort,
		Timing:     g.opts.Timing,
		Topology:   g.opts.Topology,
		Logger:     g.logger,
		OnRemove:   g.onDeviceRemove,
		OnState:    g.publishState,
	})

	if err := dev.Init(g.ctx); err != nil {
		g.logger.Warn("device init failed", "device", h.DeviceID, "host", h.Host, "error", err)
		return
	}

	g.mu.Lock()
	if !g.registry.Add(dev) {
		g.mu.Unlock()
		g.logger.Debug("device already managed", "device", h.DeviceID)
		return
	}
	// A new device may be the feed another device was waiting on.
	for _, d := range g.registry.List() {
		d.ResolveFeeds(g.registry)
	}
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		dev.Run(g.ctx)
	}()

	g.health.SetDeviceCount(g.registry.Count())
	g.logger.Info("device online", "device", dev.ID, "model", dev.Model, "name", dev.Name())

	for _, state := range dev.Snapshot() {
		g.publishState(state)
	}
}

// deleteDevice asks a managed device's actor to tear down.
func (g *Gateway) deleteDevice(deviceID string) {
	dev := g.registry.Get(deviceID)
	if dev == nil {
		return
	}
	if err := dev.Enqueue(musiccast.Task{Kind: musiccast.TaskDisable}); err != nil {
		g.logger.Warn("queueing disable", "device", deviceID, "error", err)
	}
}

// onDeviceRemove is installed as every device's removal callback. The
// actor fires it exactly once, from any teardown path.
func (g *Gateway) onDeviceRemove(deviceID string) {
	if g.registry.Remove(deviceID) {
		g.logger.Info("device offline", "device", deviceID)
	}
	g.health.SetDeviceCount(g.registry.Count())
}

// deviceIDFromTopic extracts the device segment from a command topic
// of the form musiccast/command/{device_id}.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}
