// Package listener receives the asynchronous UDP event stream MusicCast
// devices send to subscribed hosts. The listen port here must match the
// X-AppPort header the transport advertises, or the devices stream into
// the void.
//
// The listener decodes each datagram, pulls the device_id routing field
// out, and hands the remaining payload to the sink. Events for unknown
// devices and undecodable datagrams are logged and dropped; the socket
// loop itself only stops with the context.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Logger defines the logging interface used by the Listener.
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

// Sink consumes one routed event payload. It must not block for long;
// the socket loop is single-threaded.
type Sink func(deviceID string, event map[string]any)

// Config holds the socket parameters.
type Config struct {
	// Port is the UDP port to bind. Must match the advertised X-AppPort.
	Port int
	// BufferSize is the datagram read buffer size.
	BufferSize int
}

// Listener is the UDP event socket loop.
type Listener struct {
	cfg    Config
	sink   Sink
	logger Logger
}

// New creates a listener delivering events to sink.
func New(cfg Config, sink Sink) (*Listener, error) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid listen port %d", cfg.Port)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if sink == nil {
		return nil, errors.New("listener needs a sink")
	}
	return &Listener{cfg: cfg, sink: sink, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Run binds the socket and receives datagrams until the context is
// cancelled. Transient read errors are logged and the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding event socket: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l.logger.Info("event listener started", "port", l.cfg.Port)

	buf := make([]byte, l.cfg.BufferSize)
	for {
		// A periodic deadline keeps the loop responsive to cancellation
		// even if Close races the read.
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("event listener stopped")
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.logger.Warn("event socket read failed", "error", err)
			continue
		}
		l.handle(buf[:n], addr)
	}
}

// handle decodes one datagram and routes it.
func (l *Listener) handle(data []byte, addr net.Addr) {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		l.logger.Debug("undecodable event dropped", "from", addr.String(), "error", err)
		return
	}

	deviceID, ok := event["device_id"].(string)
	if !ok || deviceID == "" {
		l.logger.Debug("event without device_id dropped", "from", addr.String())
		return
	}
	delete(event, "device_id")

	l.logger.Debug("event received", "device_id", deviceID, "from", addr.String())
	l.sink(deviceID, event)
}
