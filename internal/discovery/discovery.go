package discovery

import (
	"context"
	"net/http"
	"time"
)

// Op tells the consumer what to do with a handle.
type Op int

const (
	// OpCreate announces a device that answered the search.
	OpCreate Op = iota
	// OpDelete announces a device the consumer should tear down.
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "create"
}

// Handle is one device-lifecycle announcement.
type Handle struct {
	Op       Op
	DeviceID string
	Host     string
	APIPort  int
	Model    string
	Name     string
}

// Logger defines the logging interface used by the Service.
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

// Config holds the search parameters.
type Config struct {
	// Cycle is the maximum time between two searches.
	Cycle time.Duration
	// MX is the SSDP response backoff window in seconds (1..5).
	MX int
}

// Service runs the periodic two-stage search and emits device handles.
type Service struct {
	cfg     Config
	handles chan Handle
	trigger chan struct{}
	client  *http.Client
	logger  Logger
}

// New creates a discovery service.
func New(cfg Config) *Service {
	if cfg.Cycle <= 0 {
		cfg.Cycle = 600 * time.Second
	}
	return &Service{
		cfg:     cfg,
		handles: make(chan Handle, 16),
		trigger: make(chan struct{}, 1),
		client:  &http.Client{Timeout: 2 * time.Second},
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Handles returns the channel device announcements arrive on.
func (s *Service) Handles() <-chan Handle {
	return s.handles
}

// Trigger requests an immediate search without waiting out the cycle.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run performs a search immediately and then once per cycle (or sooner
// when triggered) until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		s.searchOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
		case <-time.After(s.cfg.Cycle):
		}
	}
}

// searchOnce runs both stages of one search cycle.
func (s *Service) searchOnce(ctx context.Context) {
	s.logger.Debug("discovery search started")

	responses, err := search(ctx, s.cfg.MX)
	if err != nil {
		s.logger.Warn("discovery search failed", "error", err)
		return
	}
	s.logger.Debug("discovery search finished", "responders", len(responses))

	for _, resp := range responses {
		handle, err := describe(s.client, resp.Location)
		if err != nil {
			s.logger.Debug("description fetch failed",
				"location", resp.Location, "error", err)
			continue
		}
		if handle == nil {
			continue
		}
		s.logger.Info("device discovered",
			"device_id", handle.DeviceID, "host", handle.Host, "model", handle.Model)
		select {
		case s.handles <- *handle:
		case <-ctx.Done():
			return
		}
	}
}
