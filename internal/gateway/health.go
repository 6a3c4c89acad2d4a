package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultHealthInterval is how often health reports are published.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the minimal publishing surface the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporter publishes periodic gateway health reports to a retained
// MQTT topic so controllers can observe liveness without polling.
type HealthReporter struct {
	publisher HealthPublisher
	topic     string
	gateway   string
	version   string
	interval  time.Duration
	started   time.Time
	logger    Logger

	mu          sync.Mutex
	deviceCount int

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. A zero interval selects the default.
func NewHealthReporter(publisher HealthPublisher, topic, gateway, version string, interval time.Duration, logger Logger) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		publisher: publisher,
		topic:     topic,
		gateway:   gateway,
		version:   version,
		interval:  interval,
		started:   time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// SetDeviceCount records the number of live device actors for the next report.
func (h *HealthReporter) SetDeviceCount(n int) {
	h.mu.Lock()
	h.deviceCount = n
	h.mu.Unlock()
}

// Start begins periodic publishing. The first report goes out immediately.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		h.publishStatus(HealthStarting, "")

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				h.publishCurrent()
			}
		}
	}()
}

// Stop halts periodic publishing and sends a final "stopping" report.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publishStatus(HealthStopping, "shutdown requested")
	})
}

// PublishNow sends an immediate report reflecting current broker state.
func (h *HealthReporter) PublishNow() {
	h.publishCurrent()
}

func (h *HealthReporter) publishCurrent() {
	status := HealthHealthy
	reason := ""
	if !h.publisher.IsConnected() {
		status = HealthDegraded
		reason = "broker connection lost"
	}
	h.publishStatus(status, reason)
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) {
	h.mu.Lock()
	devices := h.deviceCount
	h.mu.Unlock()

	msg := HealthMessage{
		ID:             uuid.NewString(),
		Gateway:        h.gateway,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		DevicesManaged: devices,
		Reason:         reason,
	}

	payload, err := Marshal(msg)
	if err != nil {
		h.logger.Error("encoding health report", "error", err)
		return
	}
	if err := h.publisher.Publish(h.topic, payload, 1, true); err != nil {
		h.logger.Warn("publishing health report", "error", err)
	}
}
