package musiccast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// appName identifies the gateway in the X-AppName request header. Together
// with X-AppPort it subscribes this host to the device's UDP event stream.
const appName = "MusicCast/1.0(musiccast-bridge)"

// responseCodeText maps the vendor response_code values embedded in every
// reply body to their documented meanings.
var responseCodeText = map[int]string{
	0:   "Successful request",
	1:   "Initialising",
	2:   "Internal Error",
	3:   "Invalid Request (A method did not exist, wasn't appropriate etc.)",
	4:   "Invalid Parameter (Out of range, invalid characters etc.)",
	5:   "Guarded (Unable to setup in current status etc.)",
	6:   "Time Out",
	99:  "Firmware Updating",
	100: "Access Error",
	101: "Other Errors",
	102: "Wrong User Name",
	103: "Wrong Password",
	104: "Account Expired",
	105: "Account Disconnected/Gone Off/Shut Down",
	106: "Account Number Reached to the Limit",
	107: "Server Maintenance",
	108: "Invalid Account",
	109: "License Error",
	110: "Read Only Mode",
	111: "Max Stations",
	112: "Access Denied",
}

// Timing bundles the protocol timing constants the transport and actors
// need. Zero values are replaced with the vendor-observed defaults.
type Timing struct {
	// RequestLag is the minimum interval between two requests to one device.
	RequestLag time.Duration
	// HTTPTimeout bounds a single request/response round trip.
	HTTPTimeout time.Duration
	// BufferLag is the settle delay between a state-changing command and
	// the confirming status refresh.
	BufferLag time.Duration
	// StaleConnection is the keepalive interval that stops the firmware
	// from silently dropping its event subscription.
	StaleConnection time.Duration
	// QueueSize bounds each actor's task queue.
	QueueSize int
}

// DefaultTiming returns the vendor-observed protocol timing defaults.
func DefaultTiming() Timing {
	return Timing{
		RequestLag:      500 * time.Millisecond,
		HTTPTimeout:     1 * time.Second,
		BufferLag:       5 * time.Second,
		StaleConnection: 300 * time.Second,
		QueueSize:       10,
	}
}

// withDefaults fills zero fields with the vendor-observed defaults.
func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.RequestLag == 0 {
		t.RequestLag = def.RequestLag
	}
	if t.HTTPTimeout == 0 {
		t.HTTPTimeout = def.HTTPTimeout
	}
	if t.BufferLag == 0 {
		t.BufferLag = def.BufferLag
	}
	if t.StaleConnection == 0 {
		t.StaleConnection = def.StaleConnection
	}
	if t.QueueSize == 0 {
		t.QueueSize = def.QueueSize
	}
	return t
}

// Conn is the blocking request/response transport to one device.
//
// Requests follow GET /YamahaExtendedControl/v1/{qualifier}/{command}.
// Outbound requests are globally rate-limited per device: consecutive
// requests are spaced by at least Timing.RequestLag.
//
// Thread Safety:
//   - Request may be called from multiple goroutines; pacing and the
//     disabled flag are lock-protected.
type Conn struct {
	baseURL    string
	listenPort int
	client     *http.Client
	lag        time.Duration

	mu          sync.Mutex
	lastRequest time.Time
	disabled    bool
}

// NewConn creates a transport for the device at host:port. listenPort is
// advertised in X-AppPort so the device sends UDP events back to us.
func NewConn(host string, port int, listenPort int, timing Timing) *Conn {
	timing = timing.withDefaults()
	return &Conn{
		baseURL:    fmt.Sprintf("http://%s:%d/YamahaExtendedControl/v1", host, port),
		listenPort: listenPort,
		client:     &http.Client{Timeout: timing.HTTPTimeout},
		lag:        timing.RequestLag,
	}
}

// Disable switches the transport to no-op mode. Subsequent requests return
// ErrDisabled without touching the network, letting queued tasks drain
// during teardown.
func (c *Conn) Disable() {
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
}

// Disabled reports whether the transport is in no-op mode.
func (c *Conn) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// Request issues a command to the device and returns the decoded JSON body.
//
// Parameters:
//   - ctx: Cancels the wait for the pacing slot and the HTTP round trip
//   - qualifier: URL path segment selecting the subsystem ("system",
//     "main", "zone2", "tuner", "netusb", "cd", ...)
//   - command: The command with its query arguments ("getStatus",
//     "setVolume?volume=42", ...)
//
// Any socket error, timeout, non-2xx status, malformed body or non-zero
// vendor response_code is reported as a communication error.
func (c *Conn) Request(ctx context.Context, qualifier, command string) (map[string]any, error) {
	if err := c.waitTurn(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, qualifier, command)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrComms, err)
	}
	req.Header.Set("X-AppName", appName)
	req.Header.Set("X-AppPort", strconv.Itoa(c.listenPort))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrComms, qualifier, command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s/%s: HTTP status %d", ErrComms, qualifier, command, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: reading body: %w", ErrComms, qualifier, command, err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: malformed body: %w", ErrComms, qualifier, command, err)
	}

	if code, ok := decoded["response_code"].(float64); ok && int(code) != 0 {
		text, known := responseCodeText[int(code)]
		if !known {
			text = "Unknown response code"
		}
		return nil, fmt.Errorf("%w: %s/%s: response code %d (%s)", ErrComms, qualifier, command, int(code), text)
	}

	return decoded, nil
}

// waitTurn blocks until the pacing slot opens, or returns ErrDisabled /
// the context error. The slot is reserved before sleeping so concurrent
// callers queue up behind each other.
func (c *Conn) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	if c.disabled {
		c.mu.Unlock()
		return ErrDisabled
	}
	now := time.Now()
	next := c.lastRequest.Add(c.lag)
	if next.Before(now) {
		next = now
	}
	c.lastRequest = next
	wait := next.Sub(now)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrComms, ctx.Err())
	}
}
