package musiccast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI serves canned vendor responses keyed by "{qualifier}/{command}"
// including query arguments. Unkeyed requests succeed with an empty body.
type fakeAPI struct {
	mu        sync.Mutex
	requests  []string
	responses map[string]string
	srv       *httptest.Server
}

func newFakeAPI(t *testing.T, deviceID string) *fakeAPI {
	t.Helper()
	f := &fakeAPI{responses: make(map[string]string)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	f.set("system/getDeviceInfo", fmt.Sprintf(
		`{"response_code":0,"device_id":%q,"model_name":"RX-A860","system_id":"0A1B2C3D"}`, deviceID))
	f.set("system/getFeatures", defaultFeaturesJSON)
	f.set("main/getStatus",
		`{"response_code":0,"power":"on","volume":30,"mute":false,"input":"net_radio"}`)
	f.set("zone2/getStatus",
		`{"response_code":0,"power":"standby","volume":20,"mute":false,"input":"av1"}`)
	f.set("tuner/getPresetInfo?band=common", `{"response_code":0,"preset_info":[]}`)
	f.set("netusb/getPresetInfo", `{"response_code":0,"preset_info":[]}`)
	return f
}

const defaultFeaturesJSON = `{
	"response_code": 0,
	"system": {
		"input_list": [
			{"id": "net_radio", "play_info_type": "netusb"},
			{"id": "spotify", "play_info_type": "netusb"},
			{"id": "tuner", "play_info_type": "tuner"},
			{"id": "cd", "play_info_type": "cd"},
			{"id": "av1", "play_info_type": "none"},
			{"id": "av2", "play_info_type": "none"}
		]
	},
	"zone": [
		{"id": "zone2", "range_step": [{"id": "volume", "min": 0, "max": 100, "step": 2}]},
		{"id": "main", "range_step": [{"id": "volume", "min": 0, "max": 100, "step": 2}]}
	],
	"tuner": {"preset": {"type": "common", "num": 40}, "func_list": ["fm", "dab"]},
	"netusb": {"preset": {"num": 40}}
}`

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/YamahaExtendedControl/v1/")
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	f.mu.Lock()
	f.requests = append(f.requests, key)
	body, ok := f.responses[key]
	f.mu.Unlock()
	if !ok {
		body = `{"response_code":0}`
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (f *fakeAPI) set(key, body string) {
	f.mu.Lock()
	f.responses[key] = body
	f.mu.Unlock()
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == key {
			n++
		}
	}
	return n
}

func (f *fakeAPI) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u := strings.TrimPrefix(f.srv.URL, "http://")
	host, portStr, err := net.SplitHostPort(u)
	if err != nil {
		t.Fatalf("splitting server address %q: %v", u, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing server port %q: %v", portStr, err)
	}
	return host, port
}

func testTiming() Timing {
	return Timing{
		RequestLag:      time.Millisecond,
		HTTPTimeout:     time.Second,
		BufferLag:       5 * time.Millisecond,
		StaleConnection: 5 * time.Minute,
		QueueSize:       10,
	}
}

// newTestDevice builds and initializes a device backed by a fake API.
func newTestDevice(t *testing.T, id string, topo *Topology, f *fakeAPI, opts DeviceOptions) *Device {
	t.Helper()
	host, port := f.hostPort(t)
	opts.ListenPort = 41100
	opts.Timing = testTiming()
	opts.Topology = topo
	d := NewDevice(DeviceInfo{ID: id, Host: host, APIPort: port, Name: id}, opts)
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return d
}

func TestDevice_Init(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	if got := d.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}
	if d.Model != "RX-A860" {
		t.Errorf("Model = %q, want RX-A860", d.Model)
	}
	if d.SystemID != "0A1B2C3D" {
		t.Errorf("SystemID = %q, want 0A1B2C3D", d.SystemID)
	}

	// main is forced to the front regardless of capability-tree order.
	zones := d.Zones()
	if len(zones) != 2 || zones[0] != "main" || zones[1] != "zone2" {
		t.Errorf("Zones() = %v, want [main zone2]", zones)
	}

	// Sources share one play-info group per type.
	if len(d.sourceIDs) != 4 {
		t.Errorf("got %d sources, want 4", len(d.sourceIDs))
	}
	if d.source("net_radio").PlayInfo() != d.source("spotify").PlayInfo() {
		t.Error("net_radio and spotify should share the netusb play-info group")
	}

	// Zone caches are primed from getStatus.
	states := d.Snapshot()
	if !states[0].Power || states[0].Volume != 30 || states[0].Input != "net_radio" {
		t.Errorf("main state = %+v, want power on, volume 30, input net_radio", states[0])
	}
	if states[1].Power {
		t.Error("zone2 should be in standby")
	}
}

func TestDevice_InitIdentityMismatch(t *testing.T) {
	f := newFakeAPI(t, "OTHER99")
	host, port := f.hostPort(t)
	d := NewDevice(DeviceInfo{ID: "ABC123", Host: host, APIPort: port}, DeviceOptions{
		Timing: testTiming(),
	})
	err := d.Init(context.Background())
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("Init() error = %v, want ErrConfig", err)
	}
}

func TestDevice_InitDefaultsUndeclaredStatusInput(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	// Some firmware reports a link-sync pseudo-input that never appears
	// in the capability tree's input list. The cache falls back to the
	// first declared input rather than staying empty.
	f.set("main/getStatus",
		`{"response_code":0,"power":"on","volume":30,"mute":false,"input":"main_sync"}`)
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	states := d.Snapshot()
	if states[0].Input != "net_radio" {
		t.Errorf("main input = %q, want first declared input net_radio", states[0].Input)
	}
}

func TestDevice_InitFeedsFromTopology(t *testing.T) {
	topo := &Topology{Devices: []DeviceTopology{
		{ID: "ABC123", MusicCast: true, Feeds: []FeedWiring{
			{Input: "av1", RemoteDevice: "legacy-cd", RemoteZone: "main"},
		}},
		{ID: "legacy-cd", Sources: []string{"cd"}},
	}}
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", topo, f, DeviceOptions{})

	feed := d.feed("av1")
	if feed == nil {
		t.Fatal("av1 should be a feed")
	}
	if feed.RemoteDeviceID != "legacy-cd" || feed.RemoteZoneID != "main" {
		t.Errorf("feed wiring = %s/%s, want legacy-cd/main", feed.RemoteDeviceID, feed.RemoteZoneID)
	}
	if d.feed("av2") != nil {
		t.Error("av2 has no wiring and should be a plain input")
	}

	reg := NewRegistry()
	d.ResolveFeeds(reg)
	if feed.Resolved() {
		t.Error("feed to a non-MusicCast remote must stay unresolved")
	}
	if !feed.RemoteDeclares("cd") {
		t.Error("feed should carry the remote's declared sources")
	}
}

func TestDevice_EnqueueBackpressure(t *testing.T) {
	d := NewDevice(DeviceInfo{ID: "ABC123"}, DeviceOptions{
		Timing: Timing{QueueSize: 2, StaleConnection: time.Minute},
	})
	if err := d.Enqueue(Task{Kind: TaskRefreshZone}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := d.Enqueue(Task{Kind: TaskRefreshZone}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	err := d.Enqueue(Task{Kind: TaskRefreshZone})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() on full queue error = %v, want ErrQueueFull", err)
	}
}

func TestDevice_RunFatalOnCommsError(t *testing.T) {
	f := newFakeAPI(t, "ABC123")

	var removed []string
	var removeMu sync.Mutex
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{
		OnRemove: func(id string) {
			removeMu.Lock()
			removed = append(removed, id)
			removeMu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// A refresh that hits a vendor error must kill the actor.
	f.set("main/getStatus", `{"response_code":2}`)
	if err := d.Enqueue(Task{Kind: TaskRefreshZone, Zone: 0}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not terminate after communication error")
	}

	if got := d.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
	if !d.conn.Disabled() {
		t.Error("transport should be disabled after failure")
	}
	removeMu.Lock()
	defer removeMu.Unlock()
	if len(removed) != 1 || removed[0] != "ABC123" {
		t.Errorf("OnRemove calls = %v, want exactly one for ABC123", removed)
	}
}

func TestDevice_RunLogicErrorIsNotFatal(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// Powering a zone that is off is a logic error surfaced to the caller,
	// never a reason to kill the device.
	replies := make(chan error, 1)
	err := d.Enqueue(Task{
		Kind:    TaskProcessCommand,
		Command: Command{ZoneID: "zone2", Action: ActionSetVolume, Args: Arguments{"volume": 50}},
		Respond: func(_ Reply, err error) { replies <- err },
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case err := <-replies:
		if !errors.Is(err, ErrLogic) {
			t.Errorf("command error = %v, want ErrLogic", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to command")
	}

	if got := d.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not stop on context cancellation")
	}
}

func TestDevice_RunEventErrorIsNotFatal(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	// A volume the device reports about itself but we cannot parse is
	// dropped with a warning, never a reason to remove the device.
	err := d.Enqueue(Task{
		Kind:  TaskProcessEvent,
		Event: map[string]any{"main": map[string]any{"volume": "garbage"}},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// A follow-up command proves the actor survived the event.
	replies := make(chan error, 1)
	err = d.Enqueue(Task{
		Kind:    TaskProcessCommand,
		Command: Command{ZoneID: "main", Action: ActionMuteOn},
		Respond: func(_ Reply, err error) { replies <- err },
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-replies:
		if err != nil {
			t.Fatalf("command after bad event failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to command after bad event")
	}

	if got := d.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not stop on context cancellation")
	}
}

func TestDevice_RunDisableRepliesToQueuedCommands(t *testing.T) {
	f := newFakeAPI(t, "ABC123")

	var removed []string
	var removeMu sync.Mutex
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{
		OnRemove: func(id string) {
			removeMu.Lock()
			removed = append(removed, id)
			removeMu.Unlock()
		},
	})

	// Queue the disable first so the command sits behind it when the
	// actor starts; its caller must still get an answer.
	if err := d.Enqueue(Task{Kind: TaskDisable}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	replies := make(chan error, 1)
	err := d.Enqueue(Task{
		Kind:    TaskProcessCommand,
		Command: Command{ZoneID: "main", Action: ActionPowerOn},
		Respond: func(_ Reply, err error) { replies <- err },
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case err := <-replies:
		if !errors.Is(err, ErrDisabled) {
			t.Errorf("queued command error = %v, want ErrDisabled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command queued behind disable was never answered")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not terminate after disable")
	}
	if got := d.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
	removeMu.Lock()
	defer removeMu.Unlock()
	if len(removed) != 1 || removed[0] != "ABC123" {
		t.Errorf("OnRemove calls = %v, want exactly one for ABC123", removed)
	}
}

func TestDevice_RunWakesOnScheduleInsert(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Let the actor settle into its timer wait on the keepalive horizon.
	time.Sleep(20 * time.Millisecond)
	before := f.count("main/getStatus")

	// A remote actor resolving a source marks the zone and schedules the
	// settle read while this actor is blocked. The insert must cut the
	// wait short instead of riding out the keepalive timer.
	d.mu.Lock()
	d.zones[0].statusPending = true
	d.scheduleSettleLocked()
	d.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for f.count("main/getStatus") == before {
		if time.Now().After(deadline) {
			t.Fatal("no settle refresh after externally scheduled insert")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDevice_RunSettleRefreshAfterCommand(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	replies := make(chan Reply, 1)
	err := d.Enqueue(Task{
		Kind:    TaskProcessCommand,
		Command: Command{ZoneID: "main", Action: ActionMuteOn},
		Respond: func(r Reply, _ error) { replies <- r },
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case r := <-replies:
		if r.Response != "OK" {
			t.Fatalf("reply = %+v, want OK", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply to command")
	}

	// The settle delay elapses and the actor re-reads the zone status.
	before := f.count("main/getStatus")
	deadline := time.Now().Add(5 * time.Second)
	for f.count("main/getStatus") == before {
		if time.Now().After(deadline) {
			t.Fatal("no settle refresh after state-changing command")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDevice_StateNotifications(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	states := make(chan ZoneState, 16)
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{
		OnState: func(s ZoneState) { states <- s },
	})

	// Init primes both zones; at least the non-zero ones notify.
	select {
	case s := <-states:
		if s.DeviceID != "ABC123" {
			t.Errorf("snapshot device = %q, want ABC123", s.DeviceID)
		}
	default:
		t.Fatal("no state notification during initialization")
	}
	_ = d
}
