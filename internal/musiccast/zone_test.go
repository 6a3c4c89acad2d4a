package musiccast

import (
	"context"
	"errors"
	"testing"
)

func TestVolumeTransforms(t *testing.T) {
	z := &Zone{volumeMin: 0, volumeMax: 161, volumeStep: 2, volumeRange: 161}

	tests := []struct {
		internal int
		native   int
	}{
		{0, 0},
		{50, 80},  // 50*161/100 = 80.5, truncated
		{100, 161},
	}
	for _, tt := range tests {
		if got := z.volumeToNative(tt.internal); got != tt.native {
			t.Errorf("volumeToNative(%d) = %d, want %d", tt.internal, got, tt.native)
		}
	}

	// Round trip stays within one unit of truncation and is exact at the
	// bounds, across several real device ranges.
	for _, rng := range []int{60, 100, 161} {
		z := &Zone{volumeMax: rng, volumeRange: rng}
		for v := 0; v <= 100; v++ {
			back := z.volumeFromNative(z.volumeToNative(v))
			if back < v-1 || back > v+1 {
				t.Fatalf("range %d: round trip of %d = %d", rng, v, back)
			}
			if (v == 0 || v == 100) && back != v {
				t.Fatalf("range %d: round trip at bound %d = %d, want exact", rng, v, back)
			}
		}
	}
}

func TestPowerMuteTransforms(t *testing.T) {
	if powerToNative(true) != "on" || powerToNative(false) != "standby" {
		t.Error("power transform is not the on/standby bijection")
	}
	for _, s := range []string{"on", "standby"} {
		on, err := powerFromNative(s)
		if err != nil {
			t.Fatalf("powerFromNative(%q) error = %v", s, err)
		}
		if got := powerToNative(on); got != s {
			t.Errorf("power round trip of %q = %q", s, got)
		}
	}
	if _, err := powerFromNative(3.0); !errors.Is(err, ErrComms) {
		t.Error("non-string power value should be a comms error")
	}

	for _, b := range []bool{true, false} {
		got, err := muteFromNative(muteToNative(b))
		if err != nil || got != b {
			t.Errorf("mute round trip of %v = %v, %v", b, got, err)
		}
	}
	if got, err := muteFromNative(true); err != nil || !got {
		t.Errorf("muteFromNative(true) = %v, %v; want true", got, err)
	}
}

func TestZone_ClampNative(t *testing.T) {
	z := &Zone{volumeMin: 0, volumeMax: 60, volumeRange: 60}
	tests := []struct{ in, want int }{
		{-5, 0},
		{0, 0},
		{30, 30},
		{60, 60},
		{61, 60},
	}
	for _, tt := range tests {
		if got := z.clampNative(tt.in); got != tt.want {
			t.Errorf("clampNative(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// narrowRangeFeatures declares a single main zone with native volume
// range [0,60] step 1.
const narrowRangeFeatures = `{
	"response_code": 0,
	"system": {
		"input_list": [
			{"id": "net_radio", "play_info_type": "netusb"},
			{"id": "spotify", "play_info_type": "netusb"},
			{"id": "av1", "play_info_type": "none"}
		]
	},
	"zone": [
		{"id": "main", "range_step": [{"id": "volume", "min": 0, "max": 60, "step": 1}]}
	],
	"netusb": {"preset": {"num": 40}}
}`

func newNarrowRangeDevice(t *testing.T, id string, topo *Topology) (*Device, *fakeAPI) {
	t.Helper()
	f := newFakeAPI(t, id)
	f.set("system/getFeatures", narrowRangeFeatures)
	f.set("main/getStatus",
		`{"response_code":0,"power":"on","volume":30,"mute":false,"input":"net_radio"}`)
	d := newTestDevice(t, id, topo, f, DeviceOptions{})
	return d, f
}

func TestZone_SetVolume(t *testing.T) {
	d, f := newNarrowRangeDevice(t, "ABC123", nil)
	z := d.zone("main")
	ctx := context.Background()

	reply, err := z.SetVolume(ctx, 50)
	if err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if reply.Response != "OK" {
		t.Errorf("reply = %+v", reply)
	}
	if f.count("main/setVolume?volume=30") != 1 {
		t.Errorf("requests = %v, want one setVolume?volume=30", f.requests)
	}
	if z.volume != 30 {
		t.Errorf("native cache = %d, want 30", z.volume)
	}
	if got := z.State().Volume; got != 50 {
		t.Errorf("normalized volume = %d, want 50", got)
	}
	if !z.statusPending {
		t.Error("state-changing command should flag a settle refresh")
	}

	// Out-of-range request is clamped before it reaches the device.
	if _, err := z.SetVolume(ctx, 120); err != nil {
		t.Fatalf("SetVolume() error = %v", err)
	}
	if f.count("main/setVolume?volume=60") != 1 {
		t.Errorf("requests = %v, want setVolume clamped to 60", f.requests)
	}
}

func TestZone_SetVolumeCacheOnlyAfterSuccess(t *testing.T) {
	d, f := newNarrowRangeDevice(t, "ABC123", nil)
	z := d.zone("main")

	f.set("main/setVolume?volume=54", `{"response_code":4}`)
	_, err := z.SetVolume(context.Background(), 90)
	if !errors.Is(err, ErrComms) {
		t.Fatalf("SetVolume() error = %v, want ErrComms", err)
	}
	if z.volume != 30 {
		t.Errorf("cache = %d after failed request, want untouched 30", z.volume)
	}
}

func TestZone_StepVolumeClamps(t *testing.T) {
	d, f := newNarrowRangeDevice(t, "ABC123", nil)
	z := d.zone("main")
	ctx := context.Background()

	z.volume = 59
	if _, err := z.StepVolume(ctx, true); err != nil {
		t.Fatalf("StepVolume() error = %v", err)
	}
	if f.count("main/setVolume?volume=up") != 1 {
		t.Errorf("requests = %v, want setVolume?volume=up", f.requests)
	}
	if z.volume != 60 {
		t.Errorf("native cache = %d, want 60 (clamped)", z.volume)
	}
	if got := z.State().Volume; got != 100 {
		t.Errorf("normalized volume = %d, want 100", got)
	}

	// Another step up stays pinned at the ceiling.
	if _, err := z.StepVolume(ctx, true); err != nil {
		t.Fatalf("StepVolume() error = %v", err)
	}
	if z.volume != 60 {
		t.Errorf("native cache = %d, want still 60", z.volume)
	}

	if _, err := z.StepVolume(ctx, false); err != nil {
		t.Fatalf("StepVolume() error = %v", err)
	}
	if z.volume != 59 {
		t.Errorf("native cache = %d after step down, want 59", z.volume)
	}
}

func TestZone_CommandsRequirePower(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("zone2") // standby in the fixture
	ctx := context.Background()

	if _, err := z.SetVolume(ctx, 10); !errors.Is(err, ErrLogic) {
		t.Errorf("SetVolume() on zone in standby = %v, want ErrLogic", err)
	}
	if _, err := z.SetMute(ctx, true); !errors.Is(err, ErrLogic) {
		t.Errorf("SetMute() on zone in standby = %v, want ErrLogic", err)
	}
	if _, err := z.SetInput(ctx, "cd"); !errors.Is(err, ErrLogic) {
		t.Errorf("SetInput() on zone in standby = %v, want ErrLogic", err)
	}
	// Power itself works from standby.
	if _, err := z.SetPower(ctx, true); err != nil {
		t.Errorf("SetPower() error = %v", err)
	}
}

func TestZone_SetInputUnknown(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main")

	_, err := z.SetInput(context.Background(), "phono")
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("SetInput(unknown) error = %v, want ErrLogic", err)
	}
	if f.count("main/setInput?input=phono") != 0 {
		t.Error("unknown input must be rejected before any request")
	}
}

func TestZone_ExecuteUnknownAction(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main")

	_, err := z.Execute(context.Background(), Action("DO_THE_THING"), nil)
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("Execute(unknown) error = %v, want ErrLogic", err)
	}
}

func TestZone_ExecuteMissingArgument(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main")

	_, err := z.Execute(context.Background(), ActionSetVolume, Arguments{})
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("Execute without volume argument = %v, want ErrLogic", err)
	}
}

// =============================================================================
// Source resolution
// =============================================================================

// twoDeviceRig wires LOCAL01's av1 input to REMOTE01's main zone.
func twoDeviceRig(t *testing.T, amplified bool) (local, remote *Device, localAPI, remoteAPI *fakeAPI) {
	t.Helper()
	topoRemote := DeviceTopology{ID: "REMOTE01", MusicCast: true}
	if amplified {
		topoRemote.AmplifiedZones = []string{"main"}
	}
	topo := &Topology{Devices: []DeviceTopology{
		{ID: "LOCAL01", MusicCast: true, Feeds: []FeedWiring{
			{Input: "av1", RemoteDevice: "REMOTE01", RemoteZone: "main"},
		}},
		topoRemote,
	}}

	localAPI = newFakeAPI(t, "LOCAL01")
	localAPI.set("system/getFeatures", narrowRangeFeatures)
	localAPI.set("main/getStatus",
		`{"response_code":0,"power":"on","volume":30,"mute":false,"input":"net_radio"}`)
	local = newTestDevice(t, "LOCAL01", topo, localAPI, DeviceOptions{})

	remoteAPI = newFakeAPI(t, "REMOTE01")
	remote = newTestDevice(t, "REMOTE01", topo, remoteAPI, DeviceOptions{})

	reg := NewRegistry()
	reg.Add(local)
	reg.Add(remote)
	local.ResolveFeeds(reg)
	remote.ResolveFeeds(reg)
	return local, remote, localAPI, remoteAPI
}

func TestZone_SetSourcePrefersLocal(t *testing.T) {
	local, remote, localAPI, _ := twoDeviceRig(t, false)
	// Both the local device and the remote offer spotify; locality wins.
	remote.zone("main").power = true
	remote.zone("main").inputID = "spotify"

	z := local.zone("main")
	reply, err := z.SetSource(context.Background(), "spotify")
	if err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if reply.Response != "OK" {
		t.Errorf("reply = %+v", reply)
	}
	if localAPI.count("main/setInput?input=spotify") != 1 {
		t.Errorf("requests = %v, want local setInput?input=spotify", localAPI.requests)
	}
	if z.inputID != "spotify" {
		t.Errorf("input = %q, want spotify", z.inputID)
	}
}

func TestZone_SetSourceJoinsPlayingRemote(t *testing.T) {
	local, remote, localAPI, remoteAPI := twoDeviceRig(t, false)
	// cd exists only on the remote, which is already playing it.
	remote.zone("main").power = true
	remote.zone("main").inputID = "cd"

	z := local.zone("main")
	if _, err := z.SetSource(context.Background(), "cd"); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if localAPI.count("main/setInput?input=av1") != 1 {
		t.Errorf("local requests = %v, want setInput?input=av1", localAPI.requests)
	}
	// Joining must not disturb the remote.
	if remoteAPI.count("main/setInput?input=cd") != 0 {
		t.Error("joining a playing remote must not re-set its input")
	}
}

func TestZone_SetSourceForcesBusyRemote(t *testing.T) {
	local, remote, localAPI, remoteAPI := twoDeviceRig(t, false)
	remote.zone("main").power = true
	remote.zone("main").inputID = "tuner"

	z := local.zone("main")
	if _, err := z.SetSource(context.Background(), "cd"); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if remoteAPI.count("main/setInput?input=cd") != 1 {
		t.Errorf("remote requests = %v, want setInput?input=cd", remoteAPI.requests)
	}
	if localAPI.count("main/setInput?input=av1") != 1 {
		t.Errorf("local requests = %v, want setInput?input=av1", localAPI.requests)
	}
}

func TestZone_SetSourceWakesIdleRemote(t *testing.T) {
	// End to end: spotify lives only on the remote, remote is off and not
	// location-dedicated. It gets powered on, tuned, and fed.
	local, remote, localAPI, remoteAPI := twoDeviceRig(t, false)
	rz := remote.zone("main")
	rz.power = false

	z := local.zone("main")
	if _, err := z.SetSource(context.Background(), "cd"); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if remoteAPI.count("main/setPower?power=on") != 1 {
		t.Errorf("remote requests = %v, want setPower?power=on", remoteAPI.requests)
	}
	if remoteAPI.count("main/setInput?input=cd") != 1 {
		t.Errorf("remote requests = %v, want setInput?input=cd", remoteAPI.requests)
	}
	if localAPI.count("main/setInput?input=av1") != 1 {
		t.Errorf("local requests = %v, want setInput?input=av1", localAPI.requests)
	}
	if !rz.power || rz.inputID != "cd" {
		t.Errorf("remote zone state = power %v input %q, want on/cd", rz.power, rz.inputID)
	}
}

func TestZone_SetSourceNeverWakesAmplifiedZone(t *testing.T) {
	local, remote, _, remoteAPI := twoDeviceRig(t, true)
	remote.zone("main").power = false

	z := local.zone("main")
	_, err := z.SetSource(context.Background(), "cd")
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("SetSource() error = %v, want ErrLogic", err)
	}
	if remoteAPI.count("main/setPower?power=on") != 0 {
		t.Error("a location-dedicated zone must never be powered on as a side effect")
	}
}

func TestZone_SetSourceBlindFallback(t *testing.T) {
	topo := &Topology{Devices: []DeviceTopology{
		{ID: "LOCAL01", MusicCast: true, Feeds: []FeedWiring{
			{Input: "av1", RemoteDevice: "turntable", RemoteZone: "main"},
		}},
		{ID: "turntable", Sources: []string{"vinyl"}},
	}}
	f := newFakeAPI(t, "LOCAL01")
	f.set("system/getFeatures", narrowRangeFeatures)
	f.set("main/getStatus",
		`{"response_code":0,"power":"on","volume":30,"mute":false,"input":"net_radio"}`)
	local := newTestDevice(t, "LOCAL01", topo, f, DeviceOptions{})
	reg := NewRegistry()
	reg.Add(local)
	local.ResolveFeeds(reg)

	z := local.zone("main")
	if _, err := z.SetSource(context.Background(), "vinyl"); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if f.count("main/setInput?input=av1") != 1 {
		t.Errorf("requests = %v, want setInput?input=av1", f.requests)
	}

	// A source nobody declares is a logic error.
	if _, err := z.SetSource(context.Background(), "cassette"); !errors.Is(err, ErrLogic) {
		t.Errorf("SetSource(unknown) = %v, want ErrLogic", err)
	}
}

// =============================================================================
// Playback and presets
// =============================================================================

func TestZone_PlaybackLocal(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main")
	z.inputID = "spotify"

	if _, err := z.Playback(context.Background(), "play_pause", "spotify"); err != nil {
		t.Fatalf("Playback() error = %v", err)
	}
	if f.count("netusb/setPlayback?playback=play_pause") != 1 {
		t.Errorf("requests = %v, want netusb/setPlayback", f.requests)
	}
}

func TestZone_PlaybackSourceMismatch(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main") // fixture input is net_radio

	_, err := z.Playback(context.Background(), "stop", "cd")
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("Playback() with mismatched source = %v, want ErrLogic", err)
	}
	if f.count("cd/setPlayback?playback=stop") != 0 {
		t.Error("mismatched source must be rejected before any request")
	}
}

func TestZone_PlaybackThroughFeed(t *testing.T) {
	local, remote, _, remoteAPI := twoDeviceRig(t, false)
	remote.zone("main").power = true
	remote.zone("main").inputID = "cd"
	z := local.zone("main")
	z.inputID = "av1"

	if _, err := z.Playback(context.Background(), "pause", "cd"); err != nil {
		t.Fatalf("Playback() error = %v", err)
	}
	if remoteAPI.count("cd/setPlayback?playback=pause") != 1 {
		t.Errorf("remote requests = %v, want cd/setPlayback?playback=pause", remoteAPI.requests)
	}
}

func TestZone_RecallPreset(t *testing.T) {
	f := newFakeAPI(t, "ABC123")
	d := newTestDevice(t, "ABC123", nil, f, DeviceOptions{})
	z := d.zone("main")
	z.inputID = "tuner"

	if _, err := z.RecallPreset(context.Background(), "tuner", 3); err != nil {
		t.Fatalf("RecallPreset() error = %v", err)
	}
	if f.count("tuner/recallPreset?zone=main&band=common&num=3") != 1 {
		t.Errorf("requests = %v, want tuner recallPreset", f.requests)
	}

	// Out of range is rejected locally.
	if _, err := z.RecallPreset(context.Background(), "tuner", 99); !errors.Is(err, ErrLogic) {
		t.Errorf("RecallPreset(99) = %v, want ErrLogic", err)
	}

	// net_radio presets go through netusb with an empty band.
	z.inputID = "net_radio"
	if _, err := z.RecallPreset(context.Background(), "net_radio", 7); err != nil {
		t.Fatalf("RecallPreset() error = %v", err)
	}
	if f.count("netusb/recallPreset?zone=main&band=&num=7") != 1 {
		t.Errorf("requests = %v, want netusb recallPreset", f.requests)
	}

	// spotify has no presets.
	z.inputID = "spotify"
	if _, err := z.RecallPreset(context.Background(), "spotify", 1); !errors.Is(err, ErrLogic) {
		t.Errorf("RecallPreset() on spotify = %v, want ErrLogic", err)
	}
}

func TestZone_Sources(t *testing.T) {
	local, remote, _, _ := twoDeviceRig(t, false)
	_ = remote
	reply, err := local.zone("main").Sources()
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	ids, ok := reply.Data.([]string)
	if !ok {
		t.Fatalf("Data is %T, want []string", reply.Data)
	}
	want := map[string]bool{"net_radio": true, "spotify": true, "cd": true, "tuner": true}
	got := make(map[string]bool)
	for _, id := range ids {
		got[id] = true
	}
	for id := range want {
		if !got[id] {
			t.Errorf("Sources() = %v, missing %q", ids, id)
		}
	}
}
