package musiccast

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Zone is one independently controllable audio output on a device.
//
// Volume crosses the package boundary only in the normalized 0-100 domain;
// the device-native scale (volumeMin..volumeMax) never leaves this file.
//
// A zone is owned by its device's actor loop. The actor holds the device
// state lock while processing a task; a remote actor takes the same lock
// only inside source resolution.
type Zone struct {
	// ID is the vendor zone id: "main", "zone2", "zone3" or "zone4".
	ID string

	device *Device
	index  int

	// volume is cached in native device units; the normalized 0-100 view
	// is derived on demand. Caching the native value keeps relative steps
	// exact where a normalized cache would lose precision to truncation.
	power   bool
	volume  int
	mute    bool
	inputID string

	status     map[string]any
	statusTime time.Time

	// statusPending asks the actor for a settle-delay refresh after the
	// current command completes.
	statusPending bool

	volumeMin   int
	volumeMax   int
	volumeStep  int
	volumeRange int
}

// ZoneState is an immutable snapshot handed to state observers.
type ZoneState struct {
	DeviceID string `json:"device_id"`
	Zone     string `json:"zone"`
	Power    bool   `json:"power"`
	Volume   int    `json:"volume"`
	Mute     bool   `json:"mute"`
	Input    string `json:"input"`
}

// newZone builds a zone from the device's capability tree. A zero native
// volume range is a configuration error, not a runtime crash waiting in
// the volume transform.
func newZone(device *Device, zoneID string, index int) (*Zone, error) {
	z := &Zone{ID: zoneID, device: device, index: index}

	rangeStep, err := device.features.Get("zone", Pair{"id", zoneID}, "range_step", Pair{"id", "volume"})
	if err != nil {
		return nil, err
	}
	volumeData, ok := rangeStep.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: zone %s volume range_step is not an object", ErrComms, zoneID)
	}
	z.volumeMin, err = intField(volumeData, "min")
	if err != nil {
		return nil, err
	}
	z.volumeMax, err = intField(volumeData, "max")
	if err != nil {
		return nil, err
	}
	z.volumeStep, err = intField(volumeData, "step")
	if err != nil {
		return nil, err
	}
	z.volumeRange = z.volumeMax - z.volumeMin
	if z.volumeRange <= 0 {
		return nil, fmt.Errorf("%w: zone %s has volume range %d", ErrConfig, zoneID, z.volumeRange)
	}
	return z, nil
}

// State returns a snapshot of the zone.
func (z *Zone) State() ZoneState {
	return ZoneState{
		DeviceID: z.device.ID,
		Zone:     z.ID,
		Power:    z.power,
		Volume:   z.volumeFromNative(z.volume),
		Mute:     z.mute,
		Input:    z.inputID,
	}
}

// =============================================================================
// Argument transforms
// =============================================================================

func powerToNative(on bool) string {
	if on {
		return "on"
	}
	return "standby"
}

func powerFromNative(v any) (bool, error) {
	s, ok := v.(string)
	if !ok {
		return false, fmt.Errorf("%w: power value is %T, want string", ErrComms, v)
	}
	return s == "on", nil
}

func muteToNative(mute bool) string {
	if mute {
		return "true"
	}
	return "false"
}

func muteFromNative(v any) (bool, error) {
	switch m := v.(type) {
	case bool:
		return m, nil
	case string:
		return m == "true", nil
	default:
		return false, fmt.Errorf("%w: mute value is %T, want bool or string", ErrComms, v)
	}
}

// volumeToNative converts normalized 0-100 to the device scale with
// integer truncation.
func (z *Zone) volumeToNative(internal int) int {
	return internal * z.volumeRange / 100
}

// volumeFromNative converts the device scale back to normalized 0-100 with
// integer truncation.
func (z *Zone) volumeFromNative(native int) int {
	return native * 100 / z.volumeRange
}

// clampNative bounds a native volume to [min, min+range].
func (z *Zone) clampNative(native int) int {
	return min(max(native, z.volumeMin), z.volumeMin+z.volumeRange)
}

// =============================================================================
// Status refresh and update mutators
// =============================================================================

// Refresh re-reads the zone status from the device. The four expected
// fields must all be present; a missing one is a protocol error, never
// silently skipped.
func (z *Zone) Refresh(ctx context.Context) error {
	status, err := z.device.conn.Request(ctx, z.ID, "getStatus")
	if err != nil {
		return err
	}
	z.status = status
	z.statusTime = time.Now()

	changed := false
	for _, field := range []string{"power", "volume", "mute", "input"} {
		value, ok := status[field]
		if !ok {
			return fmt.Errorf("%w: getStatus on zone %s is missing field %q", ErrComms, z.ID, field)
		}
		var c bool
		switch field {
		case "power":
			c, err = z.UpdatePower(value)
		case "volume":
			c, err = z.UpdateVolume(value)
		case "mute":
			c, err = z.UpdateMute(value)
		case "input":
			c, err = z.UpdateInput(value)
		}
		if err != nil {
			return err
		}
		changed = changed || c
	}
	z.statusPending = false
	if changed {
		z.notify()
	}
	return nil
}

// UpdatePower absorbs a native power value. Returns whether the cached
// state changed; the cache is always overwritten regardless.
func (z *Zone) UpdatePower(native any) (bool, error) {
	power, err := powerFromNative(native)
	if err != nil {
		return false, err
	}
	if z.power == power {
		return false, nil
	}
	z.power = power
	return true, nil
}

// UpdateVolume absorbs a native volume value.
func (z *Zone) UpdateVolume(native any) (bool, error) {
	n, err := asInt(native)
	if err != nil {
		return false, err
	}
	if z.volume == n {
		return false, nil
	}
	z.volume = n
	return true, nil
}

// UpdateMute absorbs a native mute value.
func (z *Zone) UpdateMute(native any) (bool, error) {
	mute, err := muteFromNative(native)
	if err != nil {
		return false, err
	}
	if z.mute == mute {
		return false, nil
	}
	z.mute = mute
	return true, nil
}

// UpdateInput absorbs a native input id. An id the device does not declare
// is ignored (no change reported).
func (z *Zone) UpdateInput(native any) (bool, error) {
	id, ok := native.(string)
	if !ok {
		return false, fmt.Errorf("%w: input value is %T, want string", ErrComms, native)
	}
	if !z.device.hasInput(id) {
		return false, nil
	}
	if z.inputID == id {
		return false, nil
	}
	z.inputID = id
	return true, nil
}

// notify hands a state snapshot to the device's state observer.
func (z *Zone) notify() {
	z.device.notifyState(z.State())
}

// =============================================================================
// Setters (command path)
// =============================================================================

// requirePowerOn fails with a logic error when the zone is off.
func (z *Zone) requirePowerOn() error {
	if !z.power {
		return fmt.Errorf("%w: zone %s of device %s is not turned on", ErrLogic, z.ID, z.device.Name())
	}
	return nil
}

// SetPower switches the zone on or to standby.
func (z *Zone) SetPower(ctx context.Context, on bool) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	native := powerToNative(on)
	if _, err := z.device.conn.Request(ctx, z.ID, "setPower?power="+native); err != nil {
		return Reply{}, err
	}
	if changed, _ := z.UpdatePower(native); changed {
		z.notify()
	}
	z.statusPending = true
	return Reply{Response: "OK", Reason: "power is " + native}, nil
}

// SetVolume sets the normalized volume. The native value is clamped to the
// device range before the request; the cache updates only after the
// request succeeds.
func (z *Zone) SetVolume(ctx context.Context, volume int) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}
	native := z.clampNative(z.volumeToNative(volume))
	if _, err := z.device.conn.Request(ctx, z.ID, "setVolume?volume="+strconv.Itoa(native)); err != nil {
		return Reply{}, err
	}
	if changed, _ := z.UpdateVolume(native); changed {
		z.notify()
	}
	z.statusPending = true
	return Reply{Response: "OK", Reason: "volume is " + strconv.Itoa(z.volumeFromNative(z.volume))}, nil
}

// StepVolume nudges the volume one device step up or down, using the
// vendor's relative setVolume form. The cached native value is stepped
// and clamped locally.
func (z *Zone) StepVolume(ctx context.Context, up bool) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}
	direction := "down"
	if up {
		direction = "up"
	}
	if _, err := z.device.conn.Request(ctx, z.ID, "setVolume?volume="+direction); err != nil {
		return Reply{}, err
	}
	native := z.volume
	if up {
		native += z.volumeStep
	} else {
		native -= z.volumeStep
	}
	native = z.clampNative(native)
	if changed, _ := z.UpdateVolume(native); changed {
		z.notify()
	}
	z.statusPending = true
	return Reply{Response: "OK", Reason: "volume is " + strconv.Itoa(z.volumeFromNative(z.volume))}, nil
}

// SetMute sets the mute state.
func (z *Zone) SetMute(ctx context.Context, mute bool) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}
	native := muteToNative(mute)
	if _, err := z.device.conn.Request(ctx, z.ID, "setMute?enable="+native); err != nil {
		return Reply{}, err
	}
	if changed, _ := z.UpdateMute(native); changed {
		z.notify()
	}
	z.statusPending = true
	return Reply{Response: "OK", Reason: "mute is " + native}, nil
}

// SetInput switches the zone's input. No source start/tune is performed
// here; use SetSource for that.
func (z *Zone) SetInput(ctx context.Context, inputID string) (Reply, error) {
	if !z.device.hasInput(inputID) {
		return Reply{}, fmt.Errorf("%w: device %s has no input %q", ErrLogic, z.device.Name(), inputID)
	}
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}
	if _, err := z.device.conn.Request(ctx, z.ID, "setInput?input="+inputID); err != nil {
		return Reply{}, err
	}
	if changed, _ := z.UpdateInput(inputID); changed {
		z.notify()
	}
	z.statusPending = true
	return Reply{Response: "OK", Reason: "input is " + inputID}, nil
}

// Inputs lists the ids of every input on the zone's device.
func (z *Zone) Inputs() (Reply, error) {
	ids := z.device.inputIDs()
	return Reply{Response: "OK", Reason: "inputs listed", Data: ids}, nil
}

// Sources lists every source id reachable from this zone: the device's
// own sources plus everything its feeds can deliver.
func (z *Zone) Sources() (Reply, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, src := range z.device.sourceList() {
		add(src.ID)
	}
	for _, feed := range z.device.feedList() {
		if feed.Resolved() {
			remote := feed.remoteDevice
			remote.mu.Lock()
			for _, src := range remote.sourceList() {
				add(src.ID)
			}
			remote.mu.Unlock()
			continue
		}
		for _, id := range feed.remoteSources {
			add(id)
		}
	}
	return Reply{Response: "OK", Reason: "sources listed", Data: ids}, nil
}

// =============================================================================
// Source resolution
// =============================================================================

// SetSource resolves which physical input delivers sourceID to this zone
// and switches to it. The search encodes a strict priority: prefer
// locality, then verifiable joins over forced switches, then not
// disturbing an occupied location, and treat unmanaged devices as a last
// resort with no feedback loop.
func (z *Zone) SetSource(ctx context.Context, sourceID string) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}

	// 1. Same device: switch directly to the local source.
	if src := z.device.source(sourceID); src != nil {
		return z.SetInput(ctx, src.ID)
	}

	feeds := z.device.feedList()

	// 2. A remote zone already playing the source: join in progress.
	for _, feed := range feeds {
		ok, err := z.tryRemoteFeed(ctx, feed, sourceID, remoteJoin)
		if err != nil {
			return Reply{}, err
		}
		if ok {
			return z.SetInput(ctx, feed.ID)
		}
	}

	// 3. A remote zone busy with something else: switch it over.
	for _, feed := range feeds {
		ok, err := z.tryRemoteFeed(ctx, feed, sourceID, remoteForce)
		if err != nil {
			return Reply{}, err
		}
		if ok {
			return z.SetInput(ctx, feed.ID)
		}
	}

	// 4. A remote zone powered off, as long as it is not dedicated to a
	// physical location.
	for _, feed := range feeds {
		ok, err := z.tryRemoteFeed(ctx, feed, sourceID, remoteWake)
		if err != nil {
			return Reply{}, err
		}
		if ok {
			return z.SetInput(ctx, feed.ID)
		}
	}

	// 5. Fallback: a non-MusicCast remote declaring the source. A blind
	// switch with no verification possible on the unmanaged device.
	for _, feed := range feeds {
		if feed.Resolved() {
			continue
		}
		if feed.RemoteDeclares(sourceID) {
			return z.SetInput(ctx, feed.ID)
		}
	}

	return Reply{}, fmt.Errorf("%w: no available source %q for zone %s of device %s",
		ErrLogic, sourceID, z.ID, z.device.Name())
}

// remoteMode selects which remote-zone situation tryRemoteFeed accepts.
type remoteMode int

const (
	// remoteJoin accepts a powered-on remote zone already playing the source.
	remoteJoin remoteMode = iota
	// remoteForce accepts a powered-on remote zone playing something else
	// and switches its input.
	remoteForce
	// remoteWake accepts a powered-off, non-amplified remote zone and
	// powers it on.
	remoteWake
)

// tryRemoteFeed checks one feed's remote zone against the wanted source in
// the given mode, performing any remote mutation needed. The remote
// device's state lock is held for the whole inspect-and-mutate window.
func (z *Zone) tryRemoteFeed(ctx context.Context, feed *Feed, sourceID string, mode remoteMode) (bool, error) {
	if !feed.Resolved() {
		return false, nil
	}
	remote := feed.remoteDevice
	if !remote.Operable() {
		return false, nil
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()

	src := remote.source(sourceID)
	if src == nil {
		return false, nil
	}
	rz := remote.zone(feed.RemoteZoneID)
	if rz == nil {
		return false, nil
	}

	switch mode {
	case remoteJoin:
		return rz.power && rz.inputID == src.ID, nil

	case remoteForce:
		if !rz.power || rz.inputID == src.ID {
			return false, nil
		}
		if _, err := rz.SetInput(ctx, src.ID); err != nil {
			return false, err
		}
		remote.scheduleSettleLocked()
		return true, nil

	case remoteWake:
		if rz.power || feed.remoteAmplified {
			return false, nil
		}
		if _, err := rz.SetPower(ctx, true); err != nil {
			return false, err
		}
		if _, err := rz.SetInput(ctx, src.ID); err != nil {
			return false, err
		}
		remote.scheduleSettleLocked()
		return true, nil
	}
	return false, nil
}

// =============================================================================
// Playback and presets
// =============================================================================

// Playback triggers a play-back action (play, stop, pause, play_pause,
// previous, next) on the zone controlling sourceID. The controlling zone
// is the one that owns the currently selected input's source, possibly a
// remote zone one feed hop away. The live source must match sourceID or
// the command is rejected before any request is sent.
func (z *Zone) Playback(ctx context.Context, playback, sourceID string) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}

	// Local source selected on this zone.
	if src := z.device.source(z.inputID); src != nil {
		if src.ID != sourceID {
			return Reply{}, fmt.Errorf("%w: cannot operate source %q while device %s is playing %q",
				ErrLogic, sourceID, z.device.Name(), src.ID)
		}
		qualifier := string(src.playInfo.Type())
		if _, err := z.device.conn.Request(ctx, qualifier, "setPlayback?playback="+playback); err != nil {
			return Reply{}, err
		}
		return Reply{Response: "OK", Reason: "playback set to " + playback}, nil
	}

	// A feed: the controlling zone is one hop away.
	feed := z.device.feed(z.inputID)
	if feed == nil || !feed.Resolved() {
		return Reply{}, fmt.Errorf("%w: input %q of zone %s does not control source %q",
			ErrLogic, z.inputID, z.ID, sourceID)
	}
	remote := feed.remoteDevice
	if !remote.Operable() {
		return Reply{}, fmt.Errorf("%w: remote device %s is not operable", ErrLogic, remote.Name())
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()

	rz := remote.zone(feed.RemoteZoneID)
	src := remote.source(sourceID)
	if rz == nil || src == nil || !rz.power || rz.inputID != src.ID {
		return Reply{}, fmt.Errorf("%w: remote zone is not playing source %q", ErrLogic, sourceID)
	}
	qualifier := string(src.playInfo.Type())
	if _, err := remote.conn.Request(ctx, qualifier, "setPlayback?playback="+playback); err != nil {
		return Reply{}, err
	}
	return Reply{Response: "OK", Reason: "playback set to " + playback}, nil
}

// RecallPreset recalls a stored preset on the zone controlling sourceID.
// Band selection and bounds checking are delegated to the source's
// play-info type; an out-of-range preset is rejected before any request.
func (z *Zone) RecallPreset(ctx context.Context, sourceID string, num int) (Reply, error) {
	if err := z.device.requireOperable(); err != nil {
		return Reply{}, err
	}
	if err := z.requirePowerOn(); err != nil {
		return Reply{}, err
	}

	if src := z.device.source(z.inputID); src != nil {
		if src.ID != sourceID {
			return Reply{}, fmt.Errorf("%w: cannot preset %q while device %s is playing %q",
				ErrLogic, sourceID, z.device.Name(), src.ID)
		}
		return z.recallPresetOn(ctx, z.device, z.ID, src, num)
	}

	feed := z.device.feed(z.inputID)
	if feed == nil || !feed.Resolved() {
		return Reply{}, fmt.Errorf("%w: input %q of zone %s does not control source %q",
			ErrLogic, z.inputID, z.ID, sourceID)
	}
	remote := feed.remoteDevice
	if !remote.Operable() {
		return Reply{}, fmt.Errorf("%w: remote device %s is not operable", ErrLogic, remote.Name())
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()

	rz := remote.zone(feed.RemoteZoneID)
	src := remote.source(sourceID)
	if rz == nil || src == nil || !rz.power || rz.inputID != src.ID {
		return Reply{}, fmt.Errorf("%w: remote zone is not playing source %q", ErrLogic, sourceID)
	}
	return z.recallPresetOn(ctx, remote, rz.ID, src, num)
}

// recallPresetOn issues the recallPreset request on dev for the given
// controlling zone and source.
func (z *Zone) recallPresetOn(ctx context.Context, dev *Device, zoneID string, src *Source, num int) (Reply, error) {
	band, err := src.playInfo.PresetBand(src.ID, num)
	if err != nil {
		return Reply{}, err
	}
	qualifier := string(src.playInfo.Type())
	command := fmt.Sprintf("recallPreset?zone=%s&band=%s&num=%d", zoneID, band, num)
	if _, err := dev.conn.Request(ctx, qualifier, command); err != nil {
		return Reply{}, err
	}
	return Reply{Response: "OK", Reason: fmt.Sprintf("preset %s to number %d", src.ID, num)}, nil
}

// =============================================================================
// Command execution
// =============================================================================

// Execute runs one action against the zone. Unknown actions are logic
// errors surfaced to the caller; they never kill the device.
func (z *Zone) Execute(ctx context.Context, action Action, args Arguments) (Reply, error) {
	switch action {
	case ActionPowerOn:
		return z.SetPower(ctx, true)
	case ActionPowerOff:
		return z.SetPower(ctx, false)

	case ActionSetVolume:
		volume, err := args.Int("volume")
		if err != nil {
			return Reply{}, err
		}
		return z.SetVolume(ctx, volume)
	case ActionVolumeUp:
		return z.StepVolume(ctx, true)
	case ActionVolumeDown:
		return z.StepVolume(ctx, false)

	case ActionMuteOn:
		return z.SetMute(ctx, true)
	case ActionMuteOff:
		return z.SetMute(ctx, false)
	case ActionMuteToggle:
		return z.SetMute(ctx, !z.mute)

	case ActionGetInputs:
		return z.Inputs()
	case ActionSetInput:
		input, err := args.String("input")
		if err != nil {
			return Reply{}, err
		}
		return z.SetInput(ctx, input)
	case ActionInputCD:
		return z.SetInput(ctx, "cd")
	case ActionInputNetRadio:
		return z.SetInput(ctx, "net_radio")
	case ActionInputTuner:
		return z.SetInput(ctx, "tuner")
	case ActionInputSpotify:
		return z.SetInput(ctx, "spotify")

	case ActionGetSources:
		return z.Sources()
	case ActionSetSource:
		source, err := args.String("source")
		if err != nil {
			return Reply{}, err
		}
		return z.SetSource(ctx, source)
	case ActionSourceCD:
		return z.SetSource(ctx, "cd")
	case ActionSourceNetRadio:
		return z.SetSource(ctx, "net_radio")
	case ActionSourceTuner:
		return z.SetSource(ctx, "tuner")
	case ActionSourceSpotify:
		return z.SetSource(ctx, "spotify")

	case ActionCDBack:
		return z.Playback(ctx, "previous", "cd")
	case ActionCDForward:
		return z.Playback(ctx, "next", "cd")
	case ActionCDPause:
		return z.Playback(ctx, "pause", "cd")
	case ActionCDPlay:
		return z.Playback(ctx, "play", "cd")
	case ActionCDStop:
		return z.Playback(ctx, "stop", "cd")

	case ActionSpotifyPlayPause:
		return z.Playback(ctx, "play_pause", "spotify")
	case ActionSpotifyBack:
		return z.Playback(ctx, "previous", "spotify")
	case ActionSpotifyForward:
		return z.Playback(ctx, "next", "spotify")

	case ActionTunerPreset:
		num, err := args.Int("preset")
		if err != nil {
			return Reply{}, err
		}
		return z.RecallPreset(ctx, "tuner", num)
	case ActionNetRadioPreset:
		num, err := args.Int("preset")
		if err != nil {
			return Reply{}, err
		}
		return z.RecallPreset(ctx, "net_radio", num)
	}

	return Reply{}, fmt.Errorf("%w: action %q not found", ErrLogic, action)
}

// intField reads an integer field from a decoded JSON object.
func intField(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrComms, key)
	}
	return asInt(v)
}
