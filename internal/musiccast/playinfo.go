package musiccast

import (
	"context"
	"fmt"
)

// PlayType identifies a class of sources sharing playback metadata.
type PlayType string

// The three play-info groups of the vendor API.
const (
	PlayTypeTuner  PlayType = "tuner"
	PlayTypeCD     PlayType = "cd"
	PlayTypeNetUSB PlayType = "netusb"
)

// PlayInfo holds playback metadata that the vendor API exposes per group of
// sources rather than per source. The netusb group covers server, net_radio
// and all streaming services; tuner and cd cover themselves. Exactly one
// instance exists per (device, type) pair, built at device initialization.
type PlayInfo interface {
	// Type returns the group this instance covers.
	Type() PlayType

	// RefreshPlayInfo re-reads the getPlayInfo structure.
	RefreshPlayInfo(ctx context.Context) error

	// RefreshPresetInfo re-reads the preset list. Only tuner and netusb
	// have presets; elsewhere this is a logic error.
	RefreshPresetInfo(ctx context.Context) error

	// UpdatePlayTime absorbs a play_time event value (cd and netusb only).
	UpdatePlayTime(value any) error

	// UpdatePlayMessage absorbs a play_message event value (netusb only).
	UpdatePlayMessage(value any) error

	// PresetBand validates a preset number against the device's preset
	// count and returns the band argument for recallPreset. sourceID is
	// the source requesting the recall.
	PresetBand(sourceID string, num int) (string, error)
}

// playInfoBase carries the state and defaults shared by all three types.
type playInfoBase struct {
	typ      PlayType
	conn     *Conn
	playInfo map[string]any
}

func (p *playInfoBase) Type() PlayType { return p.typ }

func (p *playInfoBase) RefreshPlayInfo(ctx context.Context) error {
	info, err := p.conn.Request(ctx, string(p.typ), "getPlayInfo")
	if err != nil {
		return err
	}
	p.playInfo = info
	return nil
}

func (p *playInfoBase) RefreshPresetInfo(context.Context) error {
	return fmt.Errorf("%w: type %s does not have preset info", ErrLogic, p.typ)
}

func (p *playInfoBase) UpdatePlayTime(any) error {
	return fmt.Errorf("%w: type %s does not have play time info", ErrLogic, p.typ)
}

func (p *playInfoBase) UpdatePlayMessage(any) error {
	return fmt.Errorf("%w: type %s does not have play message info", ErrLogic, p.typ)
}

func (p *playInfoBase) PresetBand(sourceID string, _ int) (string, error) {
	return "", fmt.Errorf("%w: source %s does not have presets", ErrLogic, sourceID)
}

// TunerInfo is the tuner group. Devices declare their preset layout in the
// capability tree: a "separate" preset type keeps one preset list per band
// (am/fm/dab), a "common" one shares a single list.
type TunerInfo struct {
	playInfoBase
	presetSeparate bool
	bands          []string
	maxPresets     int
	presetInfo     []any
}

func newTunerInfo(ctx context.Context, conn *Conn, features *Features) (*TunerInfo, error) {
	t := &TunerInfo{playInfoBase: playInfoBase{typ: PlayTypeTuner, conn: conn}}

	presetType, err := features.GetString("tuner", "preset", "type")
	if err != nil {
		return nil, err
	}
	t.presetSeparate = presetType == "separate"
	if t.presetSeparate {
		funcList, err := features.GetStringList("tuner", "func_list")
		if err != nil {
			return nil, err
		}
		for _, band := range funcList {
			if band == "am" || band == "fm" || band == "dab" {
				t.bands = append(t.bands, band)
			}
		}
	}
	t.maxPresets, err = features.GetInt("tuner", "preset", "num")
	if err != nil {
		return nil, err
	}
	if err := t.RefreshPresetInfo(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// RefreshPresetInfo concatenates the per-band preset lists when the device
// keeps separate presets; every returned element names its own band.
func (t *TunerInfo) RefreshPresetInfo(ctx context.Context) error {
	if t.presetSeparate {
		var presets []any
		for _, band := range t.bands {
			resp, err := t.conn.Request(ctx, "tuner", "getPresetInfo?band="+band)
			if err != nil {
				return err
			}
			info, ok := resp["preset_info"].([]any)
			if !ok {
				return fmt.Errorf("%w: getPresetInfo did not return a preset_info field", ErrComms)
			}
			presets = append(presets, info...)
		}
		// update only after all bands worked
		t.presetInfo = presets
		return nil
	}

	resp, err := t.conn.Request(ctx, "tuner", "getPresetInfo?band=common")
	if err != nil {
		return err
	}
	info, ok := resp["preset_info"].([]any)
	if !ok {
		return fmt.Errorf("%w: getPresetInfo did not return a preset_info field", ErrComms)
	}
	t.presetInfo = info
	return nil
}

func (t *TunerInfo) PresetBand(_ string, num int) (string, error) {
	if num < 1 || num > t.maxPresets {
		return "", fmt.Errorf("%w: preset %d is out of range", ErrLogic, num)
	}
	if t.presetSeparate {
		// TODO: select band from the request; dab is the only one in use.
		return "dab", nil
	}
	return "common", nil
}

// CDInfo is the cd group. Only play_time applies.
type CDInfo struct {
	playInfoBase
	playTime int
}

func newCDInfo(conn *Conn) *CDInfo {
	return &CDInfo{playInfoBase: playInfoBase{typ: PlayTypeCD, conn: conn}}
}

func (c *CDInfo) UpdatePlayTime(value any) error {
	t, err := asInt(value)
	if err != nil {
		return err
	}
	c.playTime = t
	return nil
}

// NetUSBInfo is the netusb group. The vendor emits one play_time stream for
// the whole group, so only one netusb source can play at a time per device.
type NetUSBInfo struct {
	playInfoBase
	maxPresets  int
	presetInfo  map[string]any
	playTime    int
	playMessage string
}

func newNetUSBInfo(ctx context.Context, conn *Conn, features *Features) (*NetUSBInfo, error) {
	n := &NetUSBInfo{playInfoBase: playInfoBase{typ: PlayTypeNetUSB, conn: conn}}

	var err error
	n.maxPresets, err = features.GetInt("netusb", "preset", "num")
	if err != nil {
		return nil, err
	}
	if err := n.RefreshPresetInfo(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *NetUSBInfo) RefreshPresetInfo(ctx context.Context) error {
	info, err := n.conn.Request(ctx, "netusb", "getPresetInfo")
	if err != nil {
		return err
	}
	n.presetInfo = info
	return nil
}

func (n *NetUSBInfo) UpdatePlayTime(value any) error {
	t, err := asInt(value)
	if err != nil {
		return err
	}
	n.playTime = t
	return nil
}

func (n *NetUSBInfo) UpdatePlayMessage(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: play_message value is %T, want string", ErrComms, value)
	}
	n.playMessage = s
	return nil
}

// PresetBand rejects any source but net_radio; the vendor stores netusb
// presets for net_radio only. The band argument is empty for netusb.
func (n *NetUSBInfo) PresetBand(sourceID string, num int) (string, error) {
	if sourceID != "net_radio" {
		return "", fmt.Errorf("%w: source %s does not have presets", ErrLogic, sourceID)
	}
	if num < 1 || num > n.maxPresets {
		return "", fmt.Errorf("%w: preset %d is out of range", ErrLogic, num)
	}
	return "", nil
}

// asInt accepts the integer shapes the vendor uses interchangeably in
// event payloads: JSON numbers and integers in string form.
func asInt(value any) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrComms, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: value is %T, want integer", ErrComms, value)
	}
}
